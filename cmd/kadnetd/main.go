// Command kadnetd runs one DHT transport-core node: it opens the TCP and
// UDP listeners peers dial into, wires up the optional relay broker and
// seed-list store, and serves the admin HTTP surface. It is a demo node,
// not a DHT implementation — the routing-table algorithm above this
// transport core is out of scope (spec.md non-goals).
//
// Grounded on the teacher's cmd/omnicloud/main.go: config load, start
// every subsystem in its own goroutine, then block on an interrupt
// signal and shut down with a bounded context. The self-upgrade re-exec
// block, the BitTorrent/tracker/DCP-scanner wiring, and the client-sync
// registration flow have no transport-core analogue and are dropped.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brineshore/kadnet/internal/api"
	"github.com/brineshore/kadnet/internal/bootstrap"
	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/config"
	"github.com/brineshore/kadnet/internal/introspect"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/rcon"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/sign"
	"github.com/brineshore/kadnet/internal/transport"
	"github.com/brineshore/kadnet/internal/transportlog"
)

func main() {
	configPathFlag := flag.String("config", "", "path to a kadnetd config file (key=value)")
	poolTCPFlag := flag.Int("pool-tcp", 256, "channel pool TCP capacity")
	poolUDPFlag := flag.Int("pool-udp", 256, "channel pool UDP capacity")
	bootstrapDSNFlag := flag.String("bootstrap-dsn", os.Getenv("KADNETD_BOOTSTRAP_DSN"), "optional postgres DSN for the seed-peer/failure-log store")
	flag.Parse()

	log.Printf("starting kadnetd...")

	workDir, _ := os.Getwd()
	transportlog.Init(workDir)

	configPath := *configPathFlag
	if configPath == "" {
		candidate := filepath.Join(workDir, "kadnet.config")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("configuration loaded: listen=%s tcp=%d udp=%d relay_enabled=%v api=%d",
		cfg.ListenIP, cfg.TCPPort, cfg.UDPPort, cfg.RelayEnabled, cfg.APIPort)

	var relayWatcher *config.RelayWatcher
	if cfg.RelayListFile != "" {
		relayWatcher, err = config.WatchRelayList(cfg.RelayListFile)
		if err != nil {
			log.Printf("warning: failed to watch relay list %s: %v (falling back to static relays)", cfg.RelayListFile, err)
		} else {
			defer relayWatcher.Stop()
		}
	}

	local, err := newLocalIdentity(cfg)
	if err != nil {
		log.Fatalf("failed to build local identity: %v", err)
	}
	log.Printf("local peer id: %x", local.PeerID)

	pool := channelpool.NewPool(*poolTCPFlag, *poolUDPFlag)
	reg := registry.NewWithRCONCacheSize(cfg.RCONCacheSize)
	signer := loadSigner(cfg)

	t := transport.New(local, pool, reg, signer, transport.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		IdleTCP:        cfg.IdleTCP,
		IdleUDP:        cfg.IdleUDP,
		HolePunchN:     cfg.HolePunchN,
	})

	var store *bootstrap.Store
	if *bootstrapDSNFlag != "" {
		store, err = bootstrap.Connect(*bootstrapDSNFlag)
		if err != nil {
			log.Printf("warning: bootstrap store unavailable: %v (continuing without persistence)", err)
		} else {
			defer store.Close()
			bootstrap.SubscribeFailures(store, t)
		}
	}

	var broker *rcon.Broker
	var relayListener net.Listener
	if cfg.RelayEnabled {
		broker = rcon.NewBroker()
		t.SetBroker(broker)

		relayListener, err = net.Listen("tcp", addrFor(cfg.ListenIP, cfg.RelayPort))
		if err != nil {
			log.Fatalf("failed to listen for relay control connections on port %d: %v", cfg.RelayPort, err)
		}
		go serveControlConns(relayListener, broker)
		log.Printf("relay broker listening on %s", relayListener.Addr())
	}

	var rconClients []*rcon.ClientConn
	for _, relayAddr := range relayList(cfg, relayWatcher) {
		rconClients = append(rconClients, rcon.NewClientConn(relayAddr, fmtPeerIDHex(local), func(requesterAddr string, messageID uint32) {
			handleBackdialRequest(t, requesterAddr, messageID)
		}))
	}
	defer func() {
		for _, c := range rconClients {
			c.Stop()
		}
	}()

	hub := introspect.NewHub()
	go hub.Run()
	introspect.Subscribe(hub, t)

	apiServer := api.NewServer(t, hub, cfg.APIPort)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
		}
	}()
	log.Printf("admin HTTP surface listening on :%d", cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tcpListener, err := net.Listen("tcp", addrFor(cfg.ListenIP, cfg.TCPPort))
	if err != nil {
		log.Fatalf("failed to listen on tcp %d: %v", cfg.TCPPort, err)
	}
	go serveTCP(ctx, tcpListener, t)
	log.Printf("tcp listener on %s", tcpListener.Addr())

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.ListenIP), Port: cfg.UDPPort})
	if err != nil {
		log.Fatalf("failed to listen on udp %d: %v", cfg.UDPPort, err)
	}
	go serveUDP(ctx, udpConn, t)
	log.Printf("udp listener on %s", udpConn.LocalAddr())

	log.Println("kadnetd is running")
	log.Println("press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping kadnetd...")

	cancel()
	tcpListener.Close()
	udpConn.Close()
	if relayListener != nil {
		relayListener.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down api server: %v", err)
	}

	log.Println("kadnetd stopped")
}

func addrFor(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// newLocalIdentity mints a random peer id for this node. Real deployments
// would persist this across restarts; that persistence is out of scope
// here (spec.md's Open Question on identity storage is left to callers).
func newLocalIdentity(cfg *config.Config) (peer.Address, error) {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		return peer.Address{}, err
	}
	sock := peer.NewSocketAddress(net.ParseIP(cfg.ListenIP), cfg.TCPPort, cfg.UDPPort)
	return peer.New(id, sock, peer.Flags{}), nil
}

// loadSigner builds the signature factory handed to transport.New. A
// SigningKeyFile is a hex-encoded ed25519 private key (64 bytes);
// wiring in sign.NoopFactory instead is a deliberate deployment choice
// per internal/sign's package doc, so the fallback is always logged
// rather than happening silently.
func loadSigner(cfg *config.Config) sign.Factory {
	if cfg.SigningKeyFile == "" {
		log.Printf("no signing_key_file configured: running with sign.NoopFactory (outgoing messages are unsigned)")
		return sign.NoopFactory{}
	}

	raw, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		log.Printf("warning: failed to read signing_key_file %s: %v (falling back to sign.NoopFactory)", cfg.SigningKeyFile, err)
		return sign.NoopFactory{}
	}

	priv, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		log.Printf("warning: signing_key_file %s is not valid hex: %v (falling back to sign.NoopFactory)", cfg.SigningKeyFile, err)
		return sign.NoopFactory{}
	}

	if len(priv) != ed25519.PrivateKeySize {
		log.Printf("warning: signing_key_file %s must decode to %d bytes, got %d (falling back to sign.NoopFactory)",
			cfg.SigningKeyFile, ed25519.PrivateKeySize, len(priv))
		return sign.NoopFactory{}
	}

	key := ed25519.PrivateKey(priv)
	factory, err := sign.NewEd25519Factory(key, key.Public().(ed25519.PublicKey))
	if err != nil {
		log.Printf("warning: invalid signing key in %s: %v (falling back to sign.NoopFactory)", cfg.SigningKeyFile, err)
		return sign.NoopFactory{}
	}

	log.Printf("loaded ed25519 signing key from %s", cfg.SigningKeyFile)
	return factory
}

func relayList(cfg *config.Config, w *config.RelayWatcher) []string {
	if w != nil {
		return w.Relays()
	}
	return cfg.Relays
}

func fmtPeerIDHex(local peer.Address) string {
	return hex.EncodeToString(local.PeerID[:])
}

// serveControlConns accepts inbound relay control connections (peers
// registering to be relayed through this node) until listener closes.
func serveControlConns(listener net.Listener, broker *rcon.Broker) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go broker.HandleControlConn(conn)
	}
}

// serveTCP accepts inbound TCP connections — direct sends, RCON requests
// addressed to this node's broker, and back-dials answering an RCON
// request this node issued — and hands each to the transport core's
// dispatcher.
func serveTCP(ctx context.Context, listener net.Listener, t *transport.Transport) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				transportlog.Printf("kadnetd: tcp accept error: %v", err)
				continue
			}
		}
		ch := channelpool.WrapTCP(conn)
		go t.DispatchInbound(ctx, ch, onInboundRequest(t))
	}
}

// serveUDP reads inbound datagrams off the node's single listening UDP
// socket. Since that socket is unconnected, each datagram is handed to
// the dispatcher through a fresh channel dialed back to the sender,
// mirroring the direct sender's own per-send UDP dial rather than
// reusing the listening socket for replies.
func serveUDP(ctx context.Context, conn *net.UDPConn, t *transport.Transport) {
	buf := make([]byte, 65507)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				transportlog.Printf("kadnetd: udp read error: %v", err)
				continue
			}
		}

		frame := append([]byte(nil), buf[:n]...)
		go handleInboundDatagram(ctx, t, frame, remote.String())
	}
}

func handleInboundDatagram(ctx context.Context, t *transport.Transport, frame []byte, remoteAddr string) {
	m, err := message.DecodeDatagram(frame)
	if err != nil {
		transportlog.Printf("kadnetd: dropping malformed udp datagram from %s: %v", remoteAddr, err)
		return
	}

	if t.Registry().Deliver(m) {
		return
	}

	replyCh, err := channelpool.DialUDP(ctx, "", remoteAddr)
	if err != nil {
		transportlog.Printf("kadnetd: failed to dial back %s: %v", remoteAddr, err)
		return
	}
	defer replyCh.Close()
	onInboundRequest(t)(m, replyCh)
}

// onInboundRequest answers a request this node didn't itself send: PING
// and NEIGHBOR both just acknowledge, since the routing table above this
// transport core is out of scope.
func onInboundRequest(t *transport.Transport) func(message.Message, *channelpool.Channel) {
	return func(req message.Message, ch *channelpool.Channel) {
		reply := req
		reply.Sender = t.Local()
		reply.Recipient = req.Sender
		reply.Type = message.TypeOK

		if err := ch.Write(reply); err != nil {
			transportlog.Printf("kadnetd: failed to answer request id=%d: %v", req.ID, err)
		}
	}
}

// handleBackdialRequest is invoked when a relay this node registered
// with asks it to dial back to a requester (spec §4.3 step 4). It dials
// out, writes the correlating message id as the first frame, then hands
// the connection to the dispatcher, which answers the original request
// the requester then sends over it.
func handleBackdialRequest(t *transport.Transport, requesterAddr string, messageID uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := channelpool.DialTCP(ctx, requesterAddr)
	if err != nil {
		transportlog.Printf("kadnetd: backdial to %s failed: %v", requesterAddr, err)
		return
	}

	backdial := message.Message{
		ID:        messageID,
		Command:   message.CommandRCON,
		Type:      message.TypeRequest2,
		Sender:    t.Local(),
	}
	if err := ch.Write(backdial); err != nil {
		transportlog.Printf("kadnetd: backdial write to %s failed: %v", requesterAddr, err)
		ch.Close()
		return
	}

	go t.DispatchInbound(context.Background(), ch, onInboundRequest(t))
}
