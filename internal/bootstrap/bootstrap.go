// Package bootstrap is an optional Postgres-backed seed-list and
// peer-failure log: it persists the PeerAddress rows a node starts
// bootstrapping from, and records the peer-status reporter's failure
// events (spec §4.10) for offline inspection. Entirely optional — a
// node started with no DSN runs in-memory only — so nothing in
// internal/transport's hot send path depends on it.
//
// Grounded on the teacher's internal/db/db.go: the same
// sql.Open("postgres", ...) + Ping-on-connect + connection-pool-sizing
// shape, repointed at a seed-list/failure-log schema instead of the
// DCP/torrent tables.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	_ "github.com/lib/pq"

	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/transport"
	"github.com/brineshore/kadnet/internal/transportlog"
)

// Store wraps a Postgres connection holding the seed-peer and
// peer-failure tables.
type Store struct {
	db *sql.DB
}

// Connect opens dsn, pings it, and ensures the schema exists.
func Connect(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	transportlog.Printf("bootstrap: connected to seed/failure-log database")
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS seed_peers (
			peer_id        BYTEA PRIMARY KEY,
			ip             TEXT NOT NULL,
			tcp_port       INTEGER NOT NULL,
			udp_port       INTEGER NOT NULL,
			firewalled_tcp BOOLEAN NOT NULL DEFAULT FALSE,
			firewalled_udp BOOLEAN NOT NULL DEFAULT FALSE,
			relayed        BOOLEAN NOT NULL DEFAULT FALSE,
			added_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS peer_failures (
			id           SERIAL PRIMARY KEY,
			peer_id      BYTEA NOT NULL,
			ip           TEXT NOT NULL,
			tcp_port     INTEGER NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			reason       TEXT NOT NULL
		);
	`)
	return err
}

// AddSeedPeer upserts p into the seed-peer table.
func (s *Store) AddSeedPeer(ctx context.Context, p peer.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seed_peers (peer_id, ip, tcp_port, udp_port, firewalled_tcp, firewalled_udp, relayed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (peer_id) DO UPDATE SET
			ip = EXCLUDED.ip, tcp_port = EXCLUDED.tcp_port, udp_port = EXCLUDED.udp_port,
			firewalled_tcp = EXCLUDED.firewalled_tcp, firewalled_udp = EXCLUDED.firewalled_udp,
			relayed = EXCLUDED.relayed
	`, p.PeerID[:], p.Primary.IP.String(), p.Primary.TCPPort, p.Primary.UDPPort,
		p.Flags.FirewalledTCP, p.Flags.FirewalledUDP, p.Flags.Relayed)
	return err
}

// SeedPeers loads every stored seed peer, for a node's initial
// bootstrap set.
func (s *Store) SeedPeers(ctx context.Context) ([]peer.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id, ip, tcp_port, udp_port, firewalled_tcp, firewalled_udp, relayed
		FROM seed_peers
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []peer.Address
	for rows.Next() {
		var idBytes []byte
		var ip string
		var tcpPort, udpPort int
		var fwTCP, fwUDP, relayed bool
		if err := rows.Scan(&idBytes, &ip, &tcpPort, &udpPort, &fwTCP, &fwUDP, &relayed); err != nil {
			return nil, err
		}
		var id [20]byte
		copy(id[:], idBytes)
		sock := peer.NewSocketAddress(net.ParseIP(ip), tcpPort, udpPort)
		out = append(out, peer.New(id, sock, peer.Flags{
			FirewalledTCP: fwTCP, FirewalledUDP: fwUDP, Relayed: relayed,
		}))
	}
	return out, rows.Err()
}

// RecordFailure appends a peer-failure row, called from the peer-status
// reporter's Failed events (spec §4.10).
func (s *Store) RecordFailure(ctx context.Context, p peer.Address, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peer_failures (peer_id, ip, tcp_port, reason) VALUES ($1, $2, $3, $4)
	`, p.PeerID[:], p.Primary.IP.String(), p.Primary.TCPPort, reason)
	return err
}

// SubscribeFailures wires t's peer-status listener to RecordFailure,
// logging (but not propagating) any write error since this is an
// offline-inspection aid, not part of the send path.
func SubscribeFailures(s *Store, t *transport.Transport) {
	t.AddPeerStatusListener(func(ev transport.PeerEvent) {
		if !ev.Failed {
			return
		}
		if err := s.RecordFailure(context.Background(), ev.Peer, "send failure"); err != nil {
			transportlog.Printf("bootstrap: failed to record peer failure: %v", err)
		}
	})
}
