// Package config loads a node's runtime configuration: its listen
// addresses, the transport.Config timing knobs, the registry's RCON
// cache size, and its seed relay list. Grounded on the teacher's
// config.Load (internal/config/config.go): a defaults struct built in
// code, then overlaid by an optional key=value file, then by
// environment variables, in that precedence order.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds a node's full runtime configuration.
type Config struct {
	// Identity / listen addresses
	ListenIP  string
	TCPPort   int
	UDPPort   int
	RelayPort int // listening port for this node's own rcon.Broker, when RelayEnabled

	// transport.Config knobs (spec §4)
	ConnectTimeout time.Duration
	IdleTCP        time.Duration
	IdleUDP        time.Duration
	HolePunchN     int

	// RCONCacheSize bounds the registry's pending-backdial cache.
	RCONCacheSize int

	// Relays is the seed relay list this node registers with at startup
	// (one rcon.ClientConn per entry) so it can be reached through them.
	// RelayListFile, if set, is watched for live updates via
	// WatchRelayList.
	Relays        []string
	RelayListFile string

	// RelayEnabled marks this node as willing to run an rcon.Broker for
	// peers that register with it.
	RelayEnabled bool

	// HeartbeatInterval is how often an idle PeerConnection sends a
	// keepalive PING (channelpool.OpenPeerConnection).
	HeartbeatInterval time.Duration

	// APIPort is the admin HTTP surface's listening port.
	APIPort int

	// SigningKeyFile, if set, points at a file holding a hex-encoded
	// ed25519 private key that kadnetd loads into an
	// internal/sign.Ed25519Factory and hands to the transport core. Left
	// empty, the node runs with internal/sign.NoopFactory, which kadnetd
	// logs loudly on startup rather than defaulting to silently. The
	// transport core stores the factory but does not sign outgoing
	// messages with it.
	SigningKeyFile string
}

// Load reads configuration from configPath (ignored if empty or absent)
// and then environment variables, each overlaid on top of the defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		// Defaults
		ListenIP:  "0.0.0.0",
		TCPPort:   10868,
		UDPPort:   10868,
		RelayPort: 10866,

		ConnectTimeout: 5 * time.Second,
		IdleTCP:        5 * time.Second,
		IdleUDP:        2 * time.Second,
		HolePunchN:     3,

		RCONCacheSize: 1024,

		Relays:        nil,
		RelayListFile: "",
		RelayEnabled:  false,

		HeartbeatInterval: 30 * time.Second,

		APIPort: 10858,

		SigningKeyFile: "",
	}

	// Try to load from the config file if it exists
	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			// If the file doesn't exist, that's okay, we'll use defaults
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Override with environment variables
	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads key=value pairs from path.
func (cfg *Config) loadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		cfg.applyKV(key, value)
	}

	return scanner.Err()
}

// applyKV maps one config file key to its struct field. Shared between
// loadFromFile and loadFromEnv (env var names match the file keys).
func (cfg *Config) applyKV(key, value string) {
	switch key {
	case "listen_ip":
		cfg.ListenIP = value
	case "tcp_port":
		if port, err := strconv.Atoi(value); err == nil {
			cfg.TCPPort = port
		}
	case "udp_port":
		if port, err := strconv.Atoi(value); err == nil {
			cfg.UDPPort = port
		}
	case "relay_port":
		if port, err := strconv.Atoi(value); err == nil {
			cfg.RelayPort = port
		}
	case "relay_enabled":
		cfg.RelayEnabled = value == "true" || value == "1" || value == "yes"
	case "relays":
		cfg.Relays = splitRelayList(value)
	case "relay_list_file":
		cfg.RelayListFile = value
	case "connect_timeout_ms":
		if ms, err := strconv.Atoi(value); err == nil {
			cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
	case "idle_tcp_ms":
		if ms, err := strconv.Atoi(value); err == nil {
			cfg.IdleTCP = time.Duration(ms) * time.Millisecond
		}
	case "idle_udp_ms":
		if ms, err := strconv.Atoi(value); err == nil {
			cfg.IdleUDP = time.Duration(ms) * time.Millisecond
		}
	case "holepunch_n":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.HolePunchN = n
		}
	case "rcon_cache_size":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.RCONCacheSize = n
		}
	case "heartbeat_interval_ms":
		if ms, err := strconv.Atoi(value); err == nil {
			cfg.HeartbeatInterval = time.Duration(ms) * time.Millisecond
		}
	case "api_port":
		if port, err := strconv.Atoi(value); err == nil {
			cfg.APIPort = port
		}
	case "signing_key_file":
		cfg.SigningKeyFile = value
	}
}

// loadFromEnv overrides cfg fields from environment variables, using the
// same key names as the file format, upper-cased.
func (cfg *Config) loadFromEnv() {
	keys := []string{
		"listen_ip", "tcp_port", "udp_port", "relay_port", "relay_enabled",
		"relays", "relay_list_file", "connect_timeout_ms", "idle_tcp_ms",
		"idle_udp_ms", "holepunch_n", "rcon_cache_size", "heartbeat_interval_ms",
		"api_port", "signing_key_file",
	}
	for _, key := range keys {
		if v := os.Getenv(strings.ToUpper(key)); v != "" {
			cfg.applyKV(key, v)
		}
	}
}

func splitRelayList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cfg *Config) validate() error {
	if net.ParseIP(cfg.ListenIP) == nil {
		return fmt.Errorf("invalid listen_ip %q", cfg.ListenIP)
	}
	if cfg.HolePunchN <= 0 {
		return fmt.Errorf("holepunch_n must be positive, got %d", cfg.HolePunchN)
	}
	for _, r := range cfg.Relays {
		if _, _, err := net.SplitHostPort(r); err != nil {
			return fmt.Errorf("invalid relay address %q: %w", r, err)
		}
	}
	return nil
}
