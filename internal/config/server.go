package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"
)

// Server defaults
const (
	DefaultAddr    = ":8080"
	DefaultDBPath  = "warpcall.db"
	DefaultCallTTL = 2 * time.Hour
)

// ServerConfig holds signaling server configuration.
type ServerConfig struct {
	Addr   string
	DBPath string

	// CallTTL bounds how long a call row lives before the sweeper
	// deletes it.
	CallTTL time.Duration

	// ReapOnDisconnect deletes the calls of a connection when it drops.
	ReapOnDisconnect bool

	// ICEFile is an optional JSON ICE server list served at /ice-servers.
	// Without it the STUN/TURN settings are served.
	ICEFile string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// ServerOptions carries CLI flag overrides. Pointer fields distinguish an
// unset flag from an explicit zero value.
type ServerOptions struct {
	Addr             string
	DBPath           string
	CallTTL          time.Duration
	ReapOnDisconnect *bool
	ICEFile          string
	STUNServer       string
	TURNServer       string
	TURNUser         string
	TURNPass         string
}

// LoadServer reads server configuration with the same priority as Load:
// flags, then environment, then defaults.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Addr:       pick(opts.Addr, "ADDR", DefaultAddr),
		DBPath:     pick(opts.DBPath, "DB_PATH", DefaultDBPath),
		ICEFile:    pick(opts.ICEFile, "ICE_FILE", ""),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
	}

	cfg.CallTTL = opts.CallTTL
	if cfg.CallTTL == 0 {
		cfg.CallTTL = DefaultCallTTL
		if v := os.Getenv("CALL_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid CALL_TTL %q: %w", v, err)
			}
			cfg.CallTTL = d
		}
	}

	cfg.ReapOnDisconnect = true
	switch {
	case opts.ReapOnDisconnect != nil:
		cfg.ReapOnDisconnect = *opts.ReapOnDisconnect
	case os.Getenv("REAP_ON_DISCONNECT") != "":
		b, err := strconv.ParseBool(os.Getenv("REAP_ON_DISCONNECT"))
		if err != nil {
			return nil, fmt.Errorf("invalid REAP_ON_DISCONNECT: %w", err)
		}
		cfg.ReapOnDisconnect = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *ServerConfig) Validate() error {
	_, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Addr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	if c.CallTTL <= 0 {
		return fmt.Errorf("call TTL must be positive, got %v", c.CallTTL)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// ICEServers is the list served when no ICE file is configured.
func (c *ServerConfig) ICEServers() []webrtc.ICEServer {
	var stun []string
	if c.STUNServer != "" {
		stun = []string{c.STUNServer}
	}
	return buildICEServers(stun, TURNURLs(c.TURNServer), c.TURNUser, c.TURNPass)
}
