package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BioHazard786/warpcall/internal/iceservers"
	"github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultDomain   = "warpcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "warpcall.qzz.io" // TURN host, without scheme or port
	DefaultTURNUser = "warpcall"
	DefaultTURNPass = "warpcall-secret"
)

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string

	// ServerURL is the signaling websocket endpoint. Defaults to one
	// constructed from domain.
	ServerURL string

	// ICEServersURL, when set, is fetched for the ICE server list instead
	// of using the STUN/TURN settings below.
	ICEServersURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts the engine to TURN relay candidates.
	ForceRelay bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain        string
	ServerURL     string
	ICEServersURL string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	serverURL := pick(opts.ServerURL, "SERVER_URL", fmt.Sprintf("wss://%s/ws", domain))
	if u, err := url.Parse(serverURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid server URL %q: want ws:// or wss://", serverURL)
	}

	iceURL := pick(opts.ICEServersURL, "ICE_SERVERS_URL", "")
	if iceURL != "" {
		if u, err := url.Parse(iceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid ICE servers URL %q", iceURL)
		}
	}

	forceRelay := opts.ForceRelay
	if !forceRelay {
		if v := os.Getenv("FORCE_RELAY"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid FORCE_RELAY %q: %w", v, err)
			}
			forceRelay = b
		}
	}

	return &Config{
		Domain:        domain,
		ServerURL:     serverURL,
		ICEServersURL: iceURL,
		STUNServer:    pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:    pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:      pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:      pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		ForceRelay:    forceRelay,
	}, nil
}

// pick returns flag, else the env variable, else def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// GetCallLink returns the shareable URL for a call ID
func (c *Config) GetCallLink(callID string) string {
	return fmt.Sprintf("https://%s/c/%s", c.Domain, callID)
}

// ParseCallID accepts a bare call id or a call link and returns the id.
func ParseCallID(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("empty call id")
	}
	if !strings.Contains(arg, "://") {
		return arg, nil
	}
	u, err := url.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid call link: %w", err)
	}
	id, ok := strings.CutPrefix(strings.TrimSuffix(u.Path, "/"), "/c/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid call link %q", arg)
	}
	return id, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	return TURNURLs(c.TURNServer)
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers builds the static ICE server list from the STUN/TURN settings.
func (c *Config) ICEServers() []webrtc.ICEServer {
	return buildICEServers(c.GetSTUNServers(), c.GetTURNServers(), c.TURNUser, c.TURNPass)
}

// ICEProvider fetches from ICEServersURL when set, otherwise serves the
// static STUN/TURN list.
func (c *Config) ICEProvider() iceservers.Provider {
	if c.ICEServersURL != "" {
		return iceservers.Remote(c.ICEServersURL, nil)
	}
	return iceservers.Static(c.ICEServers())
}

// TURNURLs expands a TURN host into udp, tcp and tls URLs.
func TURNURLs(host string) []string {
	if host == "" {
		return nil
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

func buildICEServers(stun, turn []string, user, pass string) []webrtc.ICEServer {
	var list []webrtc.ICEServer
	if len(stun) > 0 {
		list = append(list, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		list = append(list, webrtc.ICEServer{
			URLs:       turn,
			Username:   user,
			Credential: pass,
		})
	}
	return list
}
