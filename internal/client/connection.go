package client

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
)

const (
	DefaultServerURL = "ws://localhost:5309/ws"
	DefaultTimeout   = 15 * time.Second
)

type Connection struct {
	ServerURL   string
	Timeout     time.Duration
	Scope       string
	Environment string
	Reconnect   bool
	ConfigPath  string
	ContextName string
	Config      *cliconfig.Config
	Context     *cliconfig.Context
}

// ResolveConnection applies, in order of precedence:
// 1) flags (serverURL, timeout, contextName)
// 2) config file values
// 3) environment (LIVECON_SERVER)
// 4) defaults (ws://localhost:5309/ws, 15s)
func ResolveConnection(configPath, contextName, serverURL string, timeout time.Duration) (*Connection, error) {
	conn := &Connection{
		ConfigPath:  configPath,
		ContextName: contextName,
		ServerURL:   serverURL,
		Timeout:     timeout,
	}

	if conn.ConfigPath != "" {
		cfg, err := cliconfig.Load(conn.ConfigPath)
		if err != nil {
			return nil, err
		}
		conn.Config = cfg
	}

	if conn.Config != nil {
		ctx, _, err := conn.Config.Resolve(conn.ContextName)
		if err != nil {
			return nil, err
		}
		conn.Context = ctx
	}

	if conn.Context != nil {
		if conn.ServerURL == "" {
			conn.ServerURL = conn.Context.Server
		}
		conn.Scope = conn.Context.Scope
		conn.Environment = conn.Context.Environment
		conn.Reconnect = conn.Context.Reconnect
	}

	if conn.Timeout == 0 {
		conn.Timeout = conn.Context.Timeout()
	}
	if conn.Timeout == 0 {
		conn.Timeout = DefaultTimeout
	}

	if conn.ServerURL == "" {
		conn.ServerURL = os.Getenv("LIVECON_SERVER")
		if conn.ServerURL == "" {
			conn.ServerURL = DefaultServerURL
		}
	}

	normalized, err := normalizeServerURL(conn.ServerURL)
	if err != nil {
		return nil, err
	}
	conn.ServerURL = normalized
	return conn, nil
}

// normalizeServerURL accepts ws/wss URLs, http/https URLs (mapped to their
// websocket counterparts) and bare host:port (mapped to ws://host:port/ws).
func normalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("server url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url: host is required")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
