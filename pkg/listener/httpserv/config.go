// Package httpserv implements the HTTP listener: a gin-based server that
// feeds RESTful and Web contexts into the dispatcher, serves a static
// prefix without dispatching, and promotes WebSocket upgrade requests into
// live sessions.
package httpserv

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// Config holds the HTTP listener configuration. The server key accepts
// either "host:port" or a mapping with url/port and optional TLS material.
type Config struct {
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`

	// StaticPrefix/StaticRoot serve files directly, bypassing the dispatcher
	StaticPrefix string `mapstructure:"static_prefix"`
	StaticRoot   string `mapstructure:"static_root"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// SendBuffer is the per-WebSocket-session outbound buffer size
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the bind address
func (c *Config) Addr() string {
	host := c.URL
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// TLSEnabled reports whether TLS material was configured
func (c *Config) TLSEnabled() bool { return c.SSLCert != "" || c.SSLKey != "" }

// Validate checks the configuration; TLS requested with unreadable files is
// a startup failure.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return edgeerr.NewConfigError(config.KeyServer, "port %d out of range", c.Port)
	}
	if c.TLSEnabled() {
		if c.SSLCert == "" || c.SSLKey == "" {
			return edgeerr.NewConfigError(config.KeyServer, "ssl_cert and ssl_key must both be set")
		}
		for _, path := range []string{c.SSLCert, c.SSLKey} {
			if _, err := os.Stat(path); err != nil {
				return edgeerr.NewConfigError(config.KeyServer, "tls file %s unreadable: %v", path, err)
			}
		}
	}
	return nil
}

// ParseConfig reads the server key from the configuration tree
func ParseConfig(tree *config.Tree) (*Config, error) {
	cfg := &Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		SendBuffer:   64,
	}
	raw := tree.Get(config.KeyServer)
	switch v := raw.(type) {
	case string:
		host, port, err := splitHostPort(v)
		if err != nil {
			return nil, edgeerr.NewConfigError(config.KeyServer, "%v", err)
		}
		cfg.URL = host
		cfg.Port = port
	default:
		if err := tree.UnmarshalKey(config.KeyServer, cfg); err != nil {
			return nil, edgeerr.NewConfigError(config.KeyServer, "%v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitHostPort(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("bad port in %q", addr)
	}
	return addr[:idx], port, nil
}
