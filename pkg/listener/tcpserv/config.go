package tcpserv

import (
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// Config holds the TCP listener ports. Any subset may be set; at least one
// must be.
type Config struct {
	// Receiver carries framed requests answered with framed responses
	Receiver string `mapstructure:"receiver"`
	// Sender carries server-initiated frames pushed through sessions
	Sender string `mapstructure:"sender"`
	// Endpoint hands each accepted connection's raw stream to a handler
	Endpoint string `mapstructure:"endpoint"`

	MaxFrameSize int `mapstructure:"max_frame_size"`
	SendBuffer   int `mapstructure:"send_buffer"`
}

// Validate checks that at least one port is configured
func (c *Config) Validate() error {
	if c.Receiver == "" && c.Sender == "" && c.Endpoint == "" {
		return edgeerr.NewConfigError(config.KeyReceiver, "no tcp port configured")
	}
	return nil
}

// ParseConfig reads the receiver, sender and endpoint keys from the tree
func ParseConfig(tree *config.Tree) (*Config, error) {
	cfg := &Config{
		Receiver:     tree.GetString(config.KeyReceiver),
		Sender:       tree.GetString(config.KeySender),
		Endpoint:     tree.GetString(config.KeyEndpoint),
		MaxFrameSize: DefaultMaxFrameSize,
		SendBuffer:   64,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
