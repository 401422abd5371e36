// Package rabbit implements the AMQP listener: a resilient consumer that
// turns broker deliveries into dispatched messages with exactly one ack or
// nack per delivery.
package rabbit

import (
	"time"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// ListenerConfig describes one AMQP consumer. Exactly one of Queue or
// Exchange must be set: queue mode consumes from a named queue, exchange
// mode declares the exchange and binds an exclusive queue to it.
type ListenerConfig struct {
	URL          string        `mapstructure:"url"`
	Queue        string        `mapstructure:"queue"`
	Exchange     string        `mapstructure:"exchange"`
	ExchangeType string        `mapstructure:"exchange_type"`
	RoutingKey   string        `mapstructure:"routing_key"`
	Durable      bool          `mapstructure:"durable"`
	AutoDelete   bool          `mapstructure:"auto_delete"`
	Exclusive    bool          `mapstructure:"exclusive"`
	Prefetch     int           `mapstructure:"prefetch"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// Validate enforces the queue/exchange exclusivity and fills defaults
func (c *ListenerConfig) Validate() error {
	if c.URL == "" {
		return edgeerr.NewConfigError(config.KeyRabbit, "url is required")
	}
	if (c.Queue == "") == (c.Exchange == "") {
		return edgeerr.NewConfigError(config.KeyRabbit, "exactly one of queue and exchange must be set")
	}
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	return nil
}

// ParseConfigs reads the rabbit key from the tree. The key holds either one
// consumer mapping or a list of them.
func ParseConfigs(tree *config.Tree) ([]*ListenerConfig, error) {
	raw := tree.Get(config.KeyRabbit)
	if raw == nil {
		return nil, nil
	}

	var cfgs []*ListenerConfig
	switch raw.(type) {
	case []interface{}:
		if err := tree.UnmarshalKey(config.KeyRabbit, &cfgs); err != nil {
			return nil, edgeerr.NewConfigError(config.KeyRabbit, "%v", err)
		}
	default:
		single := &ListenerConfig{}
		if err := tree.UnmarshalKey(config.KeyRabbit, single); err != nil {
			return nil, edgeerr.NewConfigError(config.KeyRabbit, "%v", err)
		}
		cfgs = []*ListenerConfig{single}
	}

	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return cfgs, nil
}
