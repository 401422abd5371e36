// Package rabbitmq provides the AMQP producer connector. Producers are
// registered per configuration tag; the broker connection is made on first
// publish and re-established transparently after a loss.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Settings describes one producer tag. Exactly one of Queue or Exchange
// must be set: queue mode publishes straight to a queue through the default
// exchange, exchange mode publishes to a named exchange with a routing key.
type Settings struct {
	URL            string        `mapstructure:"url"`
	Queue          string        `mapstructure:"queue"`
	Exchange       string        `mapstructure:"exchange"`
	ExchangeType   string        `mapstructure:"exchange_type"`
	RoutingKey     string        `mapstructure:"routing_key"`
	Durable        bool          `mapstructure:"durable"`
	AutoDelete     bool          `mapstructure:"auto_delete"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Validate enforces the queue/exchange exclusivity and fills defaults
func (s *Settings) Validate(tag string) error {
	key := config.KeyRabbitMQ + "." + tag
	if s.URL == "" {
		return edgeerr.NewConfigError(key, "url is required")
	}
	if (s.Queue == "") == (s.Exchange == "") {
		return edgeerr.NewConfigError(key, "exactly one of queue and exchange must be set")
	}
	if s.Queue != "" && s.RoutingKey != "" {
		return edgeerr.NewConfigError(key, "routing_key is only valid with an exchange")
	}
	if s.ExchangeType == "" {
		s.ExchangeType = "topic"
	}
	if s.PublishTimeout <= 0 {
		s.PublishTimeout = 5 * time.Second
	}
	return nil
}

// Producer publishes JSON messages for one configuration tag
type Producer struct {
	tag      string
	settings Settings
	logger   observability.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a producer from the options view anchored at the tag
func New(tag string, opts *config.Options, logger observability.Logger) (*Producer, error) {
	if opts == nil || opts.IsEmpty() {
		return nil, edgeerr.NewConfigError(config.KeyRabbitMQ+"."+tag, "tag not configured")
	}
	var settings Settings
	if err := opts.Unmarshal(&settings); err != nil {
		return nil, edgeerr.NewConfigError(config.KeyRabbitMQ+"."+tag, "%v", err)
	}
	if err := settings.Validate(tag); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("rabbitmq")
	}
	return &Producer{tag: tag, settings: settings, logger: logger.With(map[string]interface{}{"tag": tag})}, nil
}

// Tag returns the configuration tag this producer was built from
func (p *Producer) Tag() string { return p.tag }

// Publish JSON-encodes v and publishes it. In exchange mode the routing key
// argument selects the binding, defaulting to the configured routing_key
// when omitted; in queue mode it must be omitted.
func (p *Producer) Publish(ctx context.Context, v interface{}, routingKey ...string) error {
	if p.settings.Queue != "" && len(routingKey) > 0 {
		return fmt.Errorf("producer %s publishes to a queue, routing key %q not allowed", p.tag, routingKey[0])
	}
	if len(routingKey) > 1 {
		return fmt.Errorf("at most one routing key allowed")
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	exchange, key := p.route(routingKey)

	pubCtx, cancel := context.WithTimeout(ctx, p.settings.PublishTimeout)
	defer cancel()

	err = p.publishOnce(pubCtx, exchange, key, body)
	if err == nil {
		return nil
	}

	// One reconnect-and-retry covers a stale channel after a broker restart
	p.reset()
	if err := p.publishOnce(pubCtx, exchange, key, body); err != nil {
		return fmt.Errorf("publish via %s: %w", p.tag, err)
	}
	return nil
}

// route resolves the exchange and routing key for one publish. Queue mode
// targets the queue through the default exchange; exchange mode uses the
// explicit key when given and the configured routing_key otherwise.
func (p *Producer) route(routingKey []string) (string, string) {
	if p.settings.Exchange == "" {
		return "", p.settings.Queue
	}
	key := p.settings.RoutingKey
	if len(routingKey) == 1 {
		key = routingKey[0]
	}
	return p.settings.Exchange, key
}

func (p *Producer) publishOnce(ctx context.Context, exchange, key string, body []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	deliveryMode := amqp.Transient
	if p.settings.Durable {
		deliveryMode = amqp.Persistent
	}
	return ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    deliveryMode,
		Timestamp:       time.Now(),
		Body:            body,
	})
}

// channel returns the live channel, dialing and declaring on first use
func (p *Producer) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.settings.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}

	if p.settings.Queue != "" {
		if _, err := ch.QueueDeclare(p.settings.Queue, p.settings.Durable, p.settings.AutoDelete, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", p.settings.Queue, err)
		}
	} else {
		if err := ch.ExchangeDeclare(p.settings.Exchange, p.settings.ExchangeType, p.settings.Durable, p.settings.AutoDelete, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", p.settings.Exchange, err)
		}
	}

	p.logger.Info("producer connected", nil)
	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Producer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close tears down the broker connection if one was ever made
func (p *Producer) Close() error {
	p.reset()
	return nil
}
