package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Listener consumes one queue or exchange and dispatches every delivery.
// The consume loop reconnects with exponential backoff for as long as the
// run context lives; a lost broker never takes the process down.
type Listener struct {
	cfg    *ListenerConfig
	logger observability.Logger

	mu     sync.Mutex
	sink   dispatcher.MessageSink
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an AMQP listener from a validated configuration
func New(cfg *ListenerConfig, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NewLogger("rabbit")
	}
	return &Listener{cfg: cfg, logger: logger}
}

// Name identifies the listener in logs
func (l *Listener) Name() string {
	if l.cfg.Queue != "" {
		return "rabbit:" + l.cfg.Queue
	}
	return "rabbit:" + l.cfg.Exchange
}

// Initialize validates the configuration and starts the consume loop. The
// first connection attempt happens in the background: a broker that is down
// at startup is a retry case, not a startup failure.
func (l *Listener) Initialize(ctx context.Context, sink dispatcher.MessageSink) error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.sink = sink
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.consumeLoop(ctx)
	}()
	return nil
}

// Shutdown stops the consume loop and waits for it to drain
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) consumeLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.RetryDelay
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		err := l.consumeOnce(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		delay := bo.NextBackOff()
		l.logger.Warn("amqp consumer disconnected, retrying", map[string]interface{}{
			"listener": l.Name(),
			"error":    fmt.Sprint(err),
			"delay":    delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// consumeOnce runs one broker session from dial to channel loss
func (l *Listener) consumeOnce(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, err := amqp.Dial(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(l.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	queueName, err := l.declare(ch)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(queueName, "", false, l.cfg.Exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	l.logger.Info("amqp consumer ready", map[string]interface{}{
		"listener": l.Name(),
		"queue":    queueName,
	})
	bo.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			l.handleDelivery(ctx, d)
		}
	}
}

// declare sets up the broker topology and returns the queue to consume.
// Queue mode declares the named queue; exchange mode declares the exchange
// and binds a fresh exclusive queue to it.
func (l *Listener) declare(ch *amqp.Channel) (string, error) {
	if l.cfg.Queue != "" {
		q, err := ch.QueueDeclare(l.cfg.Queue, l.cfg.Durable, l.cfg.AutoDelete, l.cfg.Exclusive, false, nil)
		if err != nil {
			return "", fmt.Errorf("declare queue %s: %w", l.cfg.Queue, err)
		}
		return q.Name, nil
	}

	if err := ch.ExchangeDeclare(l.cfg.Exchange, l.cfg.ExchangeType, l.cfg.Durable, l.cfg.AutoDelete, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", l.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare bound queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, l.cfg.RoutingKey, l.cfg.Exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind %s to %s: %w", q.Name, l.cfg.Exchange, err)
	}
	return q.Name, nil
}

// handleDelivery dispatches one delivery and settles it exactly once: ack
// on success, nack without requeue on any failure.
func (l *Listener) handleDelivery(ctx context.Context, d amqp.Delivery) {
	sessionID := d.MessageId
	msg := &dispatcher.Message{
		SessionID: sessionID,
		Type:      dispatcher.ContextAmqp,
		New: func(scope *di.Provider) (dispatcher.Context, error) {
			return dispatcher.NewAmqpContext(sessionID, d.Body, d.Exchange, d.RoutingKey,
				d.DeliveryTag, d.Redelivered, scope, ctx), nil
		},
	}

	if err := l.sink.OnMessage(ctx, msg); err != nil {
		if nackErr := d.Nack(false, false); nackErr != nil {
			l.logger.Error("nack failed", map[string]interface{}{
				"delivery_tag": d.DeliveryTag,
				"error":        nackErr.Error(),
			})
		}
		return
	}
	if err := d.Ack(false); err != nil {
		l.logger.Error("ack failed", map[string]interface{}{
			"delivery_tag": d.DeliveryTag,
			"error":        err.Error(),
		})
	}
}
