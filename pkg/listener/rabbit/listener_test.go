package rabbit

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
)

// fakeAcknowledger records settlement calls
type fakeAcknowledger struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func newAmqpDispatcher(t *testing.T, handler interface{}, predicates ...dispatcher.Predicate) *dispatcher.Dispatcher {
	t.Helper()
	d, err := dispatcher.New(config.NewTreeFromMap(nil), nil, nil)
	require.NoError(t, err)
	if handler != nil {
		require.NoError(t, d.RegisterAmqp(handler, predicates...))
	}
	return d
}

func TestDeliveryAckedOnSuccess(t *testing.T) {
	var seen []byte
	d := newAmqpDispatcher(t, func(c *dispatcher.AmqpContext) error {
		seen = c.Body
		return nil
	})
	l := New(&ListenerConfig{URL: "amqp://unused", Queue: "q"}, nil)
	l.sink = d

	ack := &fakeAcknowledger{}
	l.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"n":1}`),
		RoutingKey:   "events",
		DeliveryTag:  7,
	})

	assert.Equal(t, []byte(`{"n":1}`), seen)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestDeliveryNackedWithoutRequeueOnHandlerError(t *testing.T) {
	d := newAmqpDispatcher(t, func(c *dispatcher.AmqpContext) error {
		return assert.AnError
	})
	l := New(&ListenerConfig{URL: "amqp://unused", Queue: "q"}, nil)
	l.sink = d

	ack := &fakeAcknowledger{}
	l.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 8})

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeued, "poison messages are not requeued")
}

func TestDeliveryNackedWhenNoHandlerMatches(t *testing.T) {
	d := newAmqpDispatcher(t, nil)
	l := New(&ListenerConfig{URL: "amqp://unused", Queue: "q"}, nil)
	l.sink = d

	ack := &fakeAcknowledger{}
	l.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 9})

	assert.Equal(t, 1, ack.nacks)
}

func TestRoutingKeyDrivesPredicateMatch(t *testing.T) {
	var matched string
	d := newAmqpDispatcher(t, func(c *dispatcher.AmqpContext) error {
		matched = c.RoutingKey
		return nil
	}, dispatcher.Url("orders/:action"))
	l := New(&ListenerConfig{URL: "amqp://unused", Queue: "q"}, nil)
	l.sink = d

	ack := &fakeAcknowledger{}
	l.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		RoutingKey:   "orders/created",
	})

	assert.Equal(t, "orders/created", matched)
	assert.Equal(t, 1, ack.acks)
}

func TestListenerConfigValidation(t *testing.T) {
	err := (&ListenerConfig{URL: "amqp://x"}).Validate()
	assert.Error(t, err, "neither queue nor exchange")

	err = (&ListenerConfig{URL: "amqp://x", Queue: "q", Exchange: "e"}).Validate()
	assert.Error(t, err, "both queue and exchange")

	cfg := &ListenerConfig{URL: "amqp://x", Exchange: "e"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "topic", cfg.ExchangeType)
	assert.Equal(t, 10, cfg.Prefetch)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
}

func TestParseConfigs_SingleAndList(t *testing.T) {
	cfgs, err := ParseConfigs(config.NewTreeFromMap(map[string]interface{}{
		"rabbit": map[string]interface{}{"url": "amqp://x", "queue": "q1"},
	}))
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "q1", cfgs[0].Queue)

	cfgs, err = ParseConfigs(config.NewTreeFromMap(map[string]interface{}{
		"rabbit": []interface{}{
			map[string]interface{}{"url": "amqp://x", "queue": "q1"},
			map[string]interface{}{"url": "amqp://x", "exchange": "e1"},
		},
	}))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "e1", cfgs[1].Exchange)

	cfgs, err = ParseConfigs(config.NewTreeFromMap(nil))
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}
