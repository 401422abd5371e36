package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"unicode/utf8"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/sessions"
)

// SocketContext is the envelope for one framed TCP message. The handler
// reads the request buffer and fills the response buffer; the listener
// writes the response frame back on the same connection.
type SocketContext struct {
	BaseContext
	RequestBuffer  []byte
	responseBuffer []byte
}

// NewSocketContext builds a socket context for one frame
func NewSocketContext(sessionID string, frame []byte, services *di.Provider, cancelCtx context.Context) *SocketContext {
	return &SocketContext{
		BaseContext:   NewBaseContext(ContextSocket, sessionID, "", services, cancelCtx),
		RequestBuffer: frame,
	}
}

// Write appends to the response buffer
func (c *SocketContext) Write(data []byte) {
	c.responseBuffer = append(c.responseBuffer, data...)
}

// ResponseBuffer returns the bytes to frame back to the peer
func (c *SocketContext) ResponseBuffer() []byte { return c.responseBuffer }

// WebSocketContext is the envelope for one received WebSocket frame
type WebSocketContext struct {
	BaseContext
	// Session is the live connection the frame arrived on
	Session *sessions.Session
	// Manager is the process-wide session registry, for group sends
	Manager *sessions.Manager
	// Data is the raw frame payload
	Data []byte
	// IsText reports whether the frame was a text frame
	IsText bool
}

// NewWebSocketContext builds a context for one frame on a session
func NewWebSocketContext(session *sessions.Session, manager *sessions.Manager, url string, data []byte, isText bool, services *di.Provider, cancelCtx context.Context) *WebSocketContext {
	return &WebSocketContext{
		BaseContext: NewBaseContext(ContextWebSocket, session.ID, url, services, cancelCtx),
		Session:     session,
		Manager:     manager,
		Data:        data,
		IsText:      isText,
	}
}

// Text returns the frame payload decoded as UTF-8
func (c *WebSocketContext) Text() string { return string(c.Data) }

// IsValidText reports whether the payload is valid UTF-8
func (c *WebSocketContext) IsValidText() bool { return utf8.Valid(c.Data) }

// JSON decodes the frame payload into target
func (c *WebSocketContext) JSON(target interface{}) error {
	if err := json.Unmarshal(c.Data, target); err != nil {
		return &edgeerr.SchemaValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

// AmqpContext is the envelope for one AMQP delivery. Acknowledgement is
// the listener's job: a handler returning nil leads to exactly one ack, a
// handler returning an error to exactly one nack without requeue.
type AmqpContext struct {
	BaseContext
	// Body is the raw delivery payload
	Body []byte
	// Exchange the delivery arrived through (empty in queue mode)
	Exchange string
	// RoutingKey of the delivery
	RoutingKey string
	// DeliveryTag identifies the delivery on its channel
	DeliveryTag uint64
	// Redelivered reports broker redelivery
	Redelivered bool
}

// NewAmqpContext builds a context for one delivery
func NewAmqpContext(sessionID string, body []byte, exchange, routingKey string, deliveryTag uint64, redelivered bool, services *di.Provider, cancelCtx context.Context) *AmqpContext {
	return &AmqpContext{
		BaseContext: NewBaseContext(ContextAmqp, sessionID, routingKey, services, cancelCtx),
		Body:        body,
		Exchange:    exchange,
		RoutingKey:  routingKey,
		DeliveryTag: deliveryTag,
		Redelivered: redelivered,
	}
}

// JSON decodes the delivery payload into target
func (c *AmqpContext) JSON(target interface{}) error {
	if err := json.Unmarshal(c.Body, target); err != nil {
		return &edgeerr.SchemaValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

// StreamContext is the shared shape of the raw duplex channel carriers
type StreamContext struct {
	BaseContext
	// Stream is the bidirectional byte channel; the handler owns reads and
	// writes for the lifetime of the connection
	Stream io.ReadWriteCloser
}

// ClientSourceContext carries the client side of a raw duplex endpoint
type ClientSourceContext struct{ StreamContext }

// NewClientSourceContext builds a carrier for an outbound duplex channel
func NewClientSourceContext(sessionID string, stream io.ReadWriteCloser, services *di.Provider, cancelCtx context.Context) *ClientSourceContext {
	return &ClientSourceContext{StreamContext{
		BaseContext: NewBaseContext(ContextClientSource, sessionID, "", services, cancelCtx),
		Stream:      stream,
	}}
}

// ServerSourceContext carries the server side of a raw duplex endpoint
type ServerSourceContext struct{ StreamContext }

// NewServerSourceContext builds a carrier for an accepted duplex channel
func NewServerSourceContext(sessionID string, stream io.ReadWriteCloser, services *di.Provider, cancelCtx context.Context) *ServerSourceContext {
	return &ServerSourceContext{StreamContext{
		BaseContext: NewBaseContext(ContextServerSource, sessionID, "", services, cancelCtx),
		Stream:      stream,
	}}
}
