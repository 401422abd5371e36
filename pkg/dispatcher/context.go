// Package dispatcher implements the core runtime: typed message contexts,
// the predicate router, and the dispatcher that fans messages from every
// listener into one processing pipeline with a DI scope per message.
package dispatcher

import (
	"context"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
)

// ContextType classifies the envelope a listener produced
type ContextType string

// Context types
const (
	ContextRESTful      ContextType = "restful"
	ContextWeb          ContextType = "web"
	ContextSocket       ContextType = "socket"
	ContextWebSocket    ContextType = "websocket"
	ContextAmqp         ContextType = "amqp"
	ContextClientSource ContextType = "client_source"
	ContextServerSource ContextType = "server_source"
)

// Context is the per-message envelope shared by all concrete types
type Context interface {
	// Type returns the concrete context type
	Type() ContextType
	// SessionID identifies the originating connection or delivery
	SessionID() string
	// URL is the request path or routing key the router classifies on
	URL() string
	// URLSegments holds the captures of the matched URL pattern
	URLSegments() map[string]string
	// SetURLSegment stores one capture; called by the Url predicate
	SetURLSegment(name, value string)
	// Value looks up a routable value by name (URL segments first)
	Value(name string) (string, bool)
	// Services is the DI scope created for this message
	Services() *di.Provider
	// Done returns the cancellation context sourced from the connection
	Done() context.Context
}

// BaseContext carries the fields every concrete context shares. Concrete
// types embed it and add their request/response views.
type BaseContext struct {
	ctxType   ContextType
	sessionID string
	url       string
	segments  map[string]string
	services  *di.Provider
	cancelCtx context.Context
}

// NewBaseContext builds the shared part of a concrete context
func NewBaseContext(ctxType ContextType, sessionID, url string, services *di.Provider, cancelCtx context.Context) BaseContext {
	if cancelCtx == nil {
		cancelCtx = context.Background()
	}
	return BaseContext{
		ctxType:   ctxType,
		sessionID: sessionID,
		url:       url,
		segments:  make(map[string]string),
		services:  services,
		cancelCtx: cancelCtx,
	}
}

// Type returns the concrete context type
func (c *BaseContext) Type() ContextType { return c.ctxType }

// SessionID identifies the originating connection or delivery
func (c *BaseContext) SessionID() string { return c.sessionID }

// URL is the request path or routing key
func (c *BaseContext) URL() string { return c.url }

// URLSegments holds the captures of the matched URL pattern
func (c *BaseContext) URLSegments() map[string]string { return c.segments }

// SetURLSegment stores one capture
func (c *BaseContext) SetURLSegment(name, value string) { c.segments[name] = value }

// Value looks up a URL segment by name
func (c *BaseContext) Value(name string) (string, bool) {
	v, ok := c.segments[name]
	return v, ok
}

// Services is the DI scope created for this message
func (c *BaseContext) Services() *di.Provider { return c.services }

// Done returns the cancellation context sourced from the connection
func (c *BaseContext) Done() context.Context { return c.cancelCtx }
