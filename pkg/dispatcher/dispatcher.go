package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/sessions"
)

// MessageSink is the part of the dispatcher a listener talks to
type MessageSink interface {
	// OnMessage runs the per-message pipeline. The returned error tells the
	// listener what happened so it can take its transport-specific action
	// (nack, close); the context's response views are always left in a
	// flushable state.
	OnMessage(ctx context.Context, msg *Message) error
	// ClassifyURL maps a URL onto the context type its handler expects
	ClassifyURL(url string) ContextType
	// SessionManager is the process-wide WebSocket session registry
	SessionManager() *sessions.Manager
}

// Listener is a transport-specific accept loop producing messages
type Listener interface {
	// Name identifies the listener in logs
	Name() string
	// Initialize binds the transport and starts the accept loop in the
	// background. A bind failure is a startup error.
	Initialize(ctx context.Context, sink MessageSink) error
	// Shutdown stops accepting and drains the transport
	Shutdown(ctx context.Context) error
}

// Dispatcher owns the DI container, the router, the session manager, and
// the listener list, and runs the per-message pipeline.
type Dispatcher struct {
	logger         observability.Logger
	metrics        observability.MetricsClient
	services       *di.Provider
	sessionManager *sessions.Manager
	router         *Router
	cfg            *config.Tree

	mu         sync.Mutex
	handlers   map[ContextType][]*HandlerEntry
	typeOrder  []ContextType
	listeners  []Listener
	background []interface{}
}

// New creates a dispatcher over the given configuration tree. The core
// services (config tree, keyed Options views, logger, metrics, session
// manager, the dispatcher itself) are pre-registered in the root container.
func New(cfg *config.Tree, logger observability.Logger, metrics observability.MetricsClient) (*Dispatcher, error) {
	if logger == nil {
		logger = observability.NewLogger("dispatcher")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	var manual map[string][]string
	if cfg != nil && cfg.IsSet(config.KeyRouter) {
		if err := cfg.UnmarshalKey(config.KeyRouter, &manual); err != nil {
			return nil, edgeerr.NewConfigError(config.KeyRouter, "%v", err)
		}
	}
	router, err := NewRouter(manual)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		logger:         logger,
		metrics:        metrics,
		services:       di.NewProvider(),
		sessionManager: sessions.NewManager(logger.WithPrefix("sessions")),
		router:         router,
		cfg:            cfg,
		handlers:       make(map[ContextType][]*HandlerEntry),
	}

	d.services.SetOnChanged(router.MarkDirty)

	di.RegisterInstance[observability.Logger](d.services, logger)
	di.RegisterInstance[observability.MetricsClient](d.services, metrics)
	di.RegisterInstance[*sessions.Manager](d.services, d.sessionManager)
	di.RegisterInstance[*Dispatcher](d.services, d)
	if cfg != nil {
		di.RegisterInstance[*config.Tree](d.services, cfg)
		di.RegisterKeyed[*config.Options](d.services, di.Singleton,
			func(sp *di.Provider, keys []string) (*config.Options, error) {
				return cfg.Options(strings.Join(keys, ".")), nil
			})
	}
	return d, nil
}

// Services exposes the root container
func (d *Dispatcher) Services() *di.Provider { return d.services }

// SessionManager is the process-wide WebSocket session registry
func (d *Dispatcher) SessionManager() *sessions.Manager { return d.sessionManager }

// Logger returns the dispatcher's logger
func (d *Dispatcher) Logger() observability.Logger { return d.logger }

// ConfigureServices grants the callback the root container for service
// registration. May be called any number of times.
func (d *Dispatcher) ConfigureServices(cb func(*di.Provider)) {
	cb(d.services)
}

// RegisterHandler registers a handler for a context type under a predicate
// conjunction and invalidates the router.
func (d *Dispatcher) RegisterHandler(ctxType ContextType, handler interface{}, predicates ...Predicate) error {
	entry, err := newHandlerEntry(handler, predicates)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if _, ok := d.handlers[ctxType]; !ok {
		d.typeOrder = append(d.typeOrder, ctxType)
	}
	d.handlers[ctxType] = append(d.handlers[ctxType], entry)
	d.mu.Unlock()
	d.router.MarkDirty()
	return nil
}

// UnregisterHandler removes every registration of the handler for the
// context type and invalidates the router.
func (d *Dispatcher) UnregisterHandler(ctxType ContextType, handler interface{}) {
	ptr := reflect.ValueOf(handler).Pointer()
	d.mu.Lock()
	entries := d.handlers[ctxType]
	kept := entries[:0]
	for _, e := range entries {
		if e.handlerPtr != ptr {
			kept = append(kept, e)
		}
	}
	d.handlers[ctxType] = kept
	d.mu.Unlock()
	d.router.MarkDirty()
}

// RegisterRESTful registers a handler for JSON API requests
func (d *Dispatcher) RegisterRESTful(handler interface{}, predicates ...Predicate) error {
	return d.RegisterHandler(ContextRESTful, handler, predicates...)
}

// RegisterWeb registers a handler for HTML page requests
func (d *Dispatcher) RegisterWeb(handler interface{}, predicates ...Predicate) error {
	return d.RegisterHandler(ContextWeb, handler, predicates...)
}

// RegisterSocket registers a handler for framed TCP messages
func (d *Dispatcher) RegisterSocket(handler interface{}, predicates ...Predicate) error {
	return d.RegisterHandler(ContextSocket, handler, predicates...)
}

// RegisterWebSocket registers a handler for WebSocket frames
func (d *Dispatcher) RegisterWebSocket(handler interface{}, predicates ...Predicate) error {
	return d.RegisterHandler(ContextWebSocket, handler, predicates...)
}

// RegisterAmqp registers a handler for AMQP deliveries
func (d *Dispatcher) RegisterAmqp(handler interface{}, predicates ...Predicate) error {
	return d.RegisterHandler(ContextAmqp, handler, predicates...)
}

// AddListener appends a listener; adding the same listener twice is a no-op
func (d *Dispatcher) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.listeners {
		if existing == l {
			return
		}
	}
	d.listeners = append(d.listeners, l)
}

// AddBackgroundTask schedules a long-lived task started with Run. The task
// is invoked through the container so its parameters are injected; a task
// error is logged and never terminates the process.
func (d *Dispatcher) AddBackgroundTask(task interface{}) {
	d.mu.Lock()
	d.background = append(d.background, task)
	d.mu.Unlock()
}

// EnsureRouterReady forces the lazy router rebuild; dispatch does this on
// demand, tests call it directly.
func (d *Dispatcher) EnsureRouterReady() {
	d.mu.Lock()
	handlers := make(map[ContextType][]*HandlerEntry, len(d.handlers))
	for t, entries := range d.handlers {
		handlers[t] = append([]*HandlerEntry(nil), entries...)
	}
	typeOrder := append([]ContextType(nil), d.typeOrder...)
	d.mu.Unlock()
	d.router.Ensure(handlers, typeOrder)
}

// ClassifyURL maps a URL onto the context type its handler expects
func (d *Dispatcher) ClassifyURL(url string) ContextType {
	d.EnsureRouterReady()
	return d.router.Classify(url)
}

// OnMessage runs the per-message pipeline: create a scope, materialize the
// context, locate the handler, invoke it with injection, translate the
// return value into the response, dispose the scope.
func (d *Dispatcher) OnMessage(ctx context.Context, msg *Message) error {
	start := time.Now()
	d.EnsureRouterReady()

	scope := d.services.CreateScope()
	defer scope.Dispose()

	c, err := msg.New(scope)
	if err != nil {
		d.logger.Error("context factory failed", map[string]interface{}{
			"session_id": msg.SessionID,
			"error":      err.Error(),
		})
		return err
	}

	entry, err := d.router.Match(c)
	if err != nil {
		d.logger.Warn("no handler matched", map[string]interface{}{
			"session_id": c.SessionID(),
			"url":        c.URL(),
			"kind":       edgeerr.Kind(err),
		})
		d.writeError(c, err)
		d.metrics.IncrementCounter("dispatch_errors", 1, map[string]string{"kind": edgeerr.Kind(err)})
		return err
	}

	result, err := scope.Invoke(entry.Handler, c)
	if err != nil {
		if edgeerr.IsShortCircuit(err) {
			// Response already set on the context; flush as-is.
			d.finalizeHeaders(c)
			return nil
		}
		d.logger.Error("handler failed", map[string]interface{}{
			"session_id": c.SessionID(),
			"url":        c.URL(),
			"kind":       edgeerr.Kind(err),
			"error":      err.Error(),
		})
		d.writeError(c, err)
		d.metrics.IncrementCounter("dispatch_errors", 1, map[string]string{"kind": edgeerr.Kind(err)})
		return err
	}

	d.translate(c, result)
	d.metrics.RecordDuration("dispatch_duration", time.Since(start), map[string]string{
		"context_type": string(c.Type()),
	})
	return nil
}

// translate maps a handler's return value onto the context's response
func (d *Dispatcher) translate(c Context, result interface{}) {
	switch ctx := c.(type) {
	case *RESTfulContext:
		if !ctx.Response.BodySet() {
			if result != nil {
				ctx.Response.SetBody(result)
			} else {
				// A RESTful handler returning nothing yields an empty object
				ctx.Response.SetBody(map[string]interface{}{})
			}
		}
		ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	case *WebContext:
		if !ctx.Response.BodySet() && result != nil {
			ctx.Response.SetBody(fmt.Sprintf("%v", result))
		}
		ctx.Response.Header.Set("Content-Type", "text/html; charset=utf-8")
	default:
		// Socket, WebSocket and AMQP handlers write explicitly; the return
		// value is advisory.
	}
}

func (d *Dispatcher) finalizeHeaders(c Context) {
	switch ctx := c.(type) {
	case *RESTfulContext:
		if ctx.Response.Header.Get("Content-Type") == "" {
			ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
	case *WebContext:
		if ctx.Response.Header.Get("Content-Type") == "" {
			ctx.Response.Header.Set("Content-Type", "text/html; charset=utf-8")
		}
	}
}

// writeError maps a pipeline error onto the context's response for the
// transports that flush one; socket-like transports act on the returned
// error instead.
func (d *Dispatcher) writeError(c Context, err error) {
	status := statusFor(err)
	kind := edgeerr.Kind(err)
	switch ctx := c.(type) {
	case *RESTfulContext:
		ctx.Response.Status = status
		ctx.Response.SetBody(map[string]interface{}{"error": kind})
		ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	case *WebContext:
		ctx.Response.Status = status
		ctx.Response.SetBody(fmt.Sprintf("<html><body><h1>%d</h1></body></html>", status))
		ctx.Response.Header.Set("Content-Type", "text/html; charset=utf-8")
	}
}

func statusFor(err error) int {
	var sv *edgeerr.SchemaValidationError
	switch {
	case edgeerr.IsHandlerNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &sv):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Run initializes every listener, starts background tasks, and blocks
// until the context is cancelled or SIGINT/SIGTERM arrives. A listener
// initialization failure is a startup error and aborts the run.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.EnsureRouterReady()

	d.mu.Lock()
	listeners := append([]Listener(nil), d.listeners...)
	background := append([]interface{}(nil), d.background...)
	d.mu.Unlock()

	started := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if err := l.Initialize(ctx, d); err != nil {
			d.shutdownListeners(started)
			return fmt.Errorf("listener %s failed to initialize: %w", l.Name(), err)
		}
		d.logger.Info("listener started", map[string]interface{}{"listener": l.Name()})
		started = append(started, l)
	}

	for _, task := range background {
		task := task
		go func() {
			if _, err := d.services.Invoke(task, ctx); err != nil {
				d.logger.Error("background task failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	<-ctx.Done()
	d.logger.Info("shutting down", nil)
	d.shutdownListeners(started)
	d.sessionManager.CloseAll()
	d.services.Dispose()
	return nil
}

// shutdownListeners drains every listener concurrently within one timeout
func (d *Dispatcher) shutdownListeners(listeners []Listener) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := l.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("%s: %w", l.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("listener shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
