package tcpserv

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Listener serves the framed TCP ports. Each configured port gets its own
// accept loop; per-connection work runs on a dedicated goroutine so frames
// from one peer are handled strictly in order.
type Listener struct {
	cfg    *Config
	logger observability.Logger

	mu        sync.Mutex
	sink      dispatcher.MessageSink
	listeners []net.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a TCP listener from a validated configuration
func New(cfg *Config, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NewLogger("tcpserv")
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Listener{cfg: cfg, logger: logger}
}

// Name identifies the listener in logs
func (l *Listener) Name() string { return "tcp" }

// Initialize binds every configured port and starts the accept loops. Any
// bind failure is a startup error; already-bound ports are closed again.
func (l *Listener) Initialize(ctx context.Context, sink dispatcher.MessageSink) error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.sink = sink
	l.cancel = cancel
	l.mu.Unlock()

	type port struct {
		addr string
		loop func(context.Context, net.Conn)
	}
	ports := []port{}
	if l.cfg.Receiver != "" {
		ports = append(ports, port{l.cfg.Receiver, l.serveReceiver})
	}
	if l.cfg.Sender != "" {
		ports = append(ports, port{l.cfg.Sender, l.serveSender})
	}
	if l.cfg.Endpoint != "" {
		ports = append(ports, port{l.cfg.Endpoint, l.serveEndpoint})
	}

	for _, p := range ports {
		ln, err := net.Listen("tcp", p.addr)
		if err != nil {
			cancel()
			l.closeListeners()
			return fmt.Errorf("bind %s: %w", p.addr, err)
		}
		l.mu.Lock()
		l.listeners = append(l.listeners, ln)
		l.mu.Unlock()
		l.logger.Info("tcp port bound", map[string]interface{}{"addr": p.addr})

		handle := p.loop
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.acceptLoop(ctx, ln, handle)
		}()
	}
	return nil
}

// Shutdown stops accepting and waits for connection goroutines
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.closeListeners()

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

func (l *Listener) closeListeners() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ln := range l.listeners {
		_ = ln.Close()
	}
	l.listeners = nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer conn.Close()
			handle(ctx, conn)
		}()
	}
}

// serveReceiver answers framed requests on the same connection. A handler
// failure or an unmatched message closes the connection. Frames are read on
// a dedicated goroutine so a dropped peer cancels the connection context
// even while a handler is in flight.
func (l *Listener) serveReceiver(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	go func() {
		defer cancel()
		for {
			frame, err := readFrame(conn, l.cfg.MaxFrameSize)
			if err != nil {
				return
			}
			select {
			case frames <- frame:
			case <-connCtx.Done():
				return
			}
		}
	}()

	sessionID := uuid.NewString()
	for {
		var frame []byte
		select {
		case frame = <-frames:
		case <-connCtx.Done():
			return
		}

		var built *dispatcher.SocketContext
		msg := &dispatcher.Message{
			SessionID: sessionID,
			Type:      dispatcher.ContextSocket,
			New: func(scope *di.Provider) (dispatcher.Context, error) {
				built = dispatcher.NewSocketContext(sessionID, frame, scope, connCtx)
				return built, nil
			},
		}
		if err := l.sink.OnMessage(connCtx, msg); err != nil {
			l.logger.Warn("socket message failed, closing connection", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return
		}
		if err := writeFrame(conn, built.ResponseBuffer()); err != nil {
			return
		}
	}
}

// serveSender registers the connection as a push session. Frames enqueued
// on the session (directly, by group, or by broadcast) are written out;
// nothing is read beyond close detection.
func (l *Listener) serveSender(ctx context.Context, conn net.Conn) {
	manager := l.sink.SessionManager()
	session := manager.Create("", l.cfg.SendBuffer)
	defer manager.Close(session.ID)

	l.logger.Info("sender session opened", map[string]interface{}{"session_id": session.ID})

	// Peer close surfaces as a read error
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-session.Outbound():
			if !ok {
				return
			}
			if err := writeFrame(conn, data); err != nil {
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// serveEndpoint hands the raw stream to a handler. The handler owns the
// connection for its lifetime; dispatch returning means the stream is done.
// The stream context is cancelled as soon as I/O on the connection fails.
func (l *Listener) serveEndpoint(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watched := &watchConn{Conn: conn, cancel: cancel}

	sessionID := uuid.NewString()
	msg := &dispatcher.Message{
		SessionID: sessionID,
		Type:      dispatcher.ContextServerSource,
		New: func(scope *di.Provider) (dispatcher.Context, error) {
			return dispatcher.NewServerSourceContext(sessionID, watched, scope, connCtx), nil
		},
	}
	if err := l.sink.OnMessage(connCtx, msg); err != nil {
		l.logger.Warn("endpoint stream failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// watchConn cancels its context when a read or write on the underlying
// connection fails, so stream handlers observe connection loss through
// their context as well as through the I/O error.
type watchConn struct {
	net.Conn
	cancel context.CancelFunc
}

func (c *watchConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.cancel()
	}
	return n, err
}

func (c *watchConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.cancel()
	}
	return n, err
}

func (c *watchConn) Close() error {
	c.cancel()
	return c.Conn.Close()
}

// Connect dials a remote duplex endpoint and dispatches the client side of
// the stream to a handler. It blocks until the handler returns.
func Connect(ctx context.Context, addr string, sink dispatcher.MessageSink) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watched := &watchConn{Conn: conn, cancel: cancel}

	sessionID := uuid.NewString()
	msg := &dispatcher.Message{
		SessionID: sessionID,
		Type:      dispatcher.ContextClientSource,
		New: func(scope *di.Provider) (dispatcher.Context, error) {
			return dispatcher.NewClientSourceContext(sessionID, watched, scope, connCtx), nil
		},
	}
	return sink.OnMessage(connCtx, msg)
}
