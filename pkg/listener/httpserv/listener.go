package httpserv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Listener serves HTTP and WebSocket traffic on one bind address
type Listener struct {
	cfg    *Config
	logger observability.Logger

	mu       sync.Mutex
	sink     dispatcher.MessageSink
	engine   *gin.Engine
	server   *http.Server
	serveCtx context.Context
	wg       sync.WaitGroup
}

// New creates an HTTP listener from a validated configuration
func New(cfg *Config, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NewLogger("httpserv")
	}
	return &Listener{cfg: cfg, logger: logger}
}

// Name identifies the listener in logs
func (l *Listener) Name() string { return "http" }

// Initialize binds the address and starts serving in the background. A bind
// failure or unreadable TLS material is returned synchronously.
func (l *Listener) Initialize(ctx context.Context, sink dispatcher.MessageSink) error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	l.sink = sink
	l.serveCtx = ctx
	l.engine = l.buildEngine()
	l.server = &http.Server{
		Handler:      l.engine,
		ReadTimeout:  l.cfg.ReadTimeout,
		WriteTimeout: l.cfg.WriteTimeout,
		IdleTimeout:  l.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	server := l.server
	l.mu.Unlock()

	ln, err := net.Listen("tcp", l.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", l.cfg.Addr(), err)
	}

	l.logger.Info("http listener bound", map[string]interface{}{
		"addr": l.cfg.Addr(),
		"tls":  l.cfg.TLSEnabled(),
	})

	go func() {
		var serveErr error
		if l.cfg.TLSEnabled() {
			serveErr = server.ServeTLS(ln, l.cfg.SSLCert, l.cfg.SSLKey)
		} else {
			serveErr = server.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			l.logger.Error("http serve stopped", map[string]interface{}{"error": serveErr.Error()})
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and waits for WebSocket pumps
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	server := l.server
	l.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (l *Listener) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), l.requestLogger())

	if l.cfg.StaticPrefix != "" && l.cfg.StaticRoot != "" {
		prefix := "/" + strings.Trim(l.cfg.StaticPrefix, "/")
		engine.Static(prefix, l.cfg.StaticRoot)
	}

	// Everything not claimed by the static prefix goes through the dispatcher
	engine.NoRoute(l.handle)
	return engine
}

func (l *Listener) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		l.logger.Debug("http request", map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
	}
}

func (l *Listener) handle(c *gin.Context) {
	if isWebSocketUpgrade(c.Request) {
		l.handleWebSocket(c)
		return
	}
	l.handleHTTP(c)
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "Upgrade") {
			return true
		}
	}
	return false
}

func (l *Listener) handleHTTP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	path := strings.Trim(c.Request.URL.Path, "/")
	req := &dispatcher.HTTPRequest{
		Method: c.Request.Method,
		Path:   path,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
		Body:   body,
	}

	// HTTP requests have no long-lived session; a generated id keeps the
	// pipeline's error logs attributable per request.
	sessionID := uuid.NewString()
	ctxType := l.sink.ClassifyURL(path)
	var built dispatcher.Context
	msg := &dispatcher.Message{
		SessionID: sessionID,
		Type:      ctxType,
		New: func(scope *di.Provider) (dispatcher.Context, error) {
			if ctxType == dispatcher.ContextWeb {
				wc := dispatcher.NewWebContext(sessionID, req, scope, c.Request.Context())
				built = wc
				return wc, nil
			}
			rc := dispatcher.NewRESTfulContext(sessionID, req, scope, c.Request.Context())
			built = rc
			return rc, nil
		},
	}

	// The pipeline leaves the response views flushable on both success and
	// failure; the returned error is already reflected there.
	_ = l.sink.OnMessage(c.Request.Context(), msg)
	if built == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	l.flush(c, built)
}

func (l *Listener) flush(c *gin.Context, built dispatcher.Context) {
	switch ctx := built.(type) {
	case *dispatcher.RESTfulContext:
		copyHeader(c.Writer.Header(), ctx.Response.Header)
		body, err := json.Marshal(ctx.Response.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(ctx.Response.Status, ctx.Response.Header.Get("Content-Type"), body)
	case *dispatcher.WebContext:
		copyHeader(c.Writer.Header(), ctx.Response.Header)
		c.Data(ctx.Response.Status, ctx.Response.Header.Get("Content-Type"), []byte(ctx.Response.Body))
	default:
		c.Status(http.StatusNoContent)
	}
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
