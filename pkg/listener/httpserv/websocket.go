package httpserv

import (
	"context"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// handleWebSocket upgrades the request, registers a session, and runs the
// read loop on the request goroutine. Frames are dispatched sequentially so
// a session's messages are handled in arrival order.
func (l *Listener) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Cross-origin policy is the reverse proxy's concern in this topology
		InsecureSkipVerify: true,
	})
	if err != nil {
		l.logger.Warn("websocket accept failed", map[string]interface{}{"error": err.Error()})
		return
	}

	manager := l.sink.SessionManager()
	session := manager.Create("", l.cfg.SendBuffer)
	path := strings.Trim(c.Request.URL.Path, "/")

	l.logger.Info("websocket session opened", map[string]interface{}{
		"session_id": session.ID,
		"url":        path,
	})

	connCtx := l.serveCtx
	if connCtx == nil {
		connCtx = c.Request.Context()
	}
	pumpCtx, cancel := context.WithCancel(connCtx)
	defer cancel()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.writePump(pumpCtx, conn, session.Outbound())
	}()

	closeStatus := websocket.StatusNormalClosure
	closeReason := ""

readLoop:
	for {
		typ, data, err := conn.Read(pumpCtx)
		if err != nil {
			break
		}

		msg := &dispatcher.Message{
			SessionID: session.ID,
			Type:      dispatcher.ContextWebSocket,
			New: func(scope *di.Provider) (dispatcher.Context, error) {
				return dispatcher.NewWebSocketContext(session, manager, path,
					data, typ == websocket.MessageText, scope, pumpCtx), nil
			},
		}

		if err := l.sink.OnMessage(pumpCtx, msg); err != nil {
			switch {
			case edgeerr.IsHandlerNotFound(err):
				closeStatus = websocket.StatusPolicyViolation
				closeReason = "no handler"
				break readLoop
			default:
				closeStatus = websocket.StatusInternalError
				closeReason = "handler error"
				break readLoop
			}
		}
	}

	manager.Close(session.ID)
	cancel()
	_ = conn.Close(closeStatus, closeReason)
	l.logger.Info("websocket session closed", map[string]interface{}{
		"session_id": session.ID,
	})
}

// writePump drains the session's outbound channel onto the wire. It exits
// when the session closes (channel closed) or the connection dies.
func (l *Listener) writePump(ctx context.Context, conn *websocket.Conn, outbound <-chan []byte) {
	for {
		select {
		case data, ok := <-outbound:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
