// Package sessions tracks long-lived transport sessions (WebSocket and raw
// TCP) and their group memberships. The Manager owns the sessions; a
// session keeps only a plain handle back to its manager, never a keep-alive
// reference.
package sessions

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by Send after the session has been closed
var ErrSessionClosed = errors.New("session closed")

// ErrSendBufferFull is returned when the outbound buffer is saturated
var ErrSendBufferFull = errors.New("session send buffer full")

// Session is one live connection. Outbound frames are serialized through
// the send channel; producers never touch the socket directly.
type Session struct {
	ID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newSession(id string, buffer int) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{ID: id, send: make(chan []byte, buffer)}
}

// Send enqueues an outbound frame. It never blocks: a saturated buffer
// returns ErrSendBufferFull so a slow consumer cannot stall producers.
func (s *Session) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendText enqueues a text frame
func (s *Session) SendText(message string) error {
	return s.Send([]byte(message))
}

// SendJSON JSON-encodes v and enqueues it
func (s *Session) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Outbound is the frame stream the transport's write pump drains. The
// channel is closed when the session closes.
func (s *Session) Outbound() <-chan []byte { return s.send }

// IsClosed reports whether the session has been closed
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
