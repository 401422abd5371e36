package tcpserv

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))

	payload, err := readFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

func TestFrameSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, make([]byte, 100)))

	_, err := readFrame(&buf, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, nil))

	payload, err := readFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func newSocketDispatcher(t *testing.T, handler interface{}) *dispatcher.Dispatcher {
	t.Helper()
	d, err := dispatcher.New(config.NewTreeFromMap(nil), nil, nil)
	require.NoError(t, err)
	if handler != nil {
		require.NoError(t, d.RegisterSocket(handler))
	}
	return d
}

func TestReceiverAnswersOnSameConnection(t *testing.T) {
	d := newSocketDispatcher(t, func(c *dispatcher.SocketContext) {
		c.Write(bytes.ToUpper(c.RequestBuffer))
	})
	l := New(&Config{Receiver: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		l.serveReceiver(context.Background(), server)
	}()

	require.NoError(t, writeFrame(client, []byte("ping")))
	reply, err := readFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("PING"), reply)

	// Frames on one connection are answered in order
	require.NoError(t, writeFrame(client, []byte("second")))
	reply, err = readFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("SECOND"), reply)

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver loop did not exit on close")
	}
}

func TestReceiverClosesOnHandlerError(t *testing.T) {
	d := newSocketDispatcher(t, func(c *dispatcher.SocketContext) error {
		return assert.AnError
	})
	l := New(&Config{Receiver: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		l.serveReceiver(context.Background(), server)
	}()

	require.NoError(t, writeFrame(client, []byte("boom")))
	_, err := readFrame(client, DefaultMaxFrameSize)
	assert.Error(t, err, "connection is closed instead of answered")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver loop did not exit")
	}
}

func TestReceiverCancelsHandlerOnConnectionLoss(t *testing.T) {
	unblocked := make(chan struct{})
	d := newSocketDispatcher(t, func(c *dispatcher.SocketContext) {
		<-c.Done().Done()
		close(unblocked)
	})
	l := New(&Config{Receiver: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		l.serveReceiver(context.Background(), server)
	}()

	require.NoError(t, writeFrame(client, []byte("hold")))
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("handler context not cancelled on connection loss")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver loop did not exit")
	}
}

func TestSenderPushesSessionFrames(t *testing.T) {
	d := newSocketDispatcher(t, nil)
	l := New(&Config{Sender: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()
	defer client.Close()

	go func() {
		defer server.Close()
		l.serveSender(context.Background(), server)
	}()

	// Wait for the session to register, then push through the manager
	var pushed bool
	for i := 0; i < 100 && !pushed; i++ {
		if d.SessionManager().Count() == 1 {
			d.SessionManager().Broadcast([]byte("event"))
			pushed = true
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}
	require.True(t, pushed, "sender session never registered")

	frame, err := readFrame(client, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("event"), frame)
}

func TestEndpointHandsStreamToHandler(t *testing.T) {
	received := make(chan []byte, 1)
	d, err := dispatcher.New(config.NewTreeFromMap(nil), nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.RegisterHandler(dispatcher.ContextServerSource,
		func(c *dispatcher.ServerSourceContext) error {
			buf := make([]byte, 4)
			if _, err := c.Stream.Read(buf); err != nil {
				return err
			}
			received <- buf
			_, err := c.Stream.Write([]byte("ack"))
			return err
		}))

	l := New(&Config{Endpoint: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()
	defer client.Close()

	go func() {
		defer server.Close()
		l.serveEndpoint(context.Background(), server)
	}()

	_, err = client.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), <-received)

	ack := make([]byte, 3)
	_, err = client.Read(ack)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), ack)
}

func TestEndpointContextCancelledOnConnectionLoss(t *testing.T) {
	cancelled := make(chan struct{})
	d, err := dispatcher.New(config.NewTreeFromMap(nil), nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.RegisterHandler(dispatcher.ContextServerSource,
		func(c *dispatcher.ServerSourceContext) {
			buf := make([]byte, 1)
			for {
				if _, err := c.Stream.Read(buf); err != nil {
					break
				}
			}
			select {
			case <-c.Done().Done():
				close(cancelled)
			default:
			}
		}))

	l := New(&Config{Endpoint: "unused"}, nil)
	l.sink = d

	server, client := net.Pipe()
	go func() {
		defer server.Close()
		l.serveEndpoint(context.Background(), server)
	}()

	client.Close()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("stream context not cancelled after the peer dropped")
	}
}

func TestParseConfig_RequiresAPort(t *testing.T) {
	_, err := ParseConfig(config.NewTreeFromMap(nil))
	assert.Error(t, err)

	cfg, err := ParseConfig(config.NewTreeFromMap(map[string]interface{}{
		"receiver": "127.0.0.1:7070",
	}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Receiver)
	assert.Equal(t, DefaultMaxFrameSize, cfg.MaxFrameSize)
}

func TestInitializeBindsAndShutsDown(t *testing.T) {
	d := newSocketDispatcher(t, func(c *dispatcher.SocketContext) {
		c.Write([]byte("ok"))
	})
	l := New(&Config{Receiver: "127.0.0.1:0"}, nil)

	require.NoError(t, l.Initialize(context.Background(), d))

	l.mu.Lock()
	addr := l.listeners[0].Addr().String()
	l.mu.Unlock()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, []byte("x")))
	reply, err := readFrame(conn, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), reply)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
}
