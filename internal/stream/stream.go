// Package stream dials the backend's push stream and reports frames through
// ready/message/error callbacks.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/harunnryd/infrapilot/internal/config"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

// Handler receives connection callbacks. Callbacks run on the connection's
// reader goroutine; nil callbacks are skipped.
type Handler struct {
	OnReady   func()
	OnMessage func(frame []byte)
	OnError   func(err error)
}

// Conn is one live push-stream connection.
type Conn interface {
	// Close stops the connection without blocking. No callback fires after
	// Close returns, apart from one already in progress.
	Close()
	// Done is closed once the reader goroutine has exited.
	Done() <-chan struct{}
}

// Transport opens push-stream connections. Open returns at once and never
// invokes the handler before returning.
type Transport interface {
	Open(url string, h Handler) Conn
}

// New returns the transport named by cfg.Transport.
func New(cfg config.StreamConfig, client *http.Client) (Transport, error) {
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = config.DefaultStreamMaxFrameBytes
	}

	switch cfg.Transport {
	case "", config.TransportSSE:
		return NewSSE(client, maxFrame), nil
	case config.TransportWebSocket:
		return NewWebSocket(maxFrame), nil
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown stream transport %q", cfg.Transport))
	}
}

// conn is the Conn shared by both transports.
type conn struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	closer func() error
}

func newConn() *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (c *conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	closer := c.closer
	c.mu.Unlock()

	c.cancel()
	if closer != nil {
		_ = closer()
	}
}

func (c *conn) Done() <-chan struct{} {
	return c.done
}

// attach registers the function that interrupts a blocked read. It reports
// false when the connection was already closed.
func (c *conn) attach(closer func() error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closer = closer
	return true
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) ready(h Handler) {
	if h.OnReady != nil && !c.isClosed() {
		h.OnReady()
	}
}

func (c *conn) message(h Handler, frame []byte) {
	if h.OnMessage != nil && !c.isClosed() {
		h.OnMessage(frame)
	}
}

// fail reports err unless the connection was closed locally.
func (c *conn) fail(h Handler, err error) {
	if h.OnError != nil && !c.isClosed() {
		h.OnError(err)
	}
}
