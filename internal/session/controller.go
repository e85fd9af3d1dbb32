// Package session owns the backend session and its single push-stream
// connection, including reconnects.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/conversation"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/logger"
	"github.com/harunnryd/infrapilot/internal/stream"
)

// Backend is the part of the backend client the controller needs.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	EventsURL(sessionID string) string
}

// FrameSink consumes raw frames from the push stream.
type FrameSink interface {
	HandleFrame(frame []byte)
}

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Controller keeps at most one live connection. Every Connect bumps the
// generation; callbacks from older generations are ignored.
//
// Lock order is Controller.mu then the conversation lock, never the reverse;
// the sink runs under Controller.mu.
type Controller struct {
	conv           *conversation.Conversation
	backend        Backend
	transport      stream.Transport
	sink           FrameSink
	reconnectDelay time.Duration

	mu         sync.Mutex
	conn       stream.Conn
	retired    []stream.Conn
	generation uint64
	timer      *time.Timer
	state      State
	closed     bool
}

func New(conv *conversation.Conversation, backend Backend, transport stream.Transport, sink FrameSink, reconnectDelay time.Duration) *Controller {
	if reconnectDelay <= 0 {
		reconnectDelay, _ = config.DurationOrDefault("", config.DefaultStreamReconnectDelay)
	}
	return &Controller{
		conv:           conv,
		backend:        backend,
		transport:      transport,
		sink:           sink,
		reconnectDelay: reconnectDelay,
		state:          StateIdle,
	}
}

// CreateSession asks the backend for a session, stores its id and connects.
// On failure the session stays unset; there is no retry.
func (c *Controller) CreateSession(ctx context.Context) (string, error) {
	id, err := c.backend.CreateSession(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create session", "category", apperrors.Category(err), "error", err)
		return "", apperrors.Wrap(err, "create session")
	}

	c.conv.Update(func(tx *conversation.Tx) { tx.SetSessionID(id) })
	logger.FromContext(logger.WithSessionID(ctx, id)).Info("Session created")

	c.Connect()
	return id, nil
}

// Connect replaces any existing connection with a new one for the current
// session. It returns immediately; the dial happens on the reader goroutine.
func (c *Controller) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

func (c *Controller) connectLocked() {
	if c.closed {
		return
	}
	c.stopTimerLocked()
	c.retireLocked()
	c.generation++

	sessionID := c.conv.SessionID()
	if sessionID == "" {
		c.state = StateIdle
		return
	}

	gen := c.generation
	log := logger.FromContext(logger.WithSessionID(context.Background(), sessionID))
	url := c.backend.EventsURL(sessionID)
	log.Debug("Opening event stream", "url", url, "generation", gen)

	c.state = StateConnecting
	c.conn = c.transport.Open(url, stream.Handler{
		OnReady: func() {
			if c.setStateIfCurrent(gen, StateConnected) {
				log.Info("Event stream connected")
			}
		},
		OnMessage: func(frame []byte) {
			c.deliver(gen, frame)
		},
		OnError: func(err error) {
			c.handleError(gen, err)
		},
	})
}

func (c *Controller) handleError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.generation {
		return
	}
	log := logger.FromContext(logger.WithSessionID(context.Background(), c.conv.SessionID()))
	log.Warn("Event stream failed, scheduling reconnect", "category", apperrors.Category(err), "retryable", apperrors.IsRetryable(err), "error", err, "delay", c.reconnectDelay)

	c.state = StateReconnecting
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.reconnectDelay, func() { c.reconnect(gen) })
}

func (c *Controller) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.generation {
		return
	}
	if c.conv.SessionID() == "" {
		c.state = StateIdle
		return
	}
	logger.FromContext(logger.WithSessionID(context.Background(), c.conv.SessionID())).Info("Reconnecting event stream")
	c.connectLocked()
}

// Clear drops the session and its transcript and starts a fresh session.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.retireLocked()
	c.generation++
	c.state = StateIdle
	c.mu.Unlock()

	c.conv.Reset()
	logger.FromContext(ctx).Info("Conversation cleared")

	_, err := c.CreateSession(ctx)
	return err
}

// Close stops reconnecting, closes the connection and waits for every reader
// goroutine to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = StateClosed
	c.stopTimerLocked()
	c.retireLocked()
	c.generation++
	pending := c.retired
	c.retired = nil
	c.mu.Unlock()

	for _, conn := range pending {
		<-conn.Done()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// deliver hands a frame to the sink while holding the controller lock, so a
// concurrent Clear or Connect either sees the frame applied or drops it.
func (c *Controller) deliver(gen uint64, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		return
	}
	c.sink.HandleFrame(frame)
}

func (c *Controller) setStateIfCurrent(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		return false
	}
	c.state = s
	return true
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// retireLocked closes the live connection and keeps it until its reader has
// exited, so Close can wait for it.
func (c *Controller) retireLocked() {
	live := c.retired[:0]
	for _, conn := range c.retired {
		select {
		case <-conn.Done():
		default:
			live = append(live, conn)
		}
	}
	c.retired = live

	if c.conn != nil {
		c.conn.Close()
		c.retired = append(c.retired, c.conn)
		c.conn = nil
	}
}
