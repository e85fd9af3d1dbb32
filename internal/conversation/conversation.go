// Package conversation holds the session-scoped state shared by the session
// controller, the event reducer and the decision coordinator.
package conversation

import (
	"maps"
	"slices"
	"sync"

	"github.com/harunnryd/infrapilot/internal/transcript"
)

// Decision is the most recent backend-posed choice.
type Decision struct {
	ID        string
	SessionID string
	Kind      string
	Prompt    string
	Options   []transcript.DecisionOption
	Metadata  map[string]any
}

// Intent is the latest intent seen on the stream, kept for edit mode.
type Intent struct {
	ID      string
	Command transcript.ParsedCommand
}

// Conversation is the explicit context object for one client. Every
// mutation runs inside Update, one at a time.
type Conversation struct {
	mu         sync.Mutex
	sessionID  string
	transcript *transcript.Store
	loading    bool
	decision   *Decision
	intent     *Intent
	changes    chan struct{}
}

func New() *Conversation {
	return &Conversation{
		transcript: transcript.NewStore(),
		changes:    make(chan struct{}, 1),
	}
}

// Tx is the mutable view handed to Update callbacks. It must not be retained
// after the callback returns.
type Tx struct {
	c *Conversation
}

func (tx *Tx) Transcript() *transcript.Store { return tx.c.transcript }
func (tx *Tx) SessionID() string             { return tx.c.sessionID }
func (tx *Tx) SetSessionID(id string)        { tx.c.sessionID = id }
func (tx *Tx) Loading() bool                 { return tx.c.loading }
func (tx *Tx) SetLoading(v bool)             { tx.c.loading = v }
func (tx *Tx) Decision() *Decision           { return tx.c.decision }
func (tx *Tx) SetDecision(d *Decision)       { tx.c.decision = d }
func (tx *Tx) Intent() *Intent               { return tx.c.intent }
func (tx *Tx) SetIntent(i *Intent)           { tx.c.intent = i }

// Update runs fn with exclusive access and then signals Changes.
func (c *Conversation) Update(fn func(tx *Tx)) {
	c.apply(fn)
	c.notify()
}

func (c *Conversation) apply(fn func(tx *Tx)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Tx{c: c})
}

// Reset discards the session id, the transcript and all cached state.
func (c *Conversation) Reset() {
	c.Update(func(tx *Tx) {
		c.sessionID = ""
		c.transcript.Reset()
		c.loading = false
		c.decision = nil
		c.intent = nil
	})
}

// Changes delivers a coalesced signal after every Update. At most one
// signal is pending at a time.
func (c *Conversation) Changes() <-chan struct{} {
	return c.changes
}

func (c *Conversation) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conversation) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Messages returns a deep copy of the transcript.
func (c *Conversation) Messages() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Snapshot()
}

func (c *Conversation) CurrentIntent() *Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == nil {
		return nil
	}
	out := *c.intent
	out.Command.Parameters = maps.Clone(c.intent.Command.Parameters)
	return &out
}

func (c *Conversation) CurrentDecision() *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decision == nil {
		return nil
	}
	out := *c.decision
	out.Options = slices.Clone(c.decision.Options)
	out.Metadata = maps.Clone(c.decision.Metadata)
	return &out
}
