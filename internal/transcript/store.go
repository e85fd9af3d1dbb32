// Package transcript holds the ordered list of conversation messages.
//
// A Store is not safe for concurrent use; the conversation that owns it
// serializes access.
package transcript

import (
	"iter"
	"time"
)

type Store struct {
	messages []*Message
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append adds m to the end of the transcript, filling in ID and Timestamp
// when unset, and returns the stored message.
func (s *Store) Append(m Message) *Message {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	stored := &m
	s.messages = append(s.messages, stored)
	return stored
}

// AppendAssistant appends a plain assistant message.
func (s *Store) AppendAssistant(content string) *Message {
	return s.Append(Message{Role: RoleAssistant, Content: content})
}

// Last returns the most recent message, or nil when empty.
func (s *Store) Last() *Message {
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

// LastAssistant returns the last message only if it is an assistant message.
func (s *Store) LastAssistant() *Message {
	if last := s.Last(); last != nil && last.Role == RoleAssistant {
		return last
	}
	return nil
}

func (s *Store) FindByID(id string) *Message {
	return s.Find(func(m *Message) bool { return m.ID == id })
}

func (s *Store) FindByDecisionID(decisionID string) *Message {
	if decisionID == "" {
		return nil
	}
	return s.Find(func(m *Message) bool { return m.DecisionID == decisionID })
}

// Find returns the first message matching pred in transcript order.
func (s *Store) Find(pred func(*Message) bool) *Message {
	for _, m := range s.messages {
		if pred(m) {
			return m
		}
	}
	return nil
}

// Backward yields messages from newest to oldest.
func (s *Store) Backward() iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		for i := len(s.messages) - 1; i >= 0; i-- {
			if !yield(s.messages[i]) {
				return
			}
		}
	}
}

func (s *Store) Len() int {
	return len(s.messages)
}

// Snapshot returns deep copies of all messages in order.
func (s *Store) Snapshot() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Reset() {
	s.messages = nil
}
