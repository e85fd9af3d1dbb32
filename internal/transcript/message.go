package transcript

import (
	"maps"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParsedCommand is a snapshot of the intent a message was built from.
type ParsedCommand struct {
	Action     string         `json:"action" yaml:"action"`
	Resource   string         `json:"resource" yaml:"resource"`
	Provider   string         `json:"provider" yaml:"provider"`
	Tool       string         `json:"tool" yaml:"tool"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

type DecisionOption struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type ExecutionStatus struct {
	IsRunning  bool   `json:"is_running" yaml:"is_running"`
	IsComplete bool   `json:"is_complete" yaml:"is_complete"`
	Success    bool   `json:"success" yaml:"success"`
	Message    string `json:"message" yaml:"message"`
}

func Running(msg string) ExecutionStatus {
	return ExecutionStatus{IsRunning: true, Message: msg}
}

func Succeeded(msg string) ExecutionStatus {
	return ExecutionStatus{IsComplete: true, Success: true, Message: msg}
}

// Failed also covers cancellation; both are terminal and unsuccessful.
func Failed(msg string) ExecutionStatus {
	return ExecutionStatus{IsComplete: true, Message: msg}
}

func (s ExecutionStatus) Terminal() bool {
	return s.IsComplete
}

// Message is one transcript entry.
type Message struct {
	ID              string           `json:"id" yaml:"id"`
	Role            Role             `json:"role" yaml:"role"`
	Content         string           `json:"content" yaml:"content"`
	Timestamp       time.Time        `json:"timestamp" yaml:"timestamp"`
	RawContent      string           `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`
	ParsedCommand   *ParsedCommand   `json:"parsed_command,omitempty" yaml:"parsed_command,omitempty"`
	Summary         string           `json:"summary,omitempty" yaml:"summary,omitempty"`
	ExecutionStatus *ExecutionStatus `json:"execution_status,omitempty" yaml:"execution_status,omitempty"`
	IntentID        string           `json:"intent_id,omitempty" yaml:"intent_id,omitempty"`
	DecisionID      string           `json:"decision_id,omitempty" yaml:"decision_id,omitempty"`
	DecisionOptions []DecisionOption `json:"decision_options,omitempty" yaml:"decision_options,omitempty"`
	IsDecision      bool             `json:"is_decision,omitempty" yaml:"is_decision,omitempty"`
	IsEditMode      bool             `json:"is_edit_mode,omitempty" yaml:"is_edit_mode,omitempty"`
	EventType       string           `json:"event_type,omitempty" yaml:"event_type,omitempty"`
}

// NewID returns a time-ordered identifier with a random suffix.
func NewID() string {
	return ulid.Make().String()
}

// SetExecutionStatus applies s unless it would move a terminal message back
// to running. It reports whether the status was applied.
func (m *Message) SetExecutionStatus(s ExecutionStatus) bool {
	if m.ExecutionStatus != nil && m.ExecutionStatus.Terminal() && s.IsRunning {
		return false
	}
	m.ExecutionStatus = &s
	return true
}

// AcceptsTokens reports whether streamed text may be appended in place.
func (m *Message) AcceptsTokens() bool {
	return m.Role == RoleAssistant && !m.IsDecision
}

// Matches reports whether the message's parsed command targets the same
// action and resource.
func (m *Message) Matches(action, resource string) bool {
	return m.ParsedCommand != nil &&
		m.ParsedCommand.Action == action &&
		m.ParsedCommand.Resource == resource
}

// Clone returns a deep copy safe to hand to readers.
func (m *Message) Clone() Message {
	out := *m
	if m.ParsedCommand != nil {
		pc := *m.ParsedCommand
		pc.Parameters = maps.Clone(m.ParsedCommand.Parameters)
		out.ParsedCommand = &pc
	}
	if m.ExecutionStatus != nil {
		st := *m.ExecutionStatus
		out.ExecutionStatus = &st
	}
	out.DecisionOptions = slices.Clone(m.DecisionOptions)
	return out
}
