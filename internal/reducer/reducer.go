// Package reducer applies canonical stream events to the conversation.
package reducer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/conversation"
	"github.com/harunnryd/infrapilot/internal/envelope"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/transcript"
)

const (
	ContentEditParameters = "✏️ Edit Parameters"
	ContentParsingIntent  = "🔄 Parsing intent..."
	ContentMissingID      = "❌ Error: Could not extract decision ID from event."
	ContentInvalidID      = "❌ Error: Invalid decision ID format."

	StatusOperationCompleted = "Operation completed"
	StatusExecuteSucceeded   = "Operation completed successfully"
	StatusExecuteFailed      = "Operation failed"
)

type Reducer struct {
	conv                *conversation.Conversation
	minDecisionIDLength int
}

func New(conv *conversation.Conversation, minDecisionIDLength int) *Reducer {
	if minDecisionIDLength <= 0 {
		minDecisionIDLength = config.DefaultDecisionMinEventIDLength
	}
	return &Reducer{conv: conv, minDecisionIDLength: minDecisionIDLength}
}

// HandleFrame normalizes and applies one raw push-stream frame. Frames that
// cannot be decoded or matched are logged and dropped.
func (r *Reducer) HandleFrame(frame []byte) {
	env, shape, err := envelope.NormalizeShape(frame)
	if err != nil {
		level := slog.LevelDebug
		if errors.Is(err, apperrors.ErrMalformedFrame) {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "Dropping stream frame", "category", apperrors.Category(err), "error", err, "raw", truncate(frame, 256))
		return
	}

	slog.Debug("Stream event", "type", env.Type, "shape", shape)
	r.Apply(envelope.Decode(env))
}

// Apply mutates the conversation for one decoded event. Each rule looks only
// at current state, so it is correct regardless of how pushed events and
// request completions interleave.
func (r *Reducer) Apply(evt envelope.Event) {
	r.conv.Update(func(tx *conversation.Tx) {
		switch e := evt.(type) {
		case envelope.LogEvent:
			// The user's own message is already in the transcript.
		case envelope.TokenEvent:
			applyToken(tx, e)
		case envelope.IntentArtifact:
			applyIntent(tx, e)
		case envelope.IntentForEditArtifact:
			applyIntentForEdit(tx, e)
		case envelope.InfraResultArtifact:
			applyInfraResult(tx, e)
		case envelope.UnknownArtifact:
			slog.Debug("Ignoring artifact", "kind", e.Kind)
		case envelope.OperationUpdateEvent:
			applyOperationUpdate(tx, e)
		case envelope.DecisionEvent:
			r.applyDecision(tx, e)
		case envelope.UnknownEvent:
			slog.Debug("Ignoring event", "type", e.Type)
		}
	})
}

func applyToken(tx *conversation.Tx, e envelope.TokenEvent) {
	if e.Text == "" {
		return
	}
	store := tx.Transcript()
	if last := store.Last(); last != nil && last.AcceptsTokens() {
		last.Content += e.Text
		return
	}
	store.Append(transcript.Message{
		Role:      transcript.RoleAssistant,
		Content:   e.Text,
		EventType: envelope.TypeToken,
	})
}

func applyIntent(tx *conversation.Tx, e envelope.IntentArtifact) {
	tx.SetIntent(&conversation.Intent{ID: e.IntentID, Command: commandFrom(e.Intent)})

	if dup := findDuplicateIntent(tx.Transcript(), e.IntentID, e.Intent); dup != nil {
		slog.Debug("Suppressing duplicate intent artifact", "intent_id", e.IntentID, "message_id", dup.ID)
		return
	}

	cmd := commandFrom(e.Intent)
	tx.Transcript().Append(transcript.Message{
		Role:          transcript.RoleAssistant,
		IntentID:      e.IntentID,
		ParsedCommand: &cmd,
		Summary:       fmt.Sprintf("Reviewing summary ~ %s %s", e.Intent.Action, e.Intent.Resource),
		EventType:     envelope.TypeArtifact,
	})
}

// findDuplicateIntent looks for a decision-eligible message describing the
// same intent: an open decision card, or an intent review from the current
// turn. A review stops being eligible once a user message or a decision
// follows it. The intent id is compared when both sides carry it, otherwise
// action and resource.
func findDuplicateIntent(store *transcript.Store, intentID string, intent envelope.Intent) *transcript.Message {
	same := func(m *transcript.Message) bool {
		if intentID != "" && m.IntentID != "" {
			return m.IntentID == intentID
		}
		return m.Matches(intent.Action, intent.Resource)
	}

	if m := store.Find(func(m *transcript.Message) bool { return m.IsDecision && same(m) }); m != nil {
		return m
	}

	for m := range store.Backward() {
		if m.Role == transcript.RoleUser || m.EventType == envelope.TypeDecision {
			return nil
		}
		pendingReview := m.EventType == envelope.TypeArtifact && !m.IsEditMode && m.ExecutionStatus == nil && m.ParsedCommand != nil
		if pendingReview && same(m) {
			return m
		}
	}
	return nil
}

func applyIntentForEdit(tx *conversation.Tx, e envelope.IntentForEditArtifact) {
	tx.SetIntent(&conversation.Intent{ID: e.IntentID, Command: commandFrom(e.Intent)})

	store := tx.Transcript()
	cmd := commandFrom(e.Intent)

	target := store.Find(func(m *transcript.Message) bool {
		return m.IsDecision && m.Matches(e.Intent.Action, e.Intent.Resource)
	})
	if target == nil {
		slog.Debug("No decision message for edit, creating one", "intent_id", e.IntentID)
		store.Append(transcript.Message{
			Role:          transcript.RoleAssistant,
			Content:       ContentEditParameters,
			IntentID:      e.IntentID,
			IsEditMode:    true,
			ParsedCommand: &cmd,
			EventType:     envelope.TypeArtifact,
		})
		return
	}

	target.IsDecision = false
	target.IsEditMode = true
	target.IntentID = e.IntentID
	target.ParsedCommand = &cmd
	target.Content = ContentEditParameters
	target.DecisionOptions = nil
	slog.Debug("Converted decision message to edit mode", "message_id", target.ID)
}

func applyInfraResult(tx *conversation.Tx, e envelope.InfraResultArtifact) {
	raw := e.Result
	if e.Stdout != "" {
		raw += "\n\n" + e.Stdout
	}

	store := tx.Transcript()
	if last := store.LastAssistant(); last != nil {
		last.RawContent = raw
		last.SetExecutionStatus(transcript.Succeeded(StatusOperationCompleted))
		return
	}

	m := store.Append(transcript.Message{
		Role:       transcript.RoleAssistant,
		Content:    raw,
		RawContent: raw,
		EventType:  envelope.TypeArtifact,
	})
	m.SetExecutionStatus(transcript.Succeeded(StatusOperationCompleted))
}

func applyOperationUpdate(tx *conversation.Tx, e envelope.OperationUpdateEvent) {
	switch e.Status {
	case envelope.StatusRunning:
		tx.SetLoading(true)
		if e.Kind != envelope.KindIntentParse {
			return
		}
		store := tx.Transcript()
		if last := store.LastAssistant(); last != nil {
			last.Content = ContentParsingIntent
			return
		}
		store.Append(transcript.Message{
			Role:      transcript.RoleAssistant,
			Content:   ContentParsingIntent,
			EventType: envelope.TypeOperationUpdate,
		})

	case envelope.StatusSucceeded, envelope.StatusFailed:
		tx.SetLoading(false)
		if e.Kind != envelope.KindInfraExecute {
			return
		}
		last := tx.Transcript().Last()
		if last == nil {
			return
		}
		succeeded := e.Status == envelope.StatusSucceeded
		detail := e.Detail
		if detail == "" {
			detail = StatusExecuteFailed
			if succeeded {
				detail = StatusExecuteSucceeded
			}
		}
		status := transcript.Failed(detail)
		if succeeded {
			status = transcript.Succeeded(detail)
		}
		last.SetExecutionStatus(status)

	default:
		slog.Debug("Ignoring operation status", "status", e.Status, "kind", e.Kind)
	}
}

func (r *Reducer) applyDecision(tx *conversation.Tx, e envelope.DecisionEvent) {
	store := tx.Transcript()
	if e.DecisionID == "" {
		slog.Error("Decision event without decision_id", "prompt", e.Prompt)
		store.AppendAssistant(ContentMissingID)
		return
	}
	if len(e.DecisionID) < r.minDecisionIDLength {
		slog.Error("Invalid decision ID format", "decision_id", e.DecisionID, "min_length", r.minDecisionIDLength)
		store.AppendAssistant(ContentInvalidID)
		return
	}

	options := make([]transcript.DecisionOption, 0, len(e.Options))
	for _, o := range e.Options {
		options = append(options, transcript.DecisionOption{ID: o.ID, Label: o.Label, Description: o.Description})
	}

	tx.SetDecision(&conversation.Decision{
		ID:        e.DecisionID,
		SessionID: tx.SessionID(),
		Kind:      e.Kind,
		Prompt:    e.Prompt,
		Options:   options,
		Metadata:  e.Metadata,
	})

	m := transcript.Message{
		Role:            transcript.RoleAssistant,
		DecisionID:      e.DecisionID,
		IsDecision:      true,
		Summary:         e.Prompt,
		DecisionOptions: options,
		EventType:       envelope.TypeDecision,
	}
	if e.Intent != nil {
		cmd := commandFrom(*e.Intent)
		m.ParsedCommand = &cmd
	}
	created := store.Append(m)
	slog.Debug("Created decision message", "message_id", created.ID, "decision_id", e.DecisionID)
}

func commandFrom(in envelope.Intent) transcript.ParsedCommand {
	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	return transcript.ParsedCommand{
		Action:     in.Action,
		Resource:   in.Resource,
		Provider:   in.Provider,
		Tool:       in.Tool,
		Parameters: params,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
