// Package decision resolves backend-posed decisions and reflects the outcome
// on the decision's transcript message.
package decision

import (
	"context"
	"log/slog"

	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/conversation"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/logger"
	"github.com/harunnryd/infrapilot/internal/transcript"
)

const (
	OptionRun    = "run"
	OptionCancel = "cancel"
)

const (
	ContentInvalidDecisionID = "❌ Error: Invalid decision ID."
	ContentInvalidOptionID   = "❌ Error: Invalid option ID."
	ContentDecisionIDFormat  = "❌ Error: Decision ID format invalid."
	ContentResolveFailed     = "❌ Failed to process decision. Please try again."
	ContentCancelled         = "🛑 Operation cancelled. No infra command was run."

	StatusRunning   = "Running..."
	StatusCancelled = "Cancelled"
)

// Resolver submits a decision choice to the backend.
type Resolver interface {
	ResolveDecision(ctx context.Context, decisionID, optionID string) error
}

type Coordinator struct {
	conv        *conversation.Conversation
	resolver    Resolver
	minIDLength int
}

func New(conv *conversation.Conversation, resolver Resolver, minIDLength int) *Coordinator {
	if minIDLength <= 0 {
		minIDLength = config.DefaultDecisionMinResolveIDLength
	}
	return &Coordinator{conv: conv, resolver: resolver, minIDLength: minIDLength}
}

// Resolve validates the ids, submits the choice and, on success, updates the
// message carrying the decision. Validation and request failures each add
// one error message to the transcript.
func (c *Coordinator) Resolve(ctx context.Context, decisionID, optionID string) error {
	log := logger.FromContext(ctx).With("decision_id", decisionID, "option_id", optionID)

	if msg, err := c.validate(decisionID, optionID); err != nil {
		log.Error("Rejected decision resolution", "error", err)
		c.appendError(msg)
		return err
	}

	if err := c.resolver.ResolveDecision(ctx, decisionID, optionID); err != nil {
		log.Error("Failed to resolve decision", "category", apperrors.Category(err), "error", err)
		c.appendError(ContentResolveFailed)
		return apperrors.Wrap(err, "resolve decision")
	}

	found := false
	c.conv.Update(func(tx *conversation.Tx) {
		if d := tx.Decision(); d != nil && d.ID == decisionID {
			tx.SetDecision(nil)
		}

		m := tx.Transcript().FindByDecisionID(decisionID)
		if m == nil {
			return
		}
		found = true
		m.IsDecision = false

		switch optionID {
		case OptionRun:
			if !m.SetExecutionStatus(transcript.Running(StatusRunning)) {
				log.Debug("Decision already finished, keeping terminal status")
			}
		case OptionCancel:
			m.Content = ContentCancelled
			m.SetExecutionStatus(transcript.Failed(StatusCancelled))
		}
	})

	if !found {
		log.Warn("Resolved decision has no transcript message")
		return nil
	}
	log.Info("Decision resolved")
	return nil
}

// ExecuteCommand resolves the pending decision on a message with "run". A
// message without a decision is left alone.
func (c *Coordinator) ExecuteCommand(ctx context.Context, messageID string) error {
	var decisionID string
	c.conv.Update(func(tx *conversation.Tx) {
		if m := tx.Transcript().FindByID(messageID); m != nil {
			decisionID = m.DecisionID
		}
	})
	if decisionID == "" {
		slog.Debug("No decision to execute", "message_id", messageID)
		return nil
	}
	return c.Resolve(ctx, decisionID, OptionRun)
}

func (c *Coordinator) validate(decisionID, optionID string) (string, error) {
	switch {
	case decisionID == "":
		return ContentInvalidDecisionID, apperrors.InvalidInput("decision id is empty")
	case optionID == "":
		return ContentInvalidOptionID, apperrors.InvalidInput("option id is empty")
	case len(decisionID) < c.minIDLength:
		return ContentDecisionIDFormat, apperrors.InvalidInput("decision id is too short")
	}
	return "", nil
}

func (c *Coordinator) appendError(content string) {
	c.conv.Update(func(tx *conversation.Tx) {
		tx.Transcript().AppendAssistant(content)
	})
}
