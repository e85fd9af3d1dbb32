package repl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/harunnryd/infrapilot/internal/conversation"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/render"
	"github.com/harunnryd/infrapilot/internal/session"
	"github.com/harunnryd/infrapilot/internal/transcript"
)

// Chat is the client surface the REPL drives.
type Chat interface {
	SendMessage(ctx context.Context, content string) error
	SendParamUpdate(ctx context.Context, intentID string, overrides map[string]any) error
	ResolveDecision(ctx context.Context, decisionID, optionID string) error
	Clear(ctx context.Context) error
	Export(path string) (string, error)
	Messages() []transcript.Message
	CurrentIntent() *conversation.Intent
	SessionID() string
	StreamState() session.State
	IsLoading() bool
}

// Result tells the loop what to do after a command.
type Result struct {
	Output string
	Reset  bool
	Exit   bool
}

var ErrNoPendingDecision = errors.New("no pending decision")

type Commands struct {
	chat Chat
}

func NewCommands(c Chat) *Commands {
	return &Commands{chat: c}
}

func (h *Commands) CanHandle(input string) bool {
	return strings.HasPrefix(input, "/")
}

func (h *Commands) Execute(ctx context.Context, input string) (Result, error) {
	parts, parseErr := shlex.Split(input)
	if parseErr != nil {
		parts = strings.Fields(input)
	}
	if len(parts) == 0 {
		return Result{}, nil
	}
	cmd := parts[0]
	args := parts[1:]

	slog.Debug("Executing slash command", "cmd", cmd, "args", args)

	switch cmd {
	case "/help":
		return Result{Output: helpText}, nil
	case "/run":
		return h.resolve(ctx, "run", args)
	case "/cancel":
		return h.resolve(ctx, "cancel", args)
	case "/resolve":
		if len(args) < 1 {
			return Result{Output: "Usage: /resolve <option> [decision]"}, nil
		}
		return h.resolve(ctx, args[0], args[1:])
	case "/edit":
		return h.edit(ctx, args)
	case "/clear":
		if err := h.chat.Clear(ctx); err != nil {
			return Result{}, err
		}
		return Result{Output: "Started a new session.", Reset: true}, nil
	case "/export":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		written, err := h.chat.Export(path)
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "Transcript written to " + written}, nil
	case "/status":
		return Result{Output: h.status()}, nil
	case "/exit", "/quit":
		return Result{Exit: true}, nil
	default:
		return Result{Output: fmt.Sprintf("Unknown command: %s (try /help)", cmd)}, nil
	}
}

func (h *Commands) resolve(ctx context.Context, option string, args []string) (Result, error) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	decisionID, err := PendingDecision(h.chat.Messages(), prefix)
	if err != nil {
		return Result{}, err
	}
	if err := h.chat.ResolveDecision(ctx, decisionID, option); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Sent %q for decision %s.", option, render.ShortID(decisionID))}, nil
}

func (h *Commands) edit(ctx context.Context, args []string) (Result, error) {
	intent := h.chat.CurrentIntent()
	if intent == nil || intent.ID == "" {
		return Result{}, apperrors.InvalidInput("no intent to edit")
	}
	if len(args) == 0 {
		return Result{Output: "Usage: /edit <key>=<value> ..."}, nil
	}

	overrides, err := ParseOverrides(args)
	if err != nil {
		return Result{}, err
	}
	if err := h.chat.SendParamUpdate(ctx, intent.ID, overrides); err != nil {
		return Result{}, err
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Result{Output: "Updated " + strings.Join(keys, ", ") + "."}, nil
}

func (h *Commands) status() string {
	id := h.chat.SessionID()
	if id == "" {
		id = "(none)"
	}
	return fmt.Sprintf("session: %s\nstream: %s\nbusy: %t\nmessages: %d",
		id, h.chat.StreamState(), h.chat.IsLoading(), len(h.chat.Messages()))
}

// PendingDecision picks the newest message still awaiting a decision whose
// id starts with prefix.
func PendingDecision(msgs []transcript.Message, prefix string) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsDecision && m.DecisionID != "" && strings.HasPrefix(m.DecisionID, prefix) {
			return m.DecisionID, nil
		}
	}
	if prefix != "" {
		return "", fmt.Errorf("%w matching %q", ErrNoPendingDecision, prefix)
	}
	return "", ErrNoPendingDecision
}

// ParseOverrides turns key=value pairs into parameter overrides. Values are
// read as YAML scalars, so numbers and booleans keep their type.
func ParseOverrides(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("expected key=value, got %q", arg))
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

const helpText = `Commands:
  /run [decision]             run the pending command
  /cancel [decision]          cancel the pending command
  /resolve <option> [decision] pick any decision option (e.g. edit)
  /edit key=value ...         change parameters of the current intent
  /status                     show session and stream state
  /export [path]              write the transcript (.json or .yaml)
  /clear                      discard the conversation and start a new session
  /exit                       quit
Anything else is sent to the assistant.`
