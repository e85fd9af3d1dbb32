// Package chat is the client-facing facade: it wires the backend client,
// push stream, reducer, session controller and decision coordinator around
// one conversation.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/infrapilot/internal/backend"
	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/conversation"
	"github.com/harunnryd/infrapilot/internal/decision"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/logger"
	"github.com/harunnryd/infrapilot/internal/reducer"
	"github.com/harunnryd/infrapilot/internal/session"
	"github.com/harunnryd/infrapilot/internal/stream"
	"github.com/harunnryd/infrapilot/internal/transcript"
)

const (
	ContentSendFailed        = "❌ Failed to send message. Please try again."
	ContentParamUpdateFailed = "❌ Failed to update parameters. Please try again."
)

type Client struct {
	conv        *conversation.Conversation
	backend     *backend.Client
	controller  *session.Controller
	coordinator *decision.Coordinator
	exportDir   string
	now         func() time.Time
}

type Option func(*options)

type options struct {
	roundTripper http.RoundTripper
}

// WithRoundTripper sets the HTTP transport for both requests and the push
// stream.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.roundTripper = rt
	}
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}

	requestClient := &http.Client{Timeout: timeouts.Request, Transport: o.roundTripper}
	// The stream client has no timeout; the body stays open for the session.
	streamClient := &http.Client{Transport: o.roundTripper}

	transport, err := stream.New(cfg.Stream, streamClient)
	if err != nil {
		return nil, err
	}

	conv := conversation.New()
	api := backend.New(cfg.Server.BaseURL, timeouts.Request, backend.WithHTTPClient(requestClient))
	red := reducer.New(conv, cfg.Decision.MinEventIDLength)

	return &Client{
		conv:        conv,
		backend:     api,
		controller:  session.New(conv, api, transport, red, timeouts.ReconnectDelay),
		coordinator: decision.New(conv, api, cfg.Decision.MinResolveIDLength),
		exportDir:   cfg.Transcript.ExportDir,
		now:         time.Now,
	}, nil
}

// Start creates the initial session and opens its stream.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.controller.CreateSession(ctx)
	return err
}

// SendMessage posts user text. Blank text is ignored. While a request is in
// flight it returns ErrBusy and changes nothing.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if c.conv.IsLoading() {
		return apperrors.ErrBusy
	}

	sessionID := c.conv.SessionID()
	if sessionID == "" {
		id, err := c.controller.CreateSession(ctx)
		if err != nil {
			c.conv.Update(func(tx *conversation.Tx) {
				tx.Transcript().Append(transcript.Message{Role: transcript.RoleUser, Content: content})
				tx.Transcript().AppendAssistant(ContentSendFailed)
			})
			return err
		}
		sessionID = id
	}

	busy := false
	c.conv.Update(func(tx *conversation.Tx) {
		if tx.Loading() {
			busy = true
			return
		}
		tx.Transcript().Append(transcript.Message{Role: transcript.RoleUser, Content: content})
		tx.SetLoading(true)
	})
	if busy {
		return apperrors.ErrBusy
	}

	ctx = logger.WithSessionID(ctx, sessionID)
	if err := c.backend.SendMessage(ctx, sessionID, content); err != nil {
		logger.FromContext(ctx).Error("Failed to send message", "category", apperrors.Category(err), "retryable", apperrors.IsRetryable(err), "error", err)
		c.conv.Update(func(tx *conversation.Tx) {
			tx.Transcript().AppendAssistant(ContentSendFailed)
			tx.SetLoading(false)
		})
		return err
	}
	return nil
}

// SendParamUpdate asks the backend to re-plan an intent with new parameters.
func (c *Client) SendParamUpdate(ctx context.Context, intentID string, overrides map[string]any) error {
	sessionID := c.conv.SessionID()
	if sessionID == "" {
		return apperrors.ErrNoSession
	}

	ctx = logger.WithSessionID(ctx, sessionID)
	if err := c.backend.SendParamUpdate(ctx, sessionID, intentID, overrides); err != nil {
		logger.FromContext(ctx).Error("Failed to send param update", "intent_id", intentID, "category", apperrors.Category(err), "retryable", apperrors.IsRetryable(err), "error", err)
		c.conv.Update(func(tx *conversation.Tx) {
			tx.Transcript().AppendAssistant(ContentParamUpdateFailed)
		})
		return err
	}
	return nil
}

func (c *Client) ResolveDecision(ctx context.Context, decisionID, optionID string) error {
	return c.coordinator.Resolve(logger.WithSessionID(ctx, c.conv.SessionID()), decisionID, optionID)
}

func (c *Client) ExecuteCommand(ctx context.Context, messageID string) error {
	return c.coordinator.ExecuteCommand(logger.WithSessionID(ctx, c.conv.SessionID()), messageID)
}

// Clear discards the transcript and session and starts over.
func (c *Client) Clear(ctx context.Context) error {
	return c.controller.Clear(ctx)
}

func (c *Client) Messages() []transcript.Message {
	return c.conv.Messages()
}

func (c *Client) IsLoading() bool {
	return c.conv.IsLoading()
}

func (c *Client) CurrentIntent() *conversation.Intent {
	return c.conv.CurrentIntent()
}

func (c *Client) CurrentDecision() *conversation.Decision {
	return c.conv.CurrentDecision()
}

func (c *Client) SessionID() string {
	return c.conv.SessionID()
}

func (c *Client) StreamState() session.State {
	return c.controller.State()
}

// Updates signals after every state change. Signals coalesce.
func (c *Client) Updates() <-chan struct{} {
	return c.conv.Changes()
}

// Export writes the transcript and returns the path written. An empty path
// picks a timestamped name; relative paths resolve against the configured
// export directory.
func (c *Client) Export(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = fmt.Sprintf("transcript-%s.json", c.now().UTC().Format("20060102-150405"))
	}
	if !filepath.IsAbs(path) && c.exportDir != "" {
		path = filepath.Join(c.exportDir, path)
	}
	if err := transcript.Export(path, c.conv.Messages()); err != nil {
		return "", err
	}
	return path, nil
}

// Close shuts the stream down and waits for its goroutines.
func (c *Client) Close() {
	c.controller.Close()
}
