package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/harunnryd/infrapilot/internal/backend/fakebackend"
	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/conversation"
	"github.com/harunnryd/infrapilot/internal/decision"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/reducer"
	"github.com/harunnryd/infrapilot/internal/transcript"
)

const waitFor = 3 * time.Second

func testConfig(baseURL, transport, exportDir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BaseURL: baseURL, RequestTimeout: "2s"},
		Stream: config.StreamConfig{Transport: transport, ReconnectDelay: "20ms", MaxFrameBytes: 1 << 20},
		Decision: config.DecisionConfig{
			MinEventIDLength:   config.DefaultDecisionMinEventIDLength,
			MinResolveIDLength: config.DefaultDecisionMinResolveIDLength,
		},
		Transcript: config.TranscriptConfig{ExportDir: exportDir},
	}
}

func newTestClient(t *testing.T, transport string) (*Client, *fakebackend.Server) {
	t.Helper()
	fb := fakebackend.New()
	srv := httptest.NewServer(fb.Handler())

	c, err := New(testConfig(srv.URL, transport, t.TempDir()),
		WithRoundTripper(&http.Transport{DisableKeepAlives: true}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		fb.DropStreams()
		srv.Close()
	})
	return c, fb
}

func lastDecision(msgs []transcript.Message) *transcript.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].DecisionID != "" {
			return &msgs[i]
		}
	}
	return nil
}

// proposeVM sends a message and waits for the backend's decision card.
func proposeVM(t *testing.T, c *Client) transcript.Message {
	t.Helper()
	require.NoError(t, c.SendMessage(context.Background(), "create a vm"))

	var card *transcript.Message
	require.Eventually(t, func() bool {
		card = lastDecision(c.Messages())
		return card != nil && card.IsDecision && !c.IsLoading()
	}, waitFor, 5*time.Millisecond)
	return *card
}

func TestConversation_RunFlow(t *testing.T) {
	for _, transport := range []string{config.TransportSSE, config.TransportWebSocket} {
		t.Run(transport, func(t *testing.T) {
			c, _ := newTestClient(t, transport)
			require.NoError(t, c.Start(context.Background()))

			card := proposeVM(t, c)
			assert.Equal(t, "Proceed?", card.Summary)
			assert.Len(t, card.DecisionOptions, 3)
			require.NotNil(t, card.ParsedCommand)
			assert.Equal(t, "vm", card.ParsedCommand.Resource)

			msgs := c.Messages()
			assert.Equal(t, transcript.RoleUser, msgs[0].Role)
			assert.Equal(t, "create a vm", msgs[0].Content)

			require.NoError(t, c.ExecuteCommand(context.Background(), card.ID))

			require.Eventually(t, func() bool {
				m := lastDecision(c.Messages())
				return m.ExecutionStatus != nil && m.ExecutionStatus.Message == reducer.StatusExecuteSucceeded
			}, waitFor, 5*time.Millisecond)

			m := lastDecision(c.Messages())
			assert.False(t, m.IsDecision)
			assert.True(t, m.ExecutionStatus.IsComplete)
			assert.True(t, m.ExecutionStatus.Success)
			assert.Contains(t, m.RawContent, "create vm: done")
		})
	}
}

func TestConversation_CancelFlow(t *testing.T) {
	c, _ := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))

	card := proposeVM(t, c)
	require.NoError(t, c.ResolveDecision(context.Background(), card.DecisionID, decision.OptionCancel))

	m := lastDecision(c.Messages())
	assert.False(t, m.IsDecision)
	assert.Equal(t, decision.ContentCancelled, m.Content)
	assert.Equal(t, transcript.ExecutionStatus{IsComplete: true, Message: decision.StatusCancelled}, *m.ExecutionStatus)
}

func TestConversation_EditFlow(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))

	card := proposeVM(t, c)
	require.NoError(t, c.ResolveDecision(context.Background(), card.DecisionID, fakebackend.OptionEdit))

	require.Eventually(t, func() bool {
		for _, m := range c.Messages() {
			if m.IsEditMode && m.Content == reducer.ContentEditParameters {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	intent := c.CurrentIntent()
	require.NotNil(t, intent)
	require.NoError(t, c.SendParamUpdate(context.Background(), intent.ID, map[string]any{"size": "large"}))

	require.Eventually(t, func() bool {
		m := lastDecision(c.Messages())
		return m != nil && m.IsDecision && m.DecisionID != card.DecisionID &&
			m.ParsedCommand != nil && m.ParsedCommand.Parameters["size"] == "large"
	}, waitFor, 5*time.Millisecond)

	assert.Len(t, fb.DecisionIDs(), 1)
}

func TestSendMessage_IgnoresBlankAndBusy(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.SendMessage(context.Background(), "   "))
	assert.Empty(t, c.Messages())

	c.conv.Update(func(tx *conversation.Tx) { tx.SetLoading(true) })
	err := c.SendMessage(context.Background(), "create a vm")
	assert.ErrorIs(t, err, apperrors.ErrBusy)
	assert.Empty(t, c.Messages())
	assert.Equal(t, 0, fb.Count(fakebackend.RouteMessages))
}

func TestSendMessage_Failure(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))
	fb.FailNext(fakebackend.RouteMessages, 1)

	err := c.SendMessage(context.Background(), "create a vm")
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.False(t, c.IsLoading())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "create a vm", msgs[0].Content)
	assert.Equal(t, ContentSendFailed, msgs[1].Content)
}

func TestSendMessage_CreatesSessionWhenMissing(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)

	proposeVM(t, c)
	assert.NotEmpty(t, c.SessionID())
	assert.Equal(t, 1, fb.Count(fakebackend.RouteCreateSession))
}

func TestSendParamUpdate(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)

	err := c.SendParamUpdate(context.Background(), "int-1", nil)
	assert.ErrorIs(t, err, apperrors.ErrNoSession)

	require.NoError(t, c.Start(context.Background()))
	err = c.SendParamUpdate(context.Background(), "unknown-intent", map[string]any{"size": "large"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 1, fb.Count(fakebackend.RouteMessages))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ContentParamUpdateFailed, msgs[0].Content)
}

func TestClear(t *testing.T) {
	c, fb := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))
	first := c.SessionID()
	proposeVM(t, c)

	require.NoError(t, c.Clear(context.Background()))
	assert.Empty(t, c.Messages())
	assert.NotEqual(t, first, c.SessionID())
	assert.Nil(t, c.CurrentDecision())
	assert.Nil(t, c.CurrentIntent())
	assert.Equal(t, 2, fb.Count(fakebackend.RouteCreateSession))
}

func TestUpdates_Signal(t *testing.T) {
	c, _ := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))

	// Drain whatever Start produced.
	select {
	case <-c.Updates():
	default:
	}

	require.NoError(t, c.SendMessage(context.Background(), "create a vm"))
	select {
	case <-c.Updates():
	case <-time.After(waitFor):
		t.Fatal("no update signal")
	}
}

func TestExport(t *testing.T) {
	c, _ := newTestClient(t, config.TransportSSE)
	require.NoError(t, c.Start(context.Background()))
	proposeVM(t, c)

	path, err := c.Export("session.yaml")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Count    int                  `yaml:"message_count"`
		Messages []transcript.Message `yaml:"messages"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, len(c.Messages()), doc.Count)
	assert.Equal(t, "create a vm", doc.Messages[0].Content)

	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	path, err = c.Export("")
	require.NoError(t, err)
	assert.Equal(t, "transcript-20260102-030405.json", filepath.Base(path))
	assert.FileExists(t, path)
}

func TestNew_RejectsBadDurations(t *testing.T) {
	cfg := testConfig("http://localhost:1", config.TransportSSE, "")
	cfg.Stream.ReconnectDelay = "soon"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.reconnect_delay")
}

func TestClose_LeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fb := fakebackend.New()
	srv := httptest.NewServer(fb.Handler())
	defer srv.Close()
	defer fb.DropStreams()

	c, err := New(testConfig(srv.URL, config.TransportSSE, t.TempDir()),
		WithRoundTripper(&http.Transport{DisableKeepAlives: true}))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	proposeVM(t, c)

	c.Close()
}
