package stream

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/infrapilot/internal/concurrency"
	"github.com/harunnryd/infrapilot/internal/config"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

// WebSocket receives frames as text messages. The completed handshake is
// reported as ready.
type WebSocket struct {
	dialer        *websocket.Dialer
	maxFrameBytes int
}

func NewWebSocket(maxFrameBytes int) *WebSocket {
	if maxFrameBytes <= 0 {
		maxFrameBytes = config.DefaultStreamMaxFrameBytes
	}
	return &WebSocket{dialer: websocket.DefaultDialer, maxFrameBytes: maxFrameBytes}
}

func (t *WebSocket) Open(url string, h Handler) Conn {
	c := newConn()
	concurrency.SafeGo("ws-reader", func() {
		defer close(c.done)
		t.run(c, url, h)
	}, func(err error) { c.fail(h, err) })
	return c
}

func (t *WebSocket) run(c *conn, url string, h Handler) {
	ws, resp, err := t.dialer.DialContext(c.ctx, WebSocketURL(url), http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			c.fail(h, apperrors.FromStatus(resp.StatusCode, ""))
			return
		}
		c.fail(h, apperrors.TransientErr(err, "dial websocket"))
		return
	}
	if !c.attach(ws.Close) {
		_ = ws.Close()
		return
	}
	defer ws.Close()

	c.ready(h)

	for {
		kind, r, err := ws.NextReader()
		if err != nil {
			c.fail(h, readError(err))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		// The unread remainder of an oversized message is discarded by the
		// next NextReader call, so the connection stays usable.
		frame, err := io.ReadAll(io.LimitReader(r, int64(t.maxFrameBytes)+1))
		if err != nil {
			c.fail(h, readError(err))
			return
		}
		if len(frame) > t.maxFrameBytes {
			slog.Warn("Dropping oversized websocket frame", "error", apperrors.ErrMalformedFrame, "limit", t.maxFrameBytes)
			continue
		}
		c.message(h, frame)
	}
}

func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return apperrors.Transient("websocket closed by server")
	}
	return apperrors.TransientErr(err, "read websocket")
}

// WebSocketURL rewrites an http(s) URL to the matching ws(s) scheme.
func WebSocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}
