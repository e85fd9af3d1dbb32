package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/infrapilot/internal/concurrency"
	"github.com/harunnryd/infrapilot/internal/config"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

const (
	EventMessage = "message"
	EventReady   = "ready"
)

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

// SSE reads text/event-stream responses.
type SSE struct {
	client        *http.Client
	maxFrameBytes int
}

// NewSSE returns an SSE transport. The client must not set a Timeout, since
// the response body stays open for the life of the session.
func NewSSE(client *http.Client, maxFrameBytes int) *SSE {
	if client == nil {
		client = &http.Client{}
	}
	return &SSE{client: client, maxFrameBytes: maxFrameBytes}
}

func (t *SSE) Open(url string, h Handler) Conn {
	c := newConn()
	concurrency.SafeGo("sse-reader", func() {
		defer close(c.done)
		t.run(c, url, h)
	}, func(err error) { c.fail(h, err) })
	return c
}

func (t *SSE) run(c *conn, url string, h Handler) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		c.fail(h, apperrors.InvalidInput(fmt.Sprintf("build stream request: %v", err)))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		c.fail(h, apperrors.TransientErr(err, "open event stream"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.fail(h, apperrors.FromStatus(resp.StatusCode, strings.TrimSpace(string(body))))
		return
	}

	err = ReadEvents(resp.Body, t.maxFrameBytes, func(ev Event) {
		switch ev.Name {
		case "", EventMessage:
			c.message(h, []byte(ev.Data))
		case EventReady:
			c.ready(h)
		default:
			slog.Debug("Ignoring named stream event", "event", ev.Name)
		}
	})
	if err == nil {
		err = apperrors.Transient("event stream closed by server")
	}
	c.fail(h, err)
}

// ReadEvents parses an event stream from r and calls fn for each dispatched
// event. It returns nil at EOF. An event with a line longer than
// maxFrameBytes is logged and dropped; reading continues with the next one.
func ReadEvents(r io.Reader, maxFrameBytes int, fn func(Event)) error {
	if maxFrameBytes <= 0 {
		maxFrameBytes = config.DefaultStreamMaxFrameBytes
	}
	br := bufio.NewReaderSize(r, min(maxFrameBytes+2, 64*1024))

	var (
		name    string
		id      string
		data    bytes.Buffer
		hasData bool
		dropped bool
	)

	for {
		line, tooLong, err := readLine(br, maxFrameBytes)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperrors.TransientErr(err, "read event stream")
		}

		if tooLong {
			slog.Warn("Dropping oversized stream event", "error", apperrors.ErrMalformedFrame, "limit", maxFrameBytes)
			dropped = true
			continue
		}

		if len(line) == 0 {
			if !dropped && (hasData || name != "") {
				fn(Event{Name: name, ID: id, Data: data.String()})
			}
			name = ""
			data.Reset()
			hasData = false
			dropped = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			id = value
		case "retry":
			// Reconnect timing is owned by the session controller.
		}
	}
}

// readLine returns the next line without its line ending. A line longer than
// limit is consumed up to its newline and reported as tooLong without content.
// A final line without a newline is returned before io.EOF.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(trimEOL(buf)) > limit {
				tooLong = true
				buf = nil
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) > 0 || tooLong {
				return trimEOL(buf), tooLong, nil
			}
			return nil, false, io.EOF
		case err != nil:
			return nil, false, err
		}
		return trimEOL(buf), tooLong, nil
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
