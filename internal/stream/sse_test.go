package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

func TestReadEvents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "unnamed data frames",
			input: "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n",
			want:  []Event{{Data: `{"a":1}`}, {Data: `{"b":2}`}},
		},
		{
			name:  "named ready event",
			input: "event: ready\ndata: {}\n\n",
			want:  []Event{{Name: "ready", Data: "{}"}},
		},
		{
			name:  "multi-line data joined with newline",
			input: "data: first\ndata: second\n\n",
			want:  []Event{{Data: "first\nsecond"}},
		},
		{
			name:  "comments and retry ignored",
			input: ": keepalive\nretry: 1000\ndata: x\n\n",
			want:  []Event{{Data: "x"}},
		},
		{
			name:  "crlf line endings and no space after colon",
			input: "id: 7\r\nevent:message\r\ndata:x\r\n\r\n",
			want:  []Event{{Name: "message", ID: "7", Data: "x"}},
		},
		{
			name:  "blank lines without fields dispatch nothing",
			input: "\n\n\n",
			want:  nil,
		},
		{
			name:  "trailing event without blank line is not dispatched",
			input: "data: done\n\ndata: partial",
			want:  []Event{{Data: "done"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Event
			err := ReadEvents(strings.NewReader(tt.input), 1024, func(ev Event) { got = append(got, ev) })
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadEvents_OversizedEventIsDroppedAndReadingContinues(t *testing.T) {
	token := `{"type":"token","payload":{"text":"hi"}}`
	input := "data: " + strings.Repeat("x", 200) + "\n\n" +
		"data: " + token + "\n\n" +
		"event: message\ndata: " + strings.Repeat("y", 300) + "\ndata: tail\n\n" +
		"data: last\n\n"

	var got []Event
	err := ReadEvents(strings.NewReader(input), 128, func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, token, got[0].Data)
	assert.Equal(t, "last", got[1].Data)
}

func TestReadEvents_LineAtLimitIsKept(t *testing.T) {
	payload := strings.Repeat("z", 32)
	var got []Event
	err := ReadEvents(strings.NewReader("data:"+payload+"\r\n\r\n"), len("data:"+payload), func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Data)
}

type recorder struct {
	ready    chan struct{}
	messages chan string
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{
		ready:    make(chan struct{}, 4),
		messages: make(chan string, 16),
		errs:     make(chan error, 4),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnReady:   func() { r.ready <- struct{}{} },
		OnMessage: func(frame []byte) { r.messages <- string(frame) },
		OnError:   func(err error) { r.errs <- err },
	}
}

func (r *recorder) nextMessage(t *testing.T) string {
	t.Helper()
	select {
	case m := <-r.messages:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func (r *recorder) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func testClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

func sseHandler(frames []string, hold bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: ready\ndata: {}\n\n")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		flusher.Flush()

		if hold {
			<-r.Context().Done()
		}
	}
}

func TestSSE_DeliversReadyAndMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(sseHandler([]string{`{"type":"token","payload":{"text":"a"}}`, `{"type":"log","payload":{}}`}, true))
	defer srv.Close()

	rec := newRecorder()
	conn := NewSSE(testClient(), 1024).Open(srv.URL, rec.handler())

	select {
	case <-rec.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("no ready callback")
	}
	assert.Equal(t, `{"type":"token","payload":{"text":"a"}}`, rec.nextMessage(t))
	assert.Equal(t, `{"type":"log","payload":{}}`, rec.nextMessage(t))

	conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after Close")
	}
	assert.Empty(t, rec.errs, "local close must not report an error")
}

func TestSSE_ServerCloseReportsTransientError(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{`{"type":"log","payload":{}}`}, false))
	defer srv.Close()

	rec := newRecorder()
	conn := NewSSE(testClient(), 1024).Open(srv.URL, rec.handler())
	defer conn.Close()

	rec.nextMessage(t)
	err := rec.nextError(t)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSSE_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	rec := newRecorder()
	conn := NewSSE(testClient(), 1024).Open(srv.URL, rec.handler())
	defer conn.Close()

	err := rec.nextError(t)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "no such session")
}

func TestSSE_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := newRecorder()
	conn := NewSSE(testClient(), 1024).Open(url, rec.handler())
	defer conn.Close()

	err := rec.nextError(t)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
}

func TestSSE_CloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(nil, true))
	defer srv.Close()

	conn := NewSSE(testClient(), 1024).Open(srv.URL, Handler{})
	conn.Close()
	conn.Close()
	<-conn.Done()
}
