// Package backend is the HTTP client for the infrastructure chat backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

const ModeParamUpdate = "param_update"

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type ParamUpdateRequest struct {
	Mode           string         `json:"mode"`
	IntentID       string         `json:"intent_id"`
	ParamOverrides map[string]any `json:"param_overrides"`
}

type ResolveRequest struct {
	OptionID string `json:"option_id"`
}

// Client talks to the backend's request/response endpoints. Responses to
// message and resolve requests are not interpreted; their effects arrive on
// the push stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func New(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateSession opens a new backend session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", apperrors.Internal("create session: response has no session_id")
	}
	return resp.SessionID, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, content string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), MessageRequest{Content: content}, nil)
}

func (c *Client) SendParamUpdate(ctx context.Context, sessionID, intentID string, overrides map[string]any) error {
	if overrides == nil {
		overrides = map[string]any{}
	}
	body := ParamUpdateRequest{Mode: ModeParamUpdate, IntentID: intentID, ParamOverrides: overrides}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), body, nil)
}

func (c *Client) ResolveDecision(ctx context.Context, decisionID, optionID string) error {
	path := "/decisions/" + url.PathEscape(decisionID) + "/resolve"
	return c.do(ctx, http.MethodPost, path, ResolveRequest{OptionID: optionID}, nil)
}

// EventsURL is the push-stream address for a session.
func (c *Client) EventsURL(sessionID string) string {
	return c.baseURL + sessionPath(sessionID, "events")
}

func sessionPath(sessionID, leaf string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(fmt.Sprintf("marshal request body: %v", err))
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.TransientErr(err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Wrap(apperrors.FromStatus(resp.StatusCode, strings.TrimSpace(string(raw))), fmt.Sprintf("%s %s", method, path))
	}

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return apperrors.Internal(fmt.Sprintf("decode %s %s response: %v", method, path, err))
	}
	return nil
}
