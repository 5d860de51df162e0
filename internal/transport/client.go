package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/wire"
)

// API is the subset of the server the session clients depend on.
type API interface {
	CreateSession(ctx context.Context, mode domain.Mode) (string, error)
	SendMessage(ctx context.Context, sessionID string, msg domain.Message) (*wire.MessageResponse, error)
	Messages(ctx context.Context, sessionID string) ([]wire.LogMessage, error)
}

// Client is the typed HTTP client of the therapy chat API.
type Client struct {
	base string
	doer *Doer
}

var _ API = (*Client)(nil)

// NewClient creates a client rooted at base, e.g. http://127.0.0.1:3000.
func NewClient(base string, doer *Doer) *Client {
	return &Client{base: strings.TrimRight(base, "/"), doer: doer}
}

// CreateSession asks the server for a new session id.
func (c *Client) CreateSession(ctx context.Context, mode domain.Mode) (string, error) {
	var out wire.CreateSessionResponse
	if err := c.call(ctx, http.MethodPost, "/api/session", wire.CreateSessionRequest{Mode: string(mode)}, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("create session: %w: empty sessionId", domain.ErrProtocol)
	}
	return out.SessionID, nil
}

// SendMessage posts one utterance and returns the decoded reply.
func (c *Client) SendMessage(ctx context.Context, sessionID string, msg domain.Message) (*wire.MessageResponse, error) {
	req := wire.MessageRequest{SessionID: sessionID, Role: string(msg.Role), Text: msg.Text}
	raw, err := c.raw(ctx, http.MethodPost, "/api/message", req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	resp, err := wire.DecodeMessageResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return resp, nil
}

// Messages returns the server-side log of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]wire.LogMessage, error) {
	var out wire.MessagesResponse
	path := "/api/session/" + url.PathEscape(sessionID) + "/messages"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out.Messages, nil
}

// Health probes GET /api/health.
func (c *Client) Health(ctx context.Context) (*wire.HealthResponse, error) {
	var out wire.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	raw, err := c.raw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = b
	}
	resp, err := c.doer.Do(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errorText(resp.Body)}
	}
	return resp.Body, nil
}

func errorText(body []byte) string {
	var e wire.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
