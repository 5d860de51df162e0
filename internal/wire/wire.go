// Package wire holds the JSON shapes exchanged with the therapy chat HTTP API.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/twochairs/internal/domain"
)

// CreateSessionRequest is the body of POST /api/session.
type CreateSessionRequest struct {
	Mode   string `json:"mode,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// CreateSessionResponse is returned by POST /api/session.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Teach     string `json:"teach,omitempty"`
}

// CreateUserRequest is the body of POST /api/user.
type CreateUserRequest struct {
	DisplayName    string `json:"displayName,omitempty"`
	TrustedContact string `json:"trustedContact,omitempty"`
}

// CreateUserResponse is returned by POST /api/user.
type CreateUserResponse struct {
	UserID string `json:"userId"`
}

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

// Progress counts the messages of the current cycle by persona.
type Progress struct {
	Self    int `json:"self"`
	Monster int `json:"monster"`
}

// SafetyPrompt suggests switching to the therapist room after a bleak round.
type SafetyPrompt struct {
	ShowSafetyPopup bool   `json:"showSafetyPopup"`
	Message         string `json:"message"`
	AcceptRedirect  string `json:"acceptRedirect,omitempty"`
	DeclineStay     bool   `json:"declineStay"`
}

// NextHint tells the client what to offer after a round closes.
type NextHint struct {
	AskToContinue bool `json:"askToContinue"`
}

// MessageResponse is the union of every reply shape of POST /api/message.
type MessageResponse struct {
	Crisis                 bool   `json:"crisis,omitempty"`
	Locked                 bool   `json:"locked,omitempty"`
	AlertMessage           string `json:"alertMessage,omitempty"`
	HotlinesURL            string `json:"hotlinesUrl,omitempty"`
	ResourcesURL           string `json:"resourcesUrl,omitempty"`
	NotifiedTrustedContact *bool  `json:"notifiedTrustedContact,omitempty"`

	AwaitMore   bool      `json:"awaitMore"`
	Have        *Progress `json:"have,omitempty"`
	Need        int       `json:"need,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`

	Angel  string        `json:"angel,omitempty"`
	Lumen  string        `json:"lumen,omitempty"`
	Safety *SafetyPrompt `json:"safety,omitempty"`
	Next   *NextHint     `json:"next,omitempty"`
}

// ReplyText returns the synthesized reply, trimmed. Angel wins unless preferLumen is set.
func (m *MessageResponse) ReplyText(preferLumen bool) string {
	first, second := m.Angel, m.Lumen
	if preferLumen {
		first, second = second, first
	}
	if text := strings.TrimSpace(first); text != "" {
		return text
	}
	return strings.TrimSpace(second)
}

// Reply classifies the response into its tagged variant.
func (m *MessageResponse) Reply() domain.Reply {
	switch {
	case m.Crisis:
		return domain.Reply{
			Kind: domain.ReplyCrisis,
			Alert: &domain.Alert{
				Message:      m.AlertMessage,
				HotlinesURL:  m.HotlinesURL,
				ResourcesURL: m.ResourcesURL,
				Locked:       m.Locked,
			},
		}
	case m.AwaitMore:
		return domain.Reply{Kind: domain.ReplyAwaitMore, Suggestions: m.Suggestions}
	default:
		reply := domain.Reply{Kind: domain.ReplyComplete, Text: m.ReplyText(false)}
		if m.Safety != nil && m.Safety.ShowSafetyPopup {
			reply.Referral = strings.TrimSpace(m.Safety.Message)
		}
		return reply
	}
}

// DecodeMessageResponse parses a 2xx body of POST /api/message.
func DecodeMessageResponse(body []byte) (*MessageResponse, error) {
	var resp MessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return &resp, nil
}

// LogMessage is one row of GET /api/session/:id/messages.
type LogMessage struct {
	ID        int64  `json:"id,omitempty"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

// MessagesResponse is returned by GET /api/session/:id/messages.
type MessagesResponse struct {
	Messages []LogMessage `json:"messages"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	OK   bool   `json:"ok"`
	Time string `json:"time"`
}

// ErrorResponse is the body of every non-2xx answer from the stub server.
type ErrorResponse struct {
	Error string `json:"error"`
}
