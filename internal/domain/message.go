package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxTextLen is the largest accepted utterance, in characters.
const DefaultMaxTextLen = 2000

// Role identifies who spoke a line of the dialogue.
type Role string

const (
	// RoleSelf is the user's own voice.
	RoleSelf Role = "self"
	// RoleMonster is the externalized critical voice.
	RoleMonster Role = "monster"
	// RoleAngel is the server-synthesized reflection.
	RoleAngel Role = "angel"
	// RoleLumen is the display name of the synthesized reflection.
	RoleLumen Role = "lumen"
)

// Other returns the opposite speaking persona. Non-speaking roles map to self.
func (r Role) Other() Role {
	if r == RoleSelf {
		return RoleMonster
	}
	return RoleSelf
}

// IsSpeaker reports whether the role may be submitted to the message endpoint.
func (r Role) IsSpeaker() bool {
	return r == RoleSelf || r == RoleMonster
}

// ParseRole validates a wire role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSelf, RoleMonster, RoleAngel, RoleLumen:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Message is one utterance submitted to the server.
type Message struct {
	Role Role
	Text string
}

// TranscriptEntry is one line of the client-side journal.
type TranscriptEntry struct {
	SessionID string
	Role      Role
	Text      string
	Timestamp time.Time
}

// NormalizeUtterance trims raw input and checks it against maxLen characters.
func NormalizeUtterance(raw string, maxLen int) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyText
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", ErrTextTooLong
	}
	return text, nil
}

// StoredMessage is a message row kept by the stub server.
type StoredMessage struct {
	ID        int64
	SessionID string
	Role      Role
	Text      string
	CreatedAt time.Time
}
