// Package domain contains core domain types for the two-chairs client.
package domain

import (
	"fmt"
	"time"
)

// Mode selects the dialogue flavour requested when a session is created.
type Mode string

const (
	// ModeTwoChairs is the self/monster role-switching dialogue.
	ModeTwoChairs Mode = "two-chairs"
	// ModeTherapistRoom is the single-persona chat.
	ModeTherapistRoom Mode = "therapist-room"
)

// DefaultStepThreshold is the number of acknowledged messages after which the
// next reply is expected to close the round.
const DefaultStepThreshold = 5

// Phase is the externally visible state of a session client.
type Phase int

const (
	// PhaseIdle accepts submissions.
	PhaseIdle Phase = iota
	// PhaseAwaitingReply means a submission is in flight.
	PhaseAwaitingReply
	// PhaseLocked is entered on a crisis reply and left only through reset.
	PhaseLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseLocked:
		return "locked"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TurnState tracks whose turn it is and how far the current round has come.
type TurnState struct {
	Role  Role
	Steps int
}

// NewTurnState returns the state at the start of a round.
func NewTurnState() TurnState {
	return TurnState{Role: RoleSelf}
}

// Advance flips the role and counts one acknowledged message.
// Steps never grow past threshold; the server closes the round before that.
func (t TurnState) Advance(threshold int) TurnState {
	steps := t.Steps + 1
	if steps > threshold {
		steps = threshold
	}
	return TurnState{Role: t.Role.Other(), Steps: steps}
}

// SynthesisDue reports whether the next acknowledged message is expected to
// close the round with a synthesized reply.
func (t TurnState) SynthesisDue(threshold int) bool {
	return t.Steps >= threshold
}

// Session is a locally remembered server session identifier.
type Session struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
}
