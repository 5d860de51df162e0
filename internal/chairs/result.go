package chairs

import "github.com/ashureev/twochairs/internal/domain"

// Outcome is what a call to Submit led to.
type Outcome int

const (
	// OutcomeSkipped means nothing was sent; see SkipReason.
	OutcomeSkipped Outcome = iota + 1
	// OutcomeAwaitMore means the round continues with the other persona.
	OutcomeAwaitMore
	// OutcomeComplete means the round closed with a synthesized reply.
	OutcomeComplete
	// OutcomeCrisis means the client is now locked until Reset.
	OutcomeCrisis
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAwaitMore:
		return "await_more"
	case OutcomeComplete:
		return "complete"
	case OutcomeCrisis:
		return "crisis"
	default:
		return "unknown"
	}
}

// SkipReason explains an OutcomeSkipped result.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipEmpty
	SkipTooLong
	SkipInFlight
	SkipLocked
	// SkipReset means Reset ran while the submission was in flight and the reply was discarded.
	SkipReset
)

func (s SkipReason) String() string {
	switch s {
	case SkipNone:
		return "none"
	case SkipEmpty:
		return "empty"
	case SkipTooLong:
		return "too_long"
	case SkipInFlight:
		return "in_flight"
	case SkipLocked:
		return "locked"
	case SkipReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Result describes one Submit call.
type Result struct {
	Outcome Outcome
	Skip    SkipReason

	// Role is the persona the text was sent as.
	Role domain.Role
	// Turn is the turn state after the reply was applied.
	Turn domain.TurnState

	Suggestions []string
	Reply       string
	// Referral suggests moving to the therapist room after a bleak round.
	Referral string
	Alert    *domain.Alert
}

// Snapshot is a consistent copy of the client state for rendering.
type Snapshot struct {
	SessionID   string
	Phase       domain.Phase
	Turn        domain.TurnState
	Suggestions []string
	LastReply   string
	Referral    string
	Alert       *domain.Alert
}

// Locked reports whether submissions are blocked until Reset.
func (s Snapshot) Locked() bool { return s.Phase == domain.PhaseLocked }

// MaxSuggestions bounds the server suggestions kept for the next self turn.
const MaxSuggestions = 4

// MonsterGuide lists the hints shown when the monster is about to speak.
func MonsterGuide() []string {
	return []string{
		"Say the harsh thought exactly as it sounds in your head.",
		"Keep it short. One or two sentences is enough.",
		"You are only giving it a voice, not agreeing with it.",
	}
}
