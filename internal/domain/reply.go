package domain

// ReplyKind tags the three shapes a message reply can take.
type ReplyKind int

const (
	// ReplyAwaitMore means the round continues with the other persona.
	ReplyAwaitMore ReplyKind = iota + 1
	// ReplyComplete carries the synthesized reply closing the round.
	ReplyComplete
	// ReplyCrisis carries a safety alert.
	ReplyCrisis
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAwaitMore:
		return "await_more"
	case ReplyComplete:
		return "complete"
	case ReplyCrisis:
		return "crisis"
	default:
		return "unknown"
	}
}

// Alert is the payload of a crisis reply.
type Alert struct {
	Message      string
	HotlinesURL  string
	ResourcesURL string
	Locked       bool
}

// Reply is the decoded server answer to one submitted message.
// Exactly one of the kind-specific fields is meaningful.
type Reply struct {
	Kind        ReplyKind
	Suggestions []string // ReplyAwaitMore
	Text        string   // ReplyComplete
	Referral    string   // ReplyComplete, set when the server suggests the therapist room
	Alert       *Alert   // ReplyCrisis
}
