// Package chairs implements the two-chairs turn-taking session client. It
// tracks whose turn it is, submits each utterance and applies the server's
// reply to the turn state.
package chairs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/twochairs/internal/convlog"
	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/transport"
)

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	MaxTextLen    int
	StepThreshold int
	Sessions      store.SessionStore
	Journal       *journal.Journal
	ConvLog       convlog.Logger
	Logger        *slog.Logger
}

// Client owns one two-chairs session. It is safe for concurrent use; at most
// one submission is in flight at a time.
type Client struct {
	api       transport.API
	sessions  store.SessionStore
	journal   *journal.Journal
	convlog   convlog.Logger
	logger    *slog.Logger
	maxLen    int
	threshold int

	mu          sync.Mutex
	sessionID   string
	phase       domain.Phase
	turn        domain.TurnState
	suggestions []string
	lastReply   string
	referral    string
	alert       *domain.Alert
	generation  uint64
}

// New creates a client in the Idle phase with no session.
func New(api transport.API, opts Options) *Client {
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = domain.DefaultMaxTextLen
	}
	if opts.StepThreshold <= 0 {
		opts.StepThreshold = domain.DefaultStepThreshold
	}
	if opts.ConvLog == nil {
		opts.ConvLog = convlog.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		api:       api,
		sessions:  opts.Sessions,
		journal:   opts.Journal,
		convlog:   opts.ConvLog,
		logger:    opts.Logger.With("mode", domain.ModeTwoChairs),
		maxLen:    opts.MaxTextLen,
		threshold: opts.StepThreshold,
		phase:     domain.PhaseIdle,
		turn:      domain.NewTurnState(),
	}
}

// Restore picks up the remembered session id, if any.
func (c *Client) Restore(ctx context.Context) error {
	if c.sessions == nil {
		return nil
	}
	sess, err := c.sessions.ActiveSession(ctx, domain.ModeTwoChairs)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if sess == nil {
		return nil
	}
	c.mu.Lock()
	c.sessionID = sess.ID
	c.mu.Unlock()
	c.logger.Info("session restored", "session_id", sess.ID)
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:   c.sessionID,
		Phase:       c.phase,
		Turn:        c.turn,
		Suggestions: append([]string(nil), c.suggestions...),
		LastReply:   c.lastReply,
		Referral:    c.referral,
		Alert:       c.alert,
	}
}

// Submit sends raw as the current persona. Invalid input, a pending
// submission and the locked phase yield OutcomeSkipped without a network
// call. A transport failure returns an error and leaves the state untouched.
func (c *Client) Submit(ctx context.Context, raw string) (Result, error) {
	c.mu.Lock()
	switch c.phase {
	case domain.PhaseLocked:
		c.mu.Unlock()
		return Result{Outcome: OutcomeSkipped, Skip: SkipLocked}, nil
	case domain.PhaseAwaitingReply:
		c.mu.Unlock()
		return Result{Outcome: OutcomeSkipped, Skip: SkipInFlight}, nil
	}
	text, err := domain.NormalizeUtterance(raw, c.maxLen)
	if err != nil {
		c.mu.Unlock()
		reason := SkipEmpty
		if errors.Is(err, domain.ErrTextTooLong) {
			reason = SkipTooLong
		}
		return Result{Outcome: OutcomeSkipped, Skip: reason}, nil
	}
	c.phase = domain.PhaseAwaitingReply
	gen := c.generation
	role := c.turn.Role
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID == "" {
		sessionID, err = c.createSession(ctx)
		if err != nil {
			c.release(gen)
			return Result{}, err
		}
		if !c.adoptSession(gen, sessionID) {
			return Result{Outcome: OutcomeSkipped, Skip: SkipReset}, nil
		}
	}

	c.logEvent(sessionID, convlog.DirectionOutbound, convlog.EventUserMessage, role, text, nil)
	resp, err := c.api.SendMessage(ctx, sessionID, domain.Message{Role: role, Text: text})
	if err != nil {
		c.release(gen)
		c.logger.Warn("submit failed", "session_id", sessionID, "role", role, "error", err)
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventTransportErr, "", err.Error(), nil)
		return Result{}, fmt.Errorf("submit: %w", err)
	}

	reply := resp.Reply()
	res, ok := c.apply(gen, role, reply)
	if !ok {
		return Result{Outcome: OutcomeSkipped, Skip: SkipReset}, nil
	}
	c.record(ctx, sessionID, role, text, res)
	return res, nil
}

func (c *Client) apply(gen uint64, role domain.Role, reply domain.Reply) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return Result{}, false
	}

	res := Result{Role: role}
	c.referral = ""
	switch reply.Kind {
	case domain.ReplyCrisis:
		c.phase = domain.PhaseLocked
		c.alert = reply.Alert
		c.suggestions = nil
		res.Outcome = OutcomeCrisis
		res.Alert = reply.Alert
	case domain.ReplyAwaitMore:
		c.phase = domain.PhaseIdle
		c.turn = c.turn.Advance(c.threshold)
		c.suggestions = nil
		if c.turn.Role == domain.RoleSelf && len(reply.Suggestions) > 0 {
			n := min(len(reply.Suggestions), MaxSuggestions)
			c.suggestions = append([]string(nil), reply.Suggestions[:n]...)
		}
		res.Outcome = OutcomeAwaitMore
		res.Suggestions = append([]string(nil), c.suggestions...)
	default:
		c.phase = domain.PhaseIdle
		c.turn = domain.NewTurnState()
		c.suggestions = nil
		c.lastReply = reply.Text
		c.referral = reply.Referral
		res.Outcome = OutcomeComplete
		res.Reply = reply.Text
		res.Referral = reply.Referral
	}
	res.Turn = c.turn
	return res, true
}

// record writes the accepted exchange to the journal and conversation log.
func (c *Client) record(ctx context.Context, sessionID string, role domain.Role, text string, res Result) {
	c.appendJournal(ctx, sessionID, role, text)

	switch res.Outcome {
	case OutcomeCrisis:
		c.logger.Warn("crisis reply, client locked", "session_id", sessionID, "role", role)
		meta := map[string]any{}
		if res.Alert != nil {
			meta["locked"] = res.Alert.Locked
			meta["hotlines_url"] = res.Alert.HotlinesURL
		}
		msg := ""
		if res.Alert != nil {
			msg = res.Alert.Message
		}
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventCrisis, "", msg, meta)
	case OutcomeAwaitMore:
		c.logger.Info("round continues", "session_id", sessionID, "role", res.Turn.Role, "steps", res.Turn.Steps)
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventAwaitMore, "", "",
			map[string]any{"next_role": string(res.Turn.Role), "steps": res.Turn.Steps, "suggestions": len(res.Suggestions)})
	case OutcomeComplete:
		c.logger.Info("round complete", "session_id", sessionID)
		if res.Reply != "" {
			c.appendJournal(ctx, sessionID, domain.RoleLumen, res.Reply)
		}
		var meta map[string]any
		if res.Referral != "" {
			c.logger.Info("server suggests the therapist room", "session_id", sessionID)
			meta = map[string]any{"referral": res.Referral}
		}
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventReply, domain.RoleLumen, res.Reply, meta)
	}
}

// Reset forgets the session, the turn state and the lock, then eagerly asks
// for a new session. When that fails the client stays Idle without a session
// and the next Submit creates one.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	old := c.sessionID
	c.generation++
	c.sessionID = ""
	c.phase = domain.PhaseIdle
	c.turn = domain.NewTurnState()
	c.suggestions = nil
	c.lastReply = ""
	c.referral = ""
	c.alert = nil
	gen := c.generation
	c.mu.Unlock()

	if old != "" {
		c.logEvent(old, convlog.DirectionLocal, convlog.EventReset, "", "", nil)
		if c.journal != nil {
			if err := c.journal.Clear(ctx, old); err != nil {
				c.logger.Warn("failed to clear journal", "session_id", old, "error", err)
			}
		}
	}
	if c.sessions != nil {
		if err := c.sessions.ClearActiveSession(ctx, domain.ModeTwoChairs); err != nil {
			c.logger.Warn("failed to forget session", "error", err)
		}
	}

	id, err := c.createSession(ctx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.adoptSession(gen, id)
	return nil
}

// Entries returns the local transcript of the current session.
func (c *Client) Entries(ctx context.Context) ([]domain.TranscriptEntry, error) {
	if c.journal == nil {
		return nil, nil
	}
	return c.journal.Entries(ctx, c.Snapshot().SessionID)
}

func (c *Client) createSession(ctx context.Context) (string, error) {
	id, err := c.api.CreateSession(ctx, domain.ModeTwoChairs)
	if err != nil {
		c.logger.Warn("create session failed", "error", err)
		return "", err
	}
	if c.sessions != nil {
		if err := c.sessions.SaveActiveSession(ctx, &domain.Session{ID: id, Mode: domain.ModeTwoChairs}); err != nil {
			c.logger.Warn("failed to remember session", "session_id", id, "error", err)
		}
	}
	c.logger.Info("session created", "session_id", id)
	return id, nil
}

// adoptSession installs id unless Reset ran in between.
func (c *Client) adoptSession(gen uint64, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.sessionID = id
	return true
}

// release returns to Idle after a failed attempt.
func (c *Client) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation && c.phase == domain.PhaseAwaitingReply {
		c.phase = domain.PhaseIdle
	}
}

func (c *Client) appendJournal(ctx context.Context, sessionID string, role domain.Role, text string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(ctx, sessionID, role, text); err != nil {
		c.logger.Warn("failed to append journal", "session_id", sessionID, "error", err)
	}
}

func (c *Client) logEvent(sessionID, direction, eventType string, role domain.Role, content string, meta map[string]any) {
	c.convlog.Log(convlog.Event{
		Mode:       string(domain.ModeTwoChairs),
		SessionID:  sessionID,
		Direction:  direction,
		EventType:  eventType,
		Role:       string(role),
		ContentRaw: content,
		Meta:       meta,
	})
}
