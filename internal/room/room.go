// Package room implements the single-persona therapist-room session client.
package room

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

// FallbackReply is shown when the server closes a turn without text.
const FallbackReply = "I'm here."

// ErrBusy is returned when a message is already in flight.
var ErrBusy = errors.New("a message is already being sent")

// ErrLocked is returned while a locking crisis reply is active.
var ErrLocked = errors.New("session locked after a safety alert")

// ErrReset is returned when NewSession ran while the message was in flight.
// The reply is dropped and nothing is recorded.
var ErrReset = errors.New("session was replaced while the message was in flight")

// Reply is the outcome of one Send.
type Reply struct {
	Text  string
	Alert *domain.Alert
}

// Options tunes a Client.
type Options struct {
	MaxTextLen int
	Sessions   store.SessionStore
	Journal    *journal.Journal
	ConvLog    convlog.Logger
	Logger     *slog.Logger
}

// Client talks to the server as the user's own voice only.
type Client struct {
	api      transport.API
	sessions store.SessionStore
	journal  *journal.Journal
	convlog  convlog.Logger
	logger   *slog.Logger
	maxLen   int

	mu        sync.Mutex
	sessionID string
	inflight  bool
	locked    bool
	alert     *domain.Alert
	lastReply string
	// generation bumps on NewSession so late replies can be told apart.
	generation uint64
}

// New creates a client without a session. Without a journal the history is
// kept in memory.
func New(api transport.API, opts Options) *Client {
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = domain.DefaultMaxTextLen
	}
	if opts.Journal == nil {
		opts.Journal = journal.New(store.NewMemory())
	}
	if opts.ConvLog == nil {
		opts.ConvLog = convlog.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		api:      api,
		sessions: opts.Sessions,
		journal:  opts.Journal,
		convlog:  opts.ConvLog,
		logger:   opts.Logger.With("mode", domain.ModeTherapistRoom),
		maxLen:   opts.MaxTextLen,
	}
}

// Restore picks up the remembered session id, if any.
func (c *Client) Restore(ctx context.Context) error {
	if c.sessions == nil {
		return nil
	}
	sess, err := c.sessions.ActiveSession(ctx, domain.ModeTherapistRoom)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if sess != nil {
		c.mu.Lock()
		c.sessionID = sess.ID
		c.mu.Unlock()
	}
	return nil
}

// SessionID returns the current session id, empty before the first message.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Locked reports whether Send is refused until NewSession.
func (c *Client) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Alert returns the last crisis alert, if any.
func (c *Client) Alert() *domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alert
}

// LastReply returns the most recent reply text.
func (c *Client) LastReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReply
}

// Send submits text and returns the reply. Input is validated with the
// same rules as the two-chairs client and rejected with the domain errors.
func (c *Client) Send(ctx context.Context, raw string) (*Reply, error) {
	text, err := domain.NormalizeUtterance(raw, c.maxLen)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		return nil, ErrLocked
	}
	if c.inflight {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.inflight = true
	sessionID := c.sessionID
	gen := c.generation
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
	}()

	if sessionID == "" {
		sessionID, err = c.api.CreateSession(ctx, domain.ModeTherapistRoom)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if !c.remember(ctx, gen, sessionID) {
			return nil, ErrReset
		}
	}

	c.logEvent(sessionID, convlog.DirectionOutbound, convlog.EventUserMessage, domain.RoleSelf, text)
	resp, err := c.api.SendMessage(ctx, sessionID, domain.Message{Role: domain.RoleSelf, Text: text})
	if err != nil {
		c.logger.Warn("send failed", "session_id", sessionID, "error", err)
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventTransportErr, "", err.Error())
		return nil, fmt.Errorf("send: %w", err)
	}
	if !c.current(gen) {
		c.logger.Info("reply discarded after new session", "session_id", sessionID)
		return nil, ErrReset
	}
	c.appendJournal(ctx, sessionID, domain.RoleSelf, text)

	if resp.Crisis {
		alert := resp.Reply().Alert
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return nil, ErrReset
		}
		c.alert = alert
		c.locked = alert.Locked
		c.mu.Unlock()
		c.logger.Warn("crisis reply", "session_id", sessionID, "locked", alert.Locked)
		c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventCrisis, "", alert.Message)
		return &Reply{Alert: alert}, nil
	}

	reply := resp.ReplyText(true)
	if reply == "" {
		reply = FallbackReply
	}
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return nil, ErrReset
	}
	c.lastReply = reply
	c.mu.Unlock()
	c.appendJournal(ctx, sessionID, domain.RoleLumen, reply)
	c.logEvent(sessionID, convlog.DirectionInbound, convlog.EventReply, domain.RoleLumen, reply)
	return &Reply{Text: reply}, nil
}

// History returns the local transcript of the current session.
func (c *Client) History(ctx context.Context) ([]domain.TranscriptEntry, error) {
	return c.journal.Entries(ctx, c.SessionID())
}

// SyncLog replaces the local history with the server log.
func (c *Client) SyncLog(ctx context.Context) ([]domain.TranscriptEntry, error) {
	id := c.SessionID()
	if id == "" {
		return nil, nil
	}
	entries, err := c.journal.Resync(ctx, c.api, id)
	if err != nil {
		return nil, fmt.Errorf("sync log: %w", err)
	}
	return entries, nil
}

// NewSession drops the session, the history and any lock. A reply still in
// flight is discarded when it arrives.
func (c *Client) NewSession(ctx context.Context) error {
	c.mu.Lock()
	old := c.sessionID
	c.generation++
	c.sessionID = ""
	c.locked = false
	c.alert = nil
	c.lastReply = ""
	c.mu.Unlock()

	if old != "" {
		c.logEvent(old, convlog.DirectionLocal, convlog.EventReset, "", "")
		if err := c.journal.Clear(ctx, old); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
	}
	if c.sessions != nil {
		if err := c.sessions.ClearActiveSession(ctx, domain.ModeTherapistRoom); err != nil {
			return fmt.Errorf("forget session: %w", err)
		}
	}
	return nil
}

// remember adopts a freshly created session unless NewSession ran meanwhile.
func (c *Client) remember(ctx context.Context, gen uint64, id string) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Info("created session dropped after new session", "session_id", id)
		return false
	}
	c.sessionID = id
	c.mu.Unlock()
	if c.sessions == nil {
		return true
	}
	if err := c.sessions.SaveActiveSession(ctx, &domain.Session{ID: id, Mode: domain.ModeTherapistRoom}); err != nil {
		c.logger.Warn("failed to remember session", "session_id", id, "error", err)
	}
	return true
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Client) appendJournal(ctx context.Context, sessionID string, role domain.Role, text string) {
	if err := c.journal.Append(ctx, sessionID, role, text); err != nil {
		c.logger.Warn("failed to append history", "session_id", sessionID, "error", err)
	}
}

func (c *Client) logEvent(sessionID, direction, eventType string, role domain.Role, content string) {
	c.convlog.Log(convlog.Event{
		Mode:       string(domain.ModeTherapistRoom),
		SessionID:  sessionID,
		Direction:  direction,
		EventType:  eventType,
		Role:       string(role),
		ContentRaw: content,
	})
}
