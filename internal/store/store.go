// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/twochairs/internal/domain"
)

// SessionStore remembers the active server session of each mode.
type SessionStore interface {
	// ActiveSession returns the remembered session for mode, or nil when none is stored.
	ActiveSession(ctx context.Context, mode domain.Mode) (*domain.Session, error)

	// SaveActiveSession stores or replaces the session for its mode.
	SaveActiveSession(ctx context.Context, session *domain.Session) error

	// ClearActiveSession forgets the session for mode.
	ClearActiveSession(ctx context.Context, mode domain.Mode) error

	// ListSessions returns every remembered session.
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

// TranscriptStore keeps the client-side journal of a session.
type TranscriptStore interface {
	// AppendEntry adds one entry at the end of the session transcript.
	AppendEntry(ctx context.Context, entry domain.TranscriptEntry) error

	// Entries returns the transcript of a session in insertion order.
	Entries(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error)

	// ReplaceEntries swaps the transcript of a session for entries.
	ReplaceEntries(ctx context.Context, sessionID string, entries []domain.TranscriptEntry) error

	// ClearEntries drops the transcript of a session.
	ClearEntries(ctx context.Context, sessionID string) error
}

// ClientRepository is everything the session clients persist.
type ClientRepository interface {
	SessionStore
	TranscriptStore

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// ServerRepository backs the stub API server.
type ServerRepository interface {
	// CreateUser inserts an anonymous or named user.
	CreateUser(ctx context.Context, userID, displayName, trustedContact string) error

	// CreateServerSession inserts an active session.
	CreateServerSession(ctx context.Context, sessionID, userID string, mode domain.Mode) error

	// ServerSessionStatus returns the session status or domain.ErrSessionNotFound.
	ServerSessionStatus(ctx context.Context, sessionID string) (string, error)

	// SetServerSessionStatus updates the session status.
	SetServerSessionStatus(ctx context.Context, sessionID, status string) error

	// InsertServerMessage appends a message to the session log.
	InsertServerMessage(ctx context.Context, sessionID string, role domain.Role, text string) error

	// ServerMessages returns the session log in insertion order.
	ServerMessages(ctx context.Context, sessionID string) ([]domain.StoredMessage, error)

	// InsertAlert records a safety alert raised for a session.
	InsertAlert(ctx context.Context, sessionID, kind string, payload map[string]any) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

var (
	_ ClientRepository = (*SQLiteStore)(nil)
	_ ServerRepository = (*SQLiteStore)(nil)
	_ ClientRepository = (*MemoryStore)(nil)
)
