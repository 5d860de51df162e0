package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
)

// MemoryStore is a ClientRepository that forgets everything when the process exits.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[domain.Mode]domain.Session
	transcripts map[string][]domain.TranscriptEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[domain.Mode]domain.Session),
		transcripts: make(map[string][]domain.TranscriptEntry),
	}
}

// ActiveSession returns the remembered session for mode.
func (m *MemoryStore) ActiveSession(_ context.Context, mode domain.Mode) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[mode]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// SaveActiveSession stores or replaces the session for its mode.
func (m *MemoryStore) SaveActiveSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := *session
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	m.sessions[sess.Mode] = sess
	return nil
}

// ClearActiveSession forgets the session for mode.
func (m *MemoryStore) ClearActiveSession(_ context.Context, mode domain.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, mode)
	return nil
}

// ListSessions returns every remembered session ordered by mode.
func (m *MemoryStore) ListSessions(_ context.Context) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		s := sess
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out, nil
}

// AppendEntry adds one entry at the end of the session transcript.
func (m *MemoryStore) AppendEntry(_ context.Context, entry domain.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.transcripts[entry.SessionID] = append(m.transcripts[entry.SessionID], entry)
	return nil
}

// Entries returns a copy of the session transcript.
func (m *MemoryStore) Entries(_ context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.transcripts[sessionID]
	out := make([]domain.TranscriptEntry, len(src))
	copy(out, src)
	return out, nil
}

// ReplaceEntries swaps the transcript of a session for entries.
func (m *MemoryStore) ReplaceEntries(_ context.Context, sessionID string, entries []domain.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.TranscriptEntry, len(entries))
	copy(cp, entries)
	for i := range cp {
		cp[i].SessionID = sessionID
	}
	m.transcripts[sessionID] = cp
	return nil
}

// ClearEntries drops the transcript of a session.
func (m *MemoryStore) ClearEntries(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, sessionID)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
