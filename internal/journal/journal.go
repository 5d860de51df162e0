// Package journal keeps the client-side transcript of a session.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/wire"
)

// LogFetcher reads the server-side log of a session.
type LogFetcher interface {
	Messages(ctx context.Context, sessionID string) ([]wire.LogMessage, error)
}

// Journal is an append-only transcript backed by a TranscriptStore.
type Journal struct {
	store store.TranscriptStore
	now   func() time.Time
}

// New creates a journal over s.
func New(s store.TranscriptStore) *Journal {
	return &Journal{store: s, now: time.Now}
}

// Append records one line for sessionID.
func (j *Journal) Append(ctx context.Context, sessionID string, role domain.Role, text string) error {
	if sessionID == "" {
		return nil
	}
	entry := domain.TranscriptEntry{SessionID: sessionID, Role: role, Text: text, Timestamp: j.now().UTC()}
	if err := j.store.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Entries returns the transcript of sessionID in order.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	if sessionID == "" {
		return nil, nil
	}
	return j.store.Entries(ctx, sessionID)
}

// Clear drops the transcript of sessionID.
func (j *Journal) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return j.store.ClearEntries(ctx, sessionID)
}

// Resync replaces the local transcript with the server log. Self lines are
// kept, angel lines become lumen and anything else is dropped.
func (j *Journal) Resync(ctx context.Context, f LogFetcher, sessionID string) ([]domain.TranscriptEntry, error) {
	msgs, err := f.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entries := FromLog(sessionID, msgs)
	if err := j.store.ReplaceEntries(ctx, sessionID, entries); err != nil {
		return nil, fmt.Errorf("replace journal: %w", err)
	}
	return entries, nil
}

// FromLog maps server log rows onto transcript entries.
func FromLog(sessionID string, msgs []wire.LogMessage) []domain.TranscriptEntry {
	entries := make([]domain.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		var role domain.Role
		switch domain.Role(m.Role) {
		case domain.RoleSelf:
			role = domain.RoleSelf
		case domain.RoleAngel:
			role = domain.RoleLumen
		default:
			continue
		}
		ts, _ := time.Parse(time.RFC3339, m.CreatedAt)
		entries = append(entries, domain.TranscriptEntry{
			SessionID: sessionID,
			Role:      role,
			Text:      m.Text,
			Timestamp: ts,
		})
	}
	return entries
}

// Label is the speaker prefix used in exports and the journal view.
func Label(r domain.Role) string {
	switch r {
	case domain.RoleSelf:
		return "You"
	case domain.RoleMonster:
		return "Monster"
	default:
		return "Lumen"
	}
}

// Export renders entries as plain text blocks separated by blank lines.
func Export(entries []domain.TranscriptEntry) string {
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, Label(e.Role)+": "+e.Text)
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// ExportFileName names an export written at t.
func ExportFileName(t time.Time) string {
	return "twochairs-transcript-" + t.UTC().Format("2006-01-02-15-04-05") + ".txt"
}
