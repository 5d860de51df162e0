package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	msgs []wire.LogMessage
	err  error
}

func (f fakeFetcher) Messages(context.Context, string) ([]wire.LogMessage, error) {
	return f.msgs, f.err
}

func TestAppendEntriesClear(t *testing.T) {
	ctx := t.Context()
	j := New(store.NewMemory())
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.Append(ctx, "s1", domain.RoleSelf, "hello"))
	require.NoError(t, j.Append(ctx, "s1", domain.RoleLumen, "I'm here."))
	require.NoError(t, j.Append(ctx, "", domain.RoleSelf, "ignored"))

	entries, err := j.Entries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, fixed, entries[0].Timestamp)
	assert.Equal(t, domain.RoleLumen, entries[1].Role)

	require.NoError(t, j.Clear(ctx, "s1"))
	entries, err = j.Entries(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResyncMapsRoles(t *testing.T) {
	ctx := t.Context()
	j := New(store.NewMemory())
	require.NoError(t, j.Append(ctx, "s1", domain.RoleSelf, "stale"))

	f := fakeFetcher{msgs: []wire.LogMessage{
		{Role: "self", Text: "a", CreatedAt: "2025-03-01T10:00:00Z"},
		{Role: "monster", Text: "dropped"},
		{Role: "angel", Text: "b"},
	}}
	got, err := j.Resync(ctx, f, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.RoleSelf, got[0].Role)
	assert.Equal(t, domain.RoleLumen, got[1].Role)
	assert.Equal(t, 2025, got[0].Timestamp.Year())

	stored, err := j.Entries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestResyncKeepsJournalOnError(t *testing.T) {
	ctx := t.Context()
	j := New(store.NewMemory())
	require.NoError(t, j.Append(ctx, "s1", domain.RoleSelf, "kept"))

	_, err := j.Resync(ctx, fakeFetcher{err: errors.New("offline")}, "s1")
	require.Error(t, err)

	stored, err := j.Entries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestExport(t *testing.T) {
	entries := []domain.TranscriptEntry{
		{Role: domain.RoleSelf, Text: "I feel anxious"},
		{Role: domain.RoleMonster, Text: "You're not good enough"},
		{Role: domain.RoleLumen, Text: "Let's sit with that together."},
	}
	want := "You: I feel anxious\n\nMonster: You're not good enough\n\nLumen: Let's sit with that together.\n"
	assert.Equal(t, want, Export(entries))
	assert.Empty(t, Export(nil))
}

func TestExportFileName(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 4, 5, 0, time.UTC)
	assert.Equal(t, "twochairs-transcript-2025-03-01-10-04-05.txt", ExportFileName(ts))
}
