package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClientRepositories(t *testing.T) {
	repos := map[string]func(t *testing.T) ClientRepository{
		"sqlite": func(t *testing.T) ClientRepository { return newTestSQLite(t) },
		"memory": func(*testing.T) ClientRepository { return NewMemory() },
	}
	for name, open := range repos {
		t.Run(name, func(t *testing.T) {
			t.Run("sessions", func(t *testing.T) { testSessions(t, open(t)) })
			t.Run("transcript", func(t *testing.T) { testTranscript(t, open(t)) })
		})
	}
}

func testSessions(t *testing.T, repo ClientRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	got, err := repo.ActiveSession(ctx, domain.ModeTwoChairs)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SaveActiveSession(ctx, &domain.Session{ID: "s-1", Mode: domain.ModeTwoChairs}))
	require.NoError(t, repo.SaveActiveSession(ctx, &domain.Session{ID: "r-1", Mode: domain.ModeTherapistRoom}))
	require.NoError(t, repo.SaveActiveSession(ctx, &domain.Session{ID: "s-2", Mode: domain.ModeTwoChairs}))

	got, err = repo.ActiveSession(ctx, domain.ModeTwoChairs)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s-2", got.ID)
	assert.Equal(t, domain.ModeTwoChairs, got.Mode)

	all, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ModeTherapistRoom, all[0].Mode)
	assert.Equal(t, domain.ModeTwoChairs, all[1].Mode)

	require.NoError(t, repo.ClearActiveSession(ctx, domain.ModeTwoChairs))
	got, err = repo.ActiveSession(ctx, domain.ModeTwoChairs)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testTranscript(t *testing.T, repo ClientRepository) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, repo.AppendEntry(ctx, domain.TranscriptEntry{SessionID: "s", Role: domain.RoleSelf, Text: "one", Timestamp: base}))
	require.NoError(t, repo.AppendEntry(ctx, domain.TranscriptEntry{SessionID: "s", Role: domain.RoleMonster, Text: "two", Timestamp: base}))
	require.NoError(t, repo.AppendEntry(ctx, domain.TranscriptEntry{SessionID: "other", Role: domain.RoleSelf, Text: "x"}))

	entries, err := repo.Entries(ctx, "s")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Text)
	assert.Equal(t, domain.RoleMonster, entries[1].Role)
	assert.True(t, entries[0].Timestamp.Equal(base))

	require.NoError(t, repo.ReplaceEntries(ctx, "s", []domain.TranscriptEntry{
		{Role: domain.RoleAngel, Text: "synced"},
	}))
	entries, err = repo.Entries(ctx, "s")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "synced", entries[0].Text)
	assert.Equal(t, "s", entries[0].SessionID)

	require.NoError(t, repo.ClearEntries(ctx, "s"))
	entries, err = repo.Entries(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, entries)

	other, err := repo.Entries(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSQLiteServerRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.CreateUser(ctx, "u-1", "", ""))
	require.NoError(t, s.CreateServerSession(ctx, "sess", "u-1", domain.ModeTwoChairs))

	status, err := s.ServerSessionStatus(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "active", status)

	_, err = s.ServerSessionStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, s.SetServerSessionStatus(ctx, "missing", "crisis"), domain.ErrSessionNotFound)

	require.NoError(t, s.InsertServerMessage(ctx, "sess", domain.RoleSelf, "hello"))
	require.NoError(t, s.InsertServerMessage(ctx, "sess", domain.RoleAngel, "reply"))
	assert.Error(t, s.InsertServerMessage(ctx, "sess", domain.RoleLumen, "bad role"))

	msgs, err := s.ServerMessages(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSelf, msgs[0].Role)
	assert.Equal(t, "reply", msgs[1].Text)
	assert.Less(t, msgs[0].ID, msgs[1].ID)

	require.NoError(t, s.SetServerSessionStatus(ctx, "sess", "crisis"))
	status, err = s.ServerSessionStatus(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "crisis", status)

	require.NoError(t, s.InsertAlert(ctx, "sess", "crisis", map[string]any{"matched": "keyword"}))
	n, err := s.alertCount(ctx, "sess", "crisis")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveActiveSession(ctx, &domain.Session{ID: "keep-me", Mode: domain.ModeTwoChairs}))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.ActiveSession(ctx, domain.ModeTwoChairs)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "keep-me", got.ID)
}

func TestWithBusyRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withBusyRetry(ctx, "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withBusyRetry(ctx, "test", func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withBusyRetry(ctx, "test", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	assert.Error(t, err)
	assert.Equal(t, busyMaxAttempts, calls)
}
