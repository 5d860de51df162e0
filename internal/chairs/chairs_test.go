package chairs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers SendMessage from a queue of replies.
type fakeAPI struct {
	mu        sync.Mutex
	replies   []*wire.MessageResponse
	errs      []error
	sent      []domain.Message
	sessions  int
	createErr error
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeAPI) CreateSession(context.Context, domain.Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.sessions++
	return fmt.Sprintf("sess-%d", f.sessions), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ string, msg domain.Message) (*wire.MessageResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.replies) == 0 {
		return &wire.MessageResponse{AwaitMore: true}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeAPI) Messages(context.Context, string) ([]wire.LogMessage, error) {
	return nil, nil
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func awaitMore(suggestions ...string) *wire.MessageResponse {
	return &wire.MessageResponse{AwaitMore: true, Suggestions: suggestions}
}

func TestAwaitMoreFlipsRoleAndCountsSteps(t *testing.T) {
	f := &fakeAPI{}
	c := New(f, Options{})
	ctx := t.Context()

	for i := 1; i <= 7; i++ {
		before := c.Snapshot().Turn
		res, err := c.Submit(ctx, "line")
		require.NoError(t, err)
		require.Equal(t, OutcomeAwaitMore, res.Outcome)
		assert.Equal(t, before.Role.Other(), res.Turn.Role)
		assert.LessOrEqual(t, res.Turn.Steps, domain.DefaultStepThreshold)
		if before.Steps < domain.DefaultStepThreshold {
			assert.Equal(t, before.Steps+1, res.Turn.Steps)
		}
	}
	assert.Equal(t, domain.DefaultStepThreshold, c.Snapshot().Turn.Steps)
}

func TestCompleteResetsTurn(t *testing.T) {
	for _, startAsMonster := range []bool{false, true} {
		t.Run(fmt.Sprintf("monster=%v", startAsMonster), func(t *testing.T) {
			f := &fakeAPI{}
			if startAsMonster {
				f.replies = append(f.replies, awaitMore())
			}
			f.replies = append(f.replies, &wire.MessageResponse{Lumen: "  reflection  "})
			c := New(f, Options{})

			if startAsMonster {
				_, err := c.Submit(t.Context(), "first")
				require.NoError(t, err)
				require.Equal(t, domain.RoleMonster, c.Snapshot().Turn.Role)
			}
			res, err := c.Submit(t.Context(), "closing")
			require.NoError(t, err)
			assert.Equal(t, OutcomeComplete, res.Outcome)
			assert.Equal(t, "reflection", res.Reply)
			assert.Equal(t, domain.NewTurnState(), c.Snapshot().Turn)
			assert.Equal(t, "reflection", c.Snapshot().LastReply)
		})
	}
}

func TestCompleteCarriesRoomReferral(t *testing.T) {
	f := &fakeAPI{replies: []*wire.MessageResponse{
		{Angel: "reflection", Safety: &wire.SafetyPrompt{ShowSafetyPopup: true, Message: "Try the room?"}},
		awaitMore(),
		{Angel: "better"},
	}}
	c := New(f, Options{})
	ctx := t.Context()

	res, err := c.Submit(ctx, "I can't")
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, "Try the room?", res.Referral)
	assert.Equal(t, "Try the room?", c.Snapshot().Referral)

	_, err = c.Submit(ctx, "next round")
	require.NoError(t, err)
	assert.Empty(t, c.Snapshot().Referral, "the referral belongs to the round that raised it")

	res, err = c.Submit(ctx, "closing")
	require.NoError(t, err)
	assert.Empty(t, res.Referral)

	f.replies = []*wire.MessageResponse{{Angel: "r", Safety: &wire.SafetyPrompt{ShowSafetyPopup: true, Message: "again"}}}
	_, err = c.Submit(ctx, "bleak")
	require.NoError(t, err)
	require.NoError(t, c.Reset(ctx))
	assert.Empty(t, c.Snapshot().Referral)
}

func TestCrisisDoesNotMutateTurnAndLocks(t *testing.T) {
	f := &fakeAPI{replies: []*wire.MessageResponse{
		awaitMore(),
		{Crisis: true, AlertMessage: "help", HotlinesURL: "https://hotlines.example"},
	}}
	c := New(f, Options{})
	ctx := t.Context()

	_, err := c.Submit(ctx, "first")
	require.NoError(t, err)
	before := c.Snapshot().Turn

	res, err := c.Submit(ctx, "I want to die")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCrisis, res.Outcome)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "https://hotlines.example", res.Alert.HotlinesURL)

	snap := c.Snapshot()
	assert.Equal(t, before, snap.Turn)
	assert.True(t, snap.Locked())

	res, err = c.Submit(ctx, "hello?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipLocked, res.Skip)
	assert.Equal(t, 2, f.sentCount())
}

func TestSingleFlight(t *testing.T) {
	f := &fakeAPI{block: make(chan struct{}), started: make(chan struct{})}
	c := New(f, Options{})
	ctx := t.Context()

	done := make(chan Result, 1)
	go func() {
		res, err := c.Submit(ctx, "first")
		assert.NoError(t, err)
		done <- res
	}()
	<-f.started

	assert.Equal(t, domain.PhaseAwaitingReply, c.Snapshot().Phase)
	res, err := c.Submit(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, SkipInFlight, res.Skip)

	close(f.block)
	first := <-done
	assert.Equal(t, OutcomeAwaitMore, first.Outcome)
	assert.Equal(t, 1, f.sentCount())
}

func TestInvalidTextNeverSends(t *testing.T) {
	f := &fakeAPI{}
	c := New(f, Options{})

	tests := []struct {
		text string
		want SkipReason
	}{
		{"", SkipEmpty},
		{"   \n\t", SkipEmpty},
		{strings.Repeat("x", domain.DefaultMaxTextLen+1), SkipTooLong},
	}
	for _, tt := range tests {
		res, err := c.Submit(t.Context(), tt.text)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, tt.want, res.Skip)
	}
	assert.Equal(t, 0, f.sentCount())
	assert.Equal(t, 0, f.sessions, "no session is created for rejected input")
}

func TestTransportFailureLeavesStateUntouched(t *testing.T) {
	f := &fakeAPI{errs: []error{domain.ErrTransport}}
	c := New(f, Options{})
	before := c.Snapshot()

	_, err := c.Submit(t.Context(), "hello")
	require.ErrorIs(t, err, domain.ErrTransport)

	after := c.Snapshot()
	assert.Equal(t, before.Turn, after.Turn)
	assert.Equal(t, domain.PhaseIdle, after.Phase)

	res, err := c.Submit(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitMore, res.Outcome)
}

func TestSessionCreationFailure(t *testing.T) {
	f := &fakeAPI{createErr: errors.New("boom")}
	c := New(f, Options{})

	_, err := c.Submit(t.Context(), "hello")
	require.Error(t, err)
	assert.Equal(t, domain.PhaseIdle, c.Snapshot().Phase)
	assert.Equal(t, 0, f.sentCount())
}

func TestSuggestionsOnlyForSelfAndCapped(t *testing.T) {
	f := &fakeAPI{replies: []*wire.MessageResponse{
		awaitMore("ignored"),
		awaitMore("a", "b", "c", "d", "e"),
	}}
	c := New(f, Options{})

	res, err := c.Submit(t.Context(), "self line")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMonster, res.Turn.Role)
	assert.Empty(t, res.Suggestions)

	res, err = c.Submit(t.Context(), "monster line")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSelf, res.Turn.Role)
	assert.Equal(t, []string{"a", "b", "c", "d"}, res.Suggestions)
	assert.Equal(t, res.Suggestions, c.Snapshot().Suggestions)
	assert.Len(t, MonsterGuide(), 3)
}

func TestResetUnlocksAndCreatesSession(t *testing.T) {
	mem := store.NewMemory()
	j := journal.New(mem)
	f := &fakeAPI{replies: []*wire.MessageResponse{{Crisis: true, Locked: true}}}
	c := New(f, Options{Sessions: mem, Journal: j})
	ctx := t.Context()

	_, err := c.Submit(ctx, "I want to die")
	require.NoError(t, err)
	old := c.Snapshot().SessionID
	require.True(t, c.Snapshot().Locked())

	require.NoError(t, c.Reset(ctx))
	snap := c.Snapshot()
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.Equal(t, domain.NewTurnState(), snap.Turn)
	assert.Nil(t, snap.Alert)
	assert.NotEqual(t, old, snap.SessionID)
	assert.NotEmpty(t, snap.SessionID)

	stored, err := mem.ActiveSession(ctx, domain.ModeTwoChairs)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, snap.SessionID, stored.ID)

	entries, err := j.Entries(ctx, old)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResetWithoutServerLeavesIdle(t *testing.T) {
	f := &fakeAPI{createErr: domain.ErrTransport}
	c := New(f, Options{})

	require.Error(t, c.Reset(t.Context()))
	snap := c.Snapshot()
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.Empty(t, snap.SessionID)
}

func TestResetDiscardsInFlightReply(t *testing.T) {
	f := &fakeAPI{block: make(chan struct{}), started: make(chan struct{})}
	c := New(f, Options{})
	ctx := t.Context()

	done := make(chan Result, 1)
	go func() {
		res, _ := c.Submit(ctx, "first")
		done <- res
	}()
	<-f.started

	require.NoError(t, c.Reset(ctx))
	close(f.block)

	res := <-done
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipReset, res.Skip)
	assert.Equal(t, domain.NewTurnState(), c.Snapshot().Turn)
	assert.Equal(t, "sess-2", c.Snapshot().SessionID)
}

func TestRestoreAndJournal(t *testing.T) {
	mem := store.NewMemory()
	ctx := t.Context()
	require.NoError(t, mem.SaveActiveSession(ctx, &domain.Session{ID: "kept", Mode: domain.ModeTwoChairs}))

	f := &fakeAPI{replies: []*wire.MessageResponse{awaitMore(), {Angel: "done"}}}
	c := New(f, Options{Sessions: mem, Journal: journal.New(mem)})
	require.NoError(t, c.Restore(ctx))
	assert.Equal(t, "kept", c.Snapshot().SessionID)

	_, err := c.Submit(ctx, "mine")
	require.NoError(t, err)
	_, err = c.Submit(ctx, "theirs")
	require.NoError(t, err)
	assert.Equal(t, 0, f.sessions)

	entries, err := c.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.RoleSelf, entries[0].Role)
	assert.Equal(t, domain.RoleMonster, entries[1].Role)
	assert.Equal(t, domain.RoleLumen, entries[2].Role)
	assert.Equal(t, "done", entries[2].Text)
}
