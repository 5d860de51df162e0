package chairs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/twochairs/internal/api"
	"github.com/ashureev/twochairs/internal/chairs"
	"github.com/ashureev/twochairs/internal/config"
	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/transport"
	"github.com/ashureev/twochairs/internal/wire"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newClient(t *testing.T, url string, maxRetries int) *chairs.Client {
	t.Helper()
	doer := transport.NewDoer(transport.RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Second}, 5*time.Second,
		transport.WithSleeper(noSleep))
	return chairs.New(transport.NewClient(url, doer), chairs.Options{})
}

// scriptedServer answers /api/message with awaitMore until the sixth message,
// which gets the angel reply. It can be told to fail a number of requests first.
type scriptedServer struct {
	messages atomic.Int32
	failures atomic.Int32

	mu    sync.Mutex
	roles []string
}

func (s *scriptedServer) sentRoles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roles...)
}

func (s *scriptedServer) handler(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/session", func(w http.ResponseWriter, _ *http.Request) {
		api.JSON(w, http.StatusOK, wire.CreateSessionResponse{SessionID: "scripted"})
	})
	r.Post("/api/message", func(w http.ResponseWriter, r *http.Request) {
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			api.Error(w, http.StatusServiceUnavailable, "down")
			return
		}
		var req wire.MessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.roles = append(s.roles, req.Role)
		s.mu.Unlock()

		if req.Text == "I want to die" {
			api.JSON(w, http.StatusOK, wire.MessageResponse{
				Crisis:       true,
				AlertMessage: "You are not alone.",
				HotlinesURL:  "https://hotlines.example",
			})
			return
		}
		if s.messages.Add(1) < 6 {
			api.JSON(w, http.StatusOK, wire.MessageResponse{AwaitMore: true})
			return
		}
		_, _ = w.Write([]byte(`{"angel":"Let's sit with that together."}`))
	})
	return r
}

func TestScenarioFullRound(t *testing.T) {
	s := &scriptedServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, 3)
	ctx := t.Context()

	res, err := c.Submit(ctx, "I feel anxious")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeAwaitMore, res.Outcome)
	assert.Equal(t, domain.TurnState{Role: domain.RoleMonster, Steps: 1}, res.Turn)

	res, err = c.Submit(ctx, "You're not good enough")
	require.NoError(t, err)
	assert.Equal(t, domain.TurnState{Role: domain.RoleSelf, Steps: 2}, res.Turn)

	for i := 0; i < 3; i++ {
		res, err = c.Submit(ctx, "another line")
		require.NoError(t, err)
		require.Equal(t, chairs.OutcomeAwaitMore, res.Outcome)
	}
	assert.Equal(t, 5, res.Turn.Steps)

	res, err = c.Submit(ctx, "last line")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeComplete, res.Outcome)
	assert.Equal(t, "Let's sit with that together.", res.Reply)
	assert.Equal(t, domain.NewTurnState(), c.Snapshot().Turn)
	assert.Equal(t, []string{"self", "monster", "self", "monster", "self", "monster"}, s.sentRoles())
}

func TestScenarioCrisisLock(t *testing.T) {
	s := &scriptedServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, 3)
	ctx := t.Context()

	res, err := c.Submit(ctx, "I want to die")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeCrisis, res.Outcome)
	assert.True(t, c.Snapshot().Locked())

	res, err = c.Submit(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, chairs.SkipLocked, res.Skip)
	assert.Len(t, s.sentRoles(), 1)

	require.NoError(t, c.Reset(ctx))
	res, err = c.Submit(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeAwaitMore, res.Outcome)
}

func TestScenarioRetryExhaustionThenManualRetry(t *testing.T) {
	s := &scriptedServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, 2)
	ctx := t.Context()

	// Session first, so the three failures all land on the message call.
	require.NoError(t, c.Reset(ctx))
	s.failures.Store(3)

	_, err := c.Submit(ctx, "I feel anxious")
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, domain.NewTurnState(), c.Snapshot().Turn)
	assert.Equal(t, domain.PhaseIdle, c.Snapshot().Phase)
	assert.Empty(t, s.sentRoles())

	res, err := c.Submit(ctx, "I feel anxious")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeAwaitMore, res.Outcome)
	assert.Equal(t, domain.TurnState{Role: domain.RoleMonster, Steps: 1}, res.Turn)
}

func TestScenarioAgainstStubServer(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "stub.db"))
	require.NoError(t, err)
	defer repo.Close()

	r := chi.NewRouter()
	api.NewHandler(repo, config.StubConfig{
		CycleLength:   6,
		RateLimit:     1000,
		RateBurst:     1000,
		CrisisPhrases: []string{"want to die"},
	}, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	ctx := t.Context()

	var res chairs.Result
	for i := 0; i < 5; i++ {
		res, err = c.Submit(ctx, "line")
		require.NoError(t, err)
		require.Equal(t, chairs.OutcomeAwaitMore, res.Outcome)
	}
	res, err = c.Submit(ctx, "closing")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeComplete, res.Outcome)
	assert.NotEmpty(t, res.Reply)

	res, err = c.Submit(ctx, "I want to die")
	require.NoError(t, err)
	assert.Equal(t, chairs.OutcomeCrisis, res.Outcome)
	require.NotNil(t, res.Alert)
	assert.True(t, res.Alert.Locked)
}
