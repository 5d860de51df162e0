// Package api holds the wire types of the therapy chat HTTP API and a local
// stub implementation of it.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/twochairs/internal/config"
	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/wire"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 64 << 10
	statusActive       = "active"
	statusCrisis       = "crisis"
)

// Handler serves a deterministic double of the therapy chat API.
type Handler struct {
	repo    store.ServerRepository
	cfg     config.StubConfig
	limiter *SessionLimiter
	newID   func() string
	logger  *slog.Logger
}

// NewHandler creates a stub API handler backed by repo.
func NewHandler(repo store.ServerRepository, cfg config.StubConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:    repo,
		cfg:     cfg,
		limiter: NewSessionLimiter(cfg.RateLimit, cfg.RateBurst),
		newID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		logger:  logger,
	}
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Post("/user", h.HandleCreateUser)
		r.Post("/session", h.HandleCreateSession)
		r.Get("/session/{sessionID}/messages", h.HandleListMessages)
		r.Post("/message", h.HandleMessage)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, wire.ErrorResponse{Error: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBodyOpt(w, r, v, false)
}

func decodeBodyOpt(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, wire.HealthResponse{OK: false, Time: time.Now().UTC().Format(time.RFC3339)})
		return
	}
	JSON(w, http.StatusOK, wire.HealthResponse{OK: true, Time: time.Now().UTC().Format(time.RFC3339)})
}

// HandleCreateUser handles POST /api/user.
func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID := h.newID()
	if err := h.repo.CreateUser(r.Context(), userID, req.DisplayName, req.TrustedContact); err != nil {
		h.logger.Error("create user failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	JSON(w, http.StatusOK, wire.CreateUserResponse{UserID: userID})
}

// HandleCreateSession handles POST /api/session. An empty body is accepted.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateSessionRequest
	if !decodeBodyOpt(w, r, &req, true) {
		return
	}

	ctx := r.Context()
	userID := req.UserID
	if userID == "" {
		userID = h.newID()
		if err := h.repo.CreateUser(ctx, userID, "", ""); err != nil {
			h.logger.Error("create anonymous user failed", "error", err)
			Error(w, http.StatusInternalServerError, "failed to create user")
			return
		}
	}

	mode := domain.Mode(req.Mode)
	if mode == "" {
		mode = domain.ModeTwoChairs
	}

	sessionID := h.newID()
	if err := h.repo.CreateServerSession(ctx, sessionID, userID, mode); err != nil {
		h.logger.Error("create session failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.logger.Info("session created", "session_id", sessionID, "mode", mode)
	JSON(w, http.StatusOK, wire.CreateSessionResponse{SessionID: sessionID, UserID: userID, Teach: "Two Chairs ready."})
}

// HandleListMessages handles GET /api/session/{sessionID}/messages.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	if _, err := h.repo.ServerSessionStatus(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	msgs, err := h.repo.ServerMessages(ctx, sessionID)
	if err != nil {
		h.logger.Error("list messages failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	out := wire.MessagesResponse{Messages: make([]wire.LogMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, wire.LogMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	JSON(w, http.StatusOK, out)
}

// HandleMessage handles POST /api/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if req.SessionID == "" || req.Role == "" || text == "" {
		Error(w, http.StatusBadRequest, "sessionId, role, text are required")
		return
	}
	role := domain.Role(req.Role)
	if !role.IsSpeaker() {
		Error(w, http.StatusBadRequest, "role must be 'self' or 'monster'")
		return
	}
	if !h.limiter.Allow(req.SessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ctx := r.Context()
	status, err := h.repo.ServerSessionStatus(ctx, req.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("session lookup failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if status == statusCrisis {
		JSON(w, http.StatusOK, h.crisisResponse(nil))
		return
	}

	if phrase, hit := matchesCrisis(text, h.cfg.CrisisPhrases); hit {
		if err := h.lockForCrisis(r, req.SessionID, role, text, phrase); err != nil {
			h.logger.Error("crisis lock failed", "session_id", req.SessionID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to record message")
			return
		}
		notified := false
		JSON(w, http.StatusOK, h.crisisResponse(&notified))
		return
	}

	if err := h.repo.InsertServerMessage(ctx, req.SessionID, role, text); err != nil {
		h.logger.Error("insert message failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	msgs, err := h.repo.ServerMessages(ctx, req.SessionID)
	if err != nil {
		h.logger.Error("list messages failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	selfs, monsters := currentCycle(msgs)
	total := len(selfs) + len(monsters)

	if total < h.cfg.CycleLength {
		resp := wire.MessageResponse{
			AwaitMore: true,
			Have:      &wire.Progress{Self: len(selfs), Monster: len(monsters)},
			Need:      h.cfg.CycleLength - total,
		}
		if role == domain.RoleMonster && len(monsters) >= 1 && len(selfs) == len(monsters) {
			resp.Suggestions = append([]string(nil), fallbackSuggestions...)
		}
		JSON(w, http.StatusOK, resp)
		return
	}

	reply := reflection(selfs, monsters)
	if err := h.repo.InsertServerMessage(ctx, req.SessionID, domain.RoleAngel, reply); err != nil {
		h.logger.Error("insert reply failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to record reply")
		return
	}
	h.logger.Info("round closed", "session_id", req.SessionID, "messages", total)
	resp := wire.MessageResponse{
		AwaitMore: false,
		Angel:     reply,
		Lumen:     reply,
		Next:      &wire.NextHint{AskToContinue: true},
	}
	if allNegative(selfs) {
		if err := h.repo.InsertAlert(ctx, req.SessionID, alertCycleNegative, map[string]any{"selfNegatives": len(selfs)}); err != nil {
			h.logger.Warn("failed to record negative round", "session_id", req.SessionID, "error", err)
		}
		resp.Safety = &wire.SafetyPrompt{
			ShowSafetyPopup: true,
			Message:         roomReferral,
			AcceptRedirect:  string(domain.ModeTherapistRoom),
			DeclineStay:     true,
		}
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) lockForCrisis(r *http.Request, sessionID string, role domain.Role, text, phrase string) error {
	ctx := r.Context()
	if err := h.repo.InsertServerMessage(ctx, sessionID, role, text); err != nil {
		return err
	}
	if err := h.repo.InsertAlert(ctx, sessionID, statusCrisis, map[string]any{"matched": "keyword", "phrase": phrase}); err != nil {
		return err
	}
	h.logger.Warn("session locked for crisis", "session_id", sessionID)
	return h.repo.SetServerSessionStatus(ctx, sessionID, statusCrisis)
}

func (h *Handler) crisisResponse(notified *bool) wire.MessageResponse {
	return wire.MessageResponse{
		Crisis:                 true,
		Locked:                 true,
		AlertMessage:           crisisAlertMessage,
		HotlinesURL:            h.cfg.HotlinesURL,
		ResourcesURL:           h.cfg.ResourcesURL,
		NotifiedTrustedContact: notified,
	}
}
