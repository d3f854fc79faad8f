// Package httpapi exposes the chat pipeline over HTTP: one chat endpoint,
// session management, and a websocket feed of pipeline progress events.
// All routes sit behind the auth middleware.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/auth"
	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/pipeline"
	"github.com/quayline/orchestrator/internal/session"
	"github.com/quayline/orchestrator/internal/streaming"
)

// Handler serves the chat API.
type Handler struct {
	pipeline *pipeline.Pipeline
	store    session.Store
	bus      *streaming.Bus
	logger   *zap.Logger
}

// NewHandler constructs the handler.
func NewHandler(p *pipeline.Pipeline, store session.Store, bus *streaming.Bus, logger *zap.Logger) *Handler {
	return &Handler{pipeline: p, store: store, bus: bus, logger: logger}
}

// Register mounts the routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("GET /api/v1/chat/ws", h.handleWS)
	mux.HandleFunc("GET /api/v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", h.handleHistory)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.handleClear)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	resp, err := h.pipeline.Process(r.Context(), pipeline.Request{
		SessionID:  req.SessionID,
		Role:       user.Role,
		Credential: user.Credential,
		Message:    req.Message,
	})
	if err != nil {
		h.logger.Error("chat processing failed", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadSession fetches the session and enforces access: operators see every
// session, other roles only sessions of their own role.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request, user *auth.UserContext) (*session.Session, bool) {
	id := r.PathValue("id")
	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		} else {
			h.logger.Error("session lookup failed", zap.String("session_id", id), zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return nil, false
	}
	if user.Role != models.RoleOperator && sess.Role != user.Role {
		// Don't reveal that the session exists.
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	sess, ok := h.loadSession(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"role":       sess.Role,
		"history":    sess.History,
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	sess, ok := h.loadSession(w, r, user)
	if !ok {
		return
	}
	if err := h.store.Clear(r.Context(), sess.ID); err != nil {
		h.logger.Error("session clear failed", zap.String("session_id", sess.ID), zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.bus.Forget(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	if user.Role != models.RoleOperator {
		http.Error(w, `{"error":"operator role required"}`, http.StatusForbidden)
		return
	}

	ids, err := h.store.ListActive(r.Context())
	if err != nil {
		h.logger.Error("session listing failed", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": ids})
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
