package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/auth"
	"github.com/quayline/orchestrator/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured via proxy in prod
}

const (
	wsReadDeadline  = 60 * time.Second
	wsPingInterval  = 20 * time.Second
	wsWriteDeadline = 10 * time.Second
)

// handleWS streams pipeline events for one session over a websocket.
// last_event_id replays the missed backlog before live events.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error":"session_id required"}`, http.StatusBadRequest)
		return
	}
	// Session ids are client-chosen, so subscribing before the session
	// exists would let another role listen in. Don't reveal whether the
	// session exists to roles that can't see it.
	sess, err := h.store.Get(r.Context(), sessionID)
	if err != nil || (user.Role != models.RoleOperator && sess.Role != user.Role) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	var lastID uint64
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.bus.Subscribe(sessionID, 256)
	defer h.bus.Unsubscribe(sessionID, ch)

	for _, evt := range h.bus.ReplaySince(sessionID, lastID) {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	// Reader pump; client messages are discarded.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteDeadline)); err != nil {
				return
			}
		}
	}
}
