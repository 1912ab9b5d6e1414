package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/middleware"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/server"
)

// PollHandler serves the degraded long-poll transport.
type PollHandler struct {
	registry *server.PollRegistry
}

func NewPollHandler(registry *server.PollRegistry) *PollHandler {
	return &PollHandler{registry: registry}
}

// Connect opens a poll session for the caller.
func (h *PollHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	session := h.registry.Connect(userID)
	writeJSON(w, http.StatusCreated, map[string]string{"session": session})
}

// Events blocks for the session's next event batch. An empty array means
// the wait timed out; the client polls again.
func (h *PollHandler) Events(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	batch, ok := h.registry.Poll(r.Context(), session)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if batch == nil {
		batch = []event.Envelope{}
	}
	writeJSON(w, http.StatusOK, batch)
}

// Send feeds one client envelope into the hub.
func (h *PollHandler) Send(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if !h.registry.Deliver(r.Context(), session, env) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect closes the poll session.
func (h *PollHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.registry.Disconnect(r.URL.Query().Get("session"))
	w.WriteHeader(http.StatusNoContent)
}
