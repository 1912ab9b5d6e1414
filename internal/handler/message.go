package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/middleware"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

type MessageHandler struct {
	store storage.Store
}

func NewMessageHandler(store storage.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

// GetMessages returns the ordered history between the caller and the peer
// in the URL, oldest first.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	userID := middleware.GetUserID(r.Context())
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "peer id required")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	messages, err := h.store.PairHistory(r.Context(), userID, peerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{} // never null on the wire
	}
	writeJSON(w, http.StatusOK, messages)
}
