package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/middleware"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/server"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

// NewRouter assembles the chat server's HTTP surface: the WebSocket
// endpoint, the long-poll endpoints and the history API.
func NewRouter(hub *server.Hub, registry *server.PollRegistry, store storage.Store, corsOrigins string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(corsOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	wsH := NewWSHandler(hub, corsOrigins)
	pollH := NewPollHandler(registry)
	msgH := NewMessageHandler(store)

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserHeader)
		r.Get("/ws", wsH.ServeWS)
		r.Get("/api/messages/{peerID}", msgH.GetMessages)
		r.Post("/api/poll", pollH.Connect)
	})
	// Events/send/disconnect authenticate by session id, not header.
	r.Get("/api/poll/events", pollH.Events)
	r.Post("/api/poll/send", pollH.Send)
	r.Delete("/api/poll", pollH.Disconnect)

	return r
}

func splitOrigins(s string) []string {
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
