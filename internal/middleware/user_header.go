package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader puts the caller's user id from X-User-ID into the request
// context. Session issuance and validation are handled by an external
// auth collaborator in front of this server; the header is its contract.
func UserHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			// WebSocket clients that cannot set headers pass ?user=.
			userID = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
