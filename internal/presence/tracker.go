// Package presence maintains the set of currently-online peers, fed by
// server-pushed roster events. Presence is best-effort: malformed payloads
// are logged and dropped, never surfaced.
package presence

import (
	"sort"
	"sync"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
)

type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// HandleEvent consumes users_online/online_users (full roster replace) and
// user_offline (single removal). Other event types are ignored.
func (t *Tracker) HandleEvent(env event.Envelope) {
	switch env.Type {
	case event.TypeUsersOnline, event.TypeOnlineUsers:
		var ids []string
		if err := env.Decode(&ids); err != nil {
			logger.Errorf("presence: malformed roster payload: %v", err)
			return
		}
		next := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			next[id] = struct{}{}
		}
		t.mu.Lock()
		t.online = next
		t.mu.Unlock()
	case event.TypeUserOffline:
		var p event.UserOfflinePayload
		if err := env.Decode(&p); err != nil {
			logger.Errorf("presence: malformed offline payload: %v", err)
			return
		}
		t.mu.Lock()
		delete(t.online, p.UserID)
		t.mu.Unlock()
	}
}

// IsOnline reports whether the peer is currently in the roster.
func (t *Tracker) IsOnline(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[peerID]
	return ok
}

// Snapshot returns the current roster, sorted for stable display.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
