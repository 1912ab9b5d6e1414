package storage

import (
	"context"
	"sort"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
)

// Store persists presence and per-pair message history for the chat
// server. Implementations: redis.Client, memory.Client (for -dev without
// Redis and for tests).
type Store interface {
	AppendMessage(ctx context.Context, m model.Message) error
	// PairHistory returns the ordered log between two users, oldest
	// first, capped to the most recent limit messages.
	PairHistory(ctx context.Context, userA, userB string, limit int) ([]model.Message, error)
	// MarkPairRead marks every message senderID sent to readerID as read
	// and returns the number of transitions. Idempotent.
	MarkPairRead(ctx context.Context, readerID, senderID string) (int, error)

	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	OnlineUsers(ctx context.Context) ([]string, error)

	Close() error
}

// PairKey is the canonical storage key for a user pair, independent of
// direction.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// SortIDs returns a sorted copy, for stable roster payloads.
func SortIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
