package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

// Client is the in-memory store used by -dev mode and tests.
type Client struct {
	mu     sync.RWMutex
	pairs  map[string][]model.Message
	online map[string]struct{}
}

func New() *Client {
	return &Client{
		pairs:  make(map[string][]model.Message),
		online: make(map[string]struct{}),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) AppendMessage(ctx context.Context, m model.Message) error {
	key := storage.PairKey(m.SenderID, m.ReceiverID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs[key] = append(c.pairs[key], m)
	return nil
}

func (c *Client) PairHistory(ctx context.Context, userA, userB string, limit int) ([]model.Message, error) {
	key := storage.PairKey(userA, userB)
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.pairs[key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *Client) MarkPairRead(ctx context.Context, readerID, senderID string) (int, error) {
	key := storage.PairKey(readerID, senderID)
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	msgs := c.pairs[key]
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == senderID && m.ReceiverID == readerID && !m.Read {
			m.Read = true
			at := now
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (c *Client) SetOnline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[userID] = struct{}{}
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, userID)
	return nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.online))
	for id := range c.online {
		ids = append(ids, id)
	}
	return storage.SortIDs(ids), nil
}
