package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

const (
	// Pair history is capped in Redis; older messages fall off the list.
	maxPairHistory = 1000
	onlineKey      = "online_users"
	pairPrefix     = "pair:"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func pairListKey(a, b string) string {
	return pairPrefix + storage.PairKey(a, b)
}

// AppendMessage pushes the message onto the pair list and trims it to the
// retention cap.
func (c *Client) AppendMessage(ctx context.Context, m model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis marshal message: %w", err)
	}
	key := pairListKey(m.SenderID, m.ReceiverID)
	pipe := c.cli.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxPairHistory, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) PairHistory(ctx context.Context, userA, userB string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := c.cli.LRange(ctx, pairListKey(userA, userB), start, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// Skip a corrupt entry instead of failing the whole fetch.
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarkPairRead rewrites matching list entries in place. The pair list is
// small (trimmed) so the LRANGE/LSET round trip is acceptable here.
func (c *Client) MarkPairRead(ctx context.Context, readerID, senderID string) (int, error) {
	key := pairListKey(readerID, senderID)
	raw, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	n := 0
	for i, item := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		if m.SenderID != senderID || m.ReceiverID != readerID || m.Read {
			continue
		}
		m.Read = true
		at := now
		m.ReadAt = &at
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := c.cli.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Client) SetOnline(ctx context.Context, userID string) error {
	return c.cli.SAdd(ctx, onlineKey, userID).Err()
}

func (c *Client) SetOffline(ctx context.Context, userID string) error {
	return c.cli.SRem(ctx, onlineKey, userID).Err()
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	return storage.SortIDs(ids), nil
}

// FlushDB clears the current Redis DB (dev/test resets).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
