package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

var _ storage.Store = (*Client)(nil)

func msg(id, from, to string) model.Message {
	return model.Message{ID: id, SenderID: from, ReceiverID: to, Content: "x", CreatedAt: time.Now().UTC()}
}

func TestPairHistoryIsDirectionless(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.AppendMessage(ctx, msg("m1", "alice", "bob")))
	require.NoError(t, c.AppendMessage(ctx, msg("m2", "bob", "alice")))

	fromAlice, err := c.PairHistory(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	fromBob, err := c.PairHistory(ctx, "bob", "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, fromAlice, fromBob)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, "m1", fromAlice[0].ID)
}

func TestPairHistoryLimitKeepsNewest(t *testing.T) {
	c := New()
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, c.AppendMessage(ctx, msg(id, "alice", "bob")))
	}
	got, err := c.PairHistory(ctx, "alice", "bob", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m3", got[1].ID)
}

func TestMarkPairReadIsIdempotentAndDirectional(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.AppendMessage(ctx, msg("m1", "alice", "bob")))
	require.NoError(t, c.AppendMessage(ctx, msg("m2", "bob", "alice")))

	// bob reads what alice sent him.
	n, err := c.MarkPairRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.MarkPairRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := c.PairHistory(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.True(t, got[0].Read)
	require.NotNil(t, got[0].ReadAt)
	assert.False(t, got[1].Read) // bob's own message untouched
}

func TestOnlineSet(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.SetOnline(ctx, "bob"))
	require.NoError(t, c.SetOnline(ctx, "alice"))

	ids, err := c.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	require.NoError(t, c.SetOffline(ctx, "bob"))
	ids, err = c.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}
