package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage/memory"
)

type fakeConn struct {
	userID string
	mu     sync.Mutex
	recv   []event.Envelope
	closed bool
}

func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(env event.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.recv = append(c.recv, env)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received(typ event.Type) []event.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Envelope
	for _, env := range c.recv {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *memory.Client) {
	t.Helper()
	store := memory.New()
	hub := NewHub(store, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, store
}

func registerAndWait(t *testing.T, hub *Hub, c *fakeConn) {
	t.Helper()
	hub.Register(c)
	require.Eventually(t, func() bool {
		return len(c.received(event.TypeOnlineUsers)) > 0
	}, time.Second, time.Millisecond, "roster not delivered to %s", c.userID)
}

func TestRegisterBroadcastsRoster(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob"}
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bob)

	// Alice saw the replace broadcast after bob joined.
	require.Eventually(t, func() bool {
		rosters := alice.received(event.TypeUsersOnline)
		if len(rosters) == 0 {
			return false
		}
		var ids []string
		if err := rosters[len(rosters)-1].Decode(&ids); err != nil {
			return false
		}
		return len(ids) == 2
	}, time.Second, time.Millisecond)
}

func TestUnregisterLastConnBroadcastsOffline(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	bobTab1 := &fakeConn{userID: "bob"}
	bobTab2 := &fakeConn{userID: "bob"}
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bobTab1)
	registerAndWait(t, hub, bobTab2)

	// First tab closing is not an offline transition.
	hub.Unregister(bobTab1)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, alice.received(event.TypeUserOffline))

	hub.Unregister(bobTab2)
	require.Eventually(t, func() bool {
		return len(alice.received(event.TypeUserOffline)) == 1
	}, time.Second, time.Millisecond)
	var p event.UserOfflinePayload
	require.NoError(t, alice.received(event.TypeUserOffline)[0].Decode(&p))
	assert.Equal(t, "bob", p.UserID)
}

func TestPrivateMessageAckAndDelivery(t *testing.T) {
	hub, store := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob"}
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bob)

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	env.AckID = "ack-1"
	hub.HandleEvent(context.Background(), alice, env)

	acks := alice.received(event.TypeAck)
	require.Len(t, acks, 1)
	var ack event.AckPayload
	require.NoError(t, acks[0].Decode(&ack))
	assert.Equal(t, "ack-1", ack.AckID)
	assert.True(t, ack.Delivered)
	assert.NotEmpty(t, ack.MessageID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hi", ack.Message.Content)

	delivered := bob.received(event.TypePrivateMessage)
	require.Len(t, delivered, 1)
	var mp event.MessagePayload
	require.NoError(t, delivered[0].Decode(&mp))
	assert.Equal(t, ack.MessageID, mp.Message.ID)

	// Stored for the history endpoint.
	hist, err := store.PairHistory(context.Background(), "alice", "bob", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// The origin connection gets no message_sent echo, it has the ack.
	assert.Empty(t, alice.received(event.TypeMessageSent))
}

func TestPrivateMessageEchoToOtherTabs(t *testing.T) {
	hub, _ := newTestHub(t)
	tab1 := &fakeConn{userID: "alice"}
	tab2 := &fakeConn{userID: "alice"}
	registerAndWait(t, hub, tab1)
	registerAndWait(t, hub, tab2)

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	env.AckID = "ack-1"
	hub.HandleEvent(context.Background(), tab1, env)

	require.Len(t, tab2.received(event.TypeMessageSent), 1)
	assert.Empty(t, tab1.received(event.TypeMessageSent))
}

func TestPrivateMessageValidation(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	registerAndWait(t, hub, alice)

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "", Message: "  "})
	require.NoError(t, err)
	env.AckID = "ack-1"
	hub.HandleEvent(context.Background(), alice, env)

	acks := alice.received(event.TypeAck)
	require.Len(t, acks, 1)
	var ack event.AckPayload
	require.NoError(t, acks[0].Decode(&ack))
	assert.False(t, ack.Delivered)
	assert.NotEmpty(t, ack.Error)
}

func TestTypingRelay(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob"}
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bob)

	env, err := event.New(event.TypeTyping, event.TypingPayload{ReceiverID: "bob", IsTyping: true})
	require.NoError(t, err)
	hub.HandleEvent(context.Background(), alice, env)

	relayed := bob.received(event.TypeUserTyping)
	require.Len(t, relayed, 1)
	var p event.UserTypingPayload
	require.NoError(t, relayed[0].Decode(&p))
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.IsTyping)
}

func TestMarkReadUpdatesStoreAndNotifiesSender(t *testing.T) {
	hub, store := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob"}
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bob)

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	env.AckID = "ack-1"
	hub.HandleEvent(context.Background(), alice, env)

	read, err := event.New(event.TypeMarkRead, event.MarkReadPayload{SenderID: "alice"})
	require.NoError(t, err)
	hub.HandleEvent(context.Background(), bob, read)

	notified := alice.received(event.TypeMessagesRead)
	require.Len(t, notified, 1)
	var p event.MessagesReadPayload
	require.NoError(t, notified[0].Decode(&p))
	assert.Equal(t, "bob", p.ReadBy)

	hist, err := store.PairHistory(context.Background(), "alice", "bob", 0)
	require.NoError(t, err)
	assert.True(t, hist[0].Read)
}

func TestUnknownEventAnswersError(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &fakeConn{userID: "alice"}
	registerAndWait(t, hub, alice)

	hub.HandleEvent(context.Background(), alice, event.Envelope{Type: "bogus"})
	assert.Len(t, alice.received(event.TypeError), 1)
}
