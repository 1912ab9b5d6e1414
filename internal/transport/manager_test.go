package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/handler"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/server"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage/memory"
)

// newTestServer spins up the full chat server on a loopback listener.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	hub := server.NewHub(store, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	registry := server.NewPollRegistry(hub, 200*time.Millisecond, 5*time.Second)
	srv := httptest.NewServer(handler.NewRouter(hub, registry, store, "*"))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestConnectStateSequence(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager(srv.URL, "alice", 3, 50*time.Millisecond)
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.snapshot())

	require.NoError(t, m.Close())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestServerEventsReachTheStream(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager(srv.URL, "alice", 3, 50*time.Millisecond)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	// The server greets every new connection with the online roster.
	select {
	case env := <-m.Events():
		assert.Equal(t, event.TypeOnlineUsers, env.Type)
		var ids []string
		require.NoError(t, env.Decode(&ids))
		assert.Contains(t, ids, "alice")
	case <-time.After(2 * time.Second):
		t.Fatal("no roster event received")
	}
}

func TestEmitWithAckRoundtrip(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager(srv.URL, "alice", 3, 50*time.Millisecond)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := m.EmitWithAck(ctx, env)
	require.NoError(t, err)
	assert.True(t, ack.Delivered)
	assert.NotEmpty(t, ack.MessageID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "alice", ack.Message.SenderID)
}

func TestEmitRejectedBeforeConnect(t *testing.T) {
	m := NewManager("http://127.0.0.1:0", "alice", 1, time.Millisecond)
	env, err := event.New(event.TypeTyping, event.TypingPayload{ReceiverID: "bob", IsTyping: true})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Emit(env), ErrNotConnected)
}

func TestFallbackToLongPoll(t *testing.T) {
	srv := newTestServer(t)
	// Front the real server with a proxy that refuses WebSocket upgrades.
	noWS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, srv.URL+r.URL.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header.Clone()
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}))
	defer noWS.Close()

	m := NewManager(noWS.URL, "alice", 3, 50*time.Millisecond)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()
	assert.Equal(t, StateConnected, m.State())

	// The poll channel still carries the full protocol.
	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "over poll"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := m.EmitWithAck(ctx, env)
	require.NoError(t, err)
	assert.True(t, ack.Delivered)
}

// scriptTransport is a manually driven Transport: tests feed events or a
// receive error and observe what was sent and whether Close was called.
type scriptTransport struct {
	mu     sync.Mutex
	sent   []event.Envelope
	events chan event.Envelope
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{
		events: make(chan event.Envelope, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (t *scriptTransport) Send(env event.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *scriptTransport) Receive() (event.Envelope, error) {
	select {
	case env := <-t.events:
		return env, nil
	case err := <-t.errs:
		return event.Envelope{}, err
	case <-t.done:
		return event.Envelope{}, ErrClosed
	}
}

func (t *scriptTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *scriptTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *scriptTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// scriptDialer hands out scripted transports in order; further dials fail.
type scriptDialer struct {
	mu         sync.Mutex
	transports []*scriptTransport
	idx        int
}

func (d *scriptDialer) Name() string { return "script" }

func (d *scriptDialer) Dial(ctx context.Context, serverURL, userID string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.transports) {
		return nil, errors.New("no transport available")
	}
	tr := d.transports[d.idx]
	d.idx++
	return tr, nil
}

func TestReconnectAfterDrop(t *testing.T) {
	t1 := newScriptTransport()
	t2 := newScriptTransport()
	m := NewManager("http://unused", "alice", 3, 10*time.Millisecond)
	m.dialers = []Dialer{&scriptDialer{transports: []*scriptTransport{t1, t2}}}
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	// A send waiting on its ack when the channel drops.
	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	type ackResult struct {
		ack event.AckPayload
		err error
	}
	res := make(chan ackResult, 1)
	go func() {
		ack, err := m.EmitWithAck(context.Background(), env)
		res <- ackResult{ack, err}
	}()
	require.Eventually(t, func() bool { return t1.sentCount() == 1 }, time.Second, time.Millisecond)

	t1.errs <- errors.New("connection reset")

	// The waiter resolves as undelivered instead of hanging.
	select {
	case r := <-res:
		require.NoError(t, r.err)
		assert.False(t, r.ack.Delivered)
		assert.Equal(t, "connection lost", r.ack.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("pending ack not resolved on drop")
	}

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateDisconnected, StateConnecting, StateConnected,
	}, rec.snapshot())

	// The dropped transport is torn down and traffic moves to the new one.
	assert.True(t, t1.isClosed())
	typing, err := event.New(event.TypeTyping, event.TypingPayload{ReceiverID: "bob", IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, m.Emit(typing))
	assert.Equal(t, 1, t2.sentCount())
	assert.False(t, t2.isClosed())
}

func TestCloseDuringRedialLeavesDisconnected(t *testing.T) {
	t1 := newScriptTransport()
	// Only one transport scripted: the re-dial keeps failing.
	m := NewManager("http://unused", "alice", 5, 50*time.Millisecond)
	m.dialers = []Dialer{&scriptDialer{transports: []*scriptTransport{t1}}}
	require.NoError(t, m.Connect(context.Background()))

	t1.errs <- errors.New("connection reset")
	require.Eventually(t, func() bool { return m.State() == StateConnecting }, time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectGivesUpAfterBoundedAttempts(t *testing.T) {
	// Nothing listens on this address; every dial round fails fast.
	m := NewManager("http://127.0.0.1:1", "alice", 2, 10*time.Millisecond)
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)

	start := time.Now()
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	// One delay between the two rounds, not one per transport.
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.snapshot())
}
