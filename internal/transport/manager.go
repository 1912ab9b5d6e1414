package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
)

const eventBufSize = 256

// Manager owns the channel lifecycle. It dials with a bounded number of
// attempts and a fixed delay between them, preferring the WebSocket
// transport and falling back to long-poll within each attempt, and
// re-dials the same way when an established channel drops. State-change
// subscribers are notified synchronously, one transition at a time.
type Manager struct {
	serverURL string
	userID    string
	attempts  int
	delay     time.Duration
	dialers   []Dialer

	mu      sync.RWMutex
	state   State
	subs    []func(State)
	tr      Transport
	pending map[string]chan event.AckPayload

	events chan event.Envelope
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewManager builds a Manager. attempts and delay follow the channel
// policy (5 attempts, 1000ms apart by default config).
func NewManager(serverURL, userID string, attempts int, delay time.Duration) *Manager {
	if attempts <= 0 {
		attempts = 5
	}
	return &Manager{
		serverURL: serverURL,
		userID:    userID,
		attempts:  attempts,
		delay:     delay,
		dialers:   []Dialer{WebSocketDialer{}, PollDialer{}},
		state:     StateDisconnected,
		pending:   make(map[string]chan event.AckPayload),
		events:    make(chan event.Envelope, eventBufSize),
		done:      make(chan struct{}),
	}
}

// OnStateChange registers a subscriber called synchronously on every state
// transition. Register before Connect.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Events is the stream of server-pushed envelopes. Acks are routed to
// their waiting EmitWithAck call and never appear here. The channel is
// closed after Close.
func (m *Manager) Events() <-chan event.Envelope {
	return m.events
}

// Connect dials the server and starts the read loop. On failure after all
// attempts the state is left disconnected and the last dial error is
// returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.setState(StateConnecting)
	tr, err := m.dial(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}
	m.mu.Lock()
	m.tr = tr
	m.mu.Unlock()
	m.setState(StateConnected)
	m.wg.Add(1)
	go m.readLoop(tr)
	return nil
}

// dial tries each transport in order, attempts times, with a fixed delay
// between rounds.
func (m *Manager) dial(ctx context.Context) (Transport, error) {
	var lastErr error
	for i := 0; i < m.attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(m.delay):
			case <-m.done:
				return nil, ErrClosed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		for _, d := range m.dialers {
			tr, err := d.Dial(ctx, m.serverURL, m.userID)
			if err == nil {
				logger.Infof("connected via %s (attempt %d)", d.Name(), i+1)
				return tr, nil
			}
			lastErr = err
			logger.Errorf("dial %s attempt %d: %v", d.Name(), i+1, err)
		}
	}
	return nil, fmt.Errorf("transport: all %d attempts failed: %w", m.attempts, lastErr)
}

func (m *Manager) readLoop(tr Transport) {
	defer m.wg.Done()
	for {
		env, err := tr.Receive()
		if err != nil {
			// Tear the failed transport down before re-dialing; a leaked
			// ws transport keeps its pinger goroutine and socket alive.
			tr.Close()
			select {
			case <-m.done:
				return
			default:
			}
			logger.Errorf("channel receive: %v", err)
			m.setState(StateDisconnected)
			m.failPending("connection lost")

			m.setState(StateConnecting)
			next, dialErr := m.dial(context.Background())
			if dialErr != nil {
				m.setState(StateDisconnected)
				return
			}
			// The done re-check and the store are atomic, so Close either
			// sees the new transport or we see done and discard it.
			m.mu.Lock()
			select {
			case <-m.done:
				m.mu.Unlock()
				next.Close()
				return
			default:
			}
			m.tr = next
			m.mu.Unlock()
			m.setState(StateConnected)
			tr = next
			continue
		}

		if env.Type == event.TypeAck {
			m.deliverAck(env)
			continue
		}
		select {
		case m.events <- env:
		case <-m.done:
			return
		default:
			// Consumer stalled; drop rather than block the channel.
			logger.Errorf("event buffer full, dropping %s", env.Type)
		}
	}
}

func (m *Manager) deliverAck(env event.Envelope) {
	var ack event.AckPayload
	if err := env.Decode(&ack); err != nil {
		logger.Errorf("malformed ack payload: %v", err)
		return
	}
	m.mu.Lock()
	ch, ok := m.pending[ack.AckID]
	if ok {
		delete(m.pending, ack.AckID)
	}
	m.mu.Unlock()
	if !ok {
		logger.Debugf("ack %s has no waiter, dropped", ack.AckID)
		return
	}
	ch <- ack
}

// failPending resolves every outstanding ack wait as undelivered.
func (m *Manager) failPending(reason string) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]chan event.AckPayload)
	m.mu.Unlock()
	for id, ch := range pending {
		ch <- event.AckPayload{AckID: id, Delivered: false, Error: reason}
	}
}

// Emit sends a fire-and-forget envelope. Rejected locally when the channel
// is not connected.
func (m *Manager) Emit(env event.Envelope) error {
	m.mu.RLock()
	tr, state := m.tr, m.state
	m.mu.RUnlock()
	if state != StateConnected || tr == nil {
		return ErrNotConnected
	}
	return tr.Send(env)
}

// EmitWithAck sends an envelope carrying a generated ack id and blocks
// until the matching ack arrives, ctx expires, or the channel drops.
func (m *Manager) EmitWithAck(ctx context.Context, env event.Envelope) (event.AckPayload, error) {
	env.AckID = uuid.New().String()
	ch := make(chan event.AckPayload, 1)
	m.mu.Lock()
	m.pending[env.AckID] = ch
	m.mu.Unlock()

	if err := m.Emit(env); err != nil {
		m.mu.Lock()
		delete(m.pending, env.AckID)
		m.mu.Unlock()
		return event.AckPayload{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, env.AckID)
		m.mu.Unlock()
		return event.AckPayload{}, ctx.Err()
	case <-m.done:
		return event.AckPayload{}, ErrClosed
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	subs := make([]func(State), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Close tears the channel down unconditionally and closes the event
// stream. Safe to call more than once.
func (m *Manager) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		tr := m.tr
		m.tr = nil
		m.mu.Unlock()
		if tr != nil {
			tr.Close()
		}
		m.failPending("closed")
		m.wg.Wait()
		// Final state is set after the read loop has exited, so a re-dial
		// racing Close can never leave the manager reporting connecting.
		m.setState(StateDisconnected)
		close(m.events)
	})
	return nil
}
