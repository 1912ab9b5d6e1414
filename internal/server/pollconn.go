package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
)

// pollConn is the long-poll counterpart of WSConn: events queue up until
// the client's next GET drains them. A session that stops polling is
// expired after the idle timeout.
type pollConn struct {
	userID  string
	session string
	send    chan event.Envelope
	done    chan struct{}
	once    sync.Once
	idle    *time.Timer
	idleTTL time.Duration
}

func (c *pollConn) UserID() string { return c.userID }

func (c *pollConn) Send(env event.Envelope) bool {
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *pollConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.idle.Stop()
	})
}

// poll blocks up to wait for the first queued envelope, then drains
// whatever else is immediately available.
func (c *pollConn) poll(ctx context.Context, wait time.Duration) []event.Envelope {
	c.idle.Reset(c.idleTTL) // postpone expiry while the client is polling

	var batch []event.Envelope
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case env := <-c.send:
		batch = append(batch, env)
	case <-timer.C:
		return batch
	case <-ctx.Done():
		return batch
	case <-c.done:
		return batch
	}
	for {
		select {
		case env := <-c.send:
			batch = append(batch, env)
		default:
			return batch
		}
	}
}

// PollRegistry tracks long-poll sessions and plugs them into the hub as
// ordinary connections.
type PollRegistry struct {
	mu       sync.Mutex
	sessions map[string]*pollConn
	hub      *Hub
	wait     time.Duration
	idle     time.Duration
}

func NewPollRegistry(hub *Hub, wait, idle time.Duration) *PollRegistry {
	if wait <= 0 {
		wait = 25 * time.Second
	}
	if idle <= 0 {
		idle = 60 * time.Second
	}
	return &PollRegistry{
		sessions: make(map[string]*pollConn),
		hub:      hub,
		wait:     wait,
		idle:     idle,
	}
}

// Connect registers a new poll session for userID and returns its id.
func (r *PollRegistry) Connect(userID string) string {
	session := uuid.New().String()
	c := &pollConn{
		userID:  userID,
		session: session,
		send:    make(chan event.Envelope, sendBufSize),
		done:    make(chan struct{}),
		idleTTL: r.idle,
	}
	c.idle = time.AfterFunc(r.idle, func() {
		logger.Infof("poll session expired user=%s", userID)
		r.Disconnect(session)
	})
	r.mu.Lock()
	r.sessions[session] = c
	r.mu.Unlock()
	r.hub.Register(c)
	return session
}

// Poll blocks for the session's next event batch. ok is false for an
// unknown or expired session.
func (r *PollRegistry) Poll(ctx context.Context, session string) (batch []event.Envelope, ok bool) {
	r.mu.Lock()
	c, ok := r.sessions[session]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.poll(ctx, r.wait), true
}

// Deliver feeds a client-sent envelope into the hub on behalf of the
// session.
func (r *PollRegistry) Deliver(ctx context.Context, session string, env event.Envelope) bool {
	r.mu.Lock()
	c, ok := r.sessions[session]
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.hub.HandleEvent(ctx, c, env)
	return true
}

// Disconnect removes the session and unregisters it from the hub.
func (r *PollRegistry) Disconnect(session string) {
	r.mu.Lock()
	c, ok := r.sessions[session]
	if ok {
		delete(r.sessions, session)
	}
	r.mu.Unlock()
	if ok {
		r.hub.Unregister(c)
	}
}
