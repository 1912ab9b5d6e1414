// Package typing debounces the local typing indicator and tracks the
// active peer's remote one. A burst of keystrokes produces exactly one
// typing=true followed by exactly one typing=false once the debounce
// window after the last keystroke elapses.
package typing

import (
	"sync"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
)

// Emitter sends typing state changes to the server.
type Emitter interface {
	EmitTyping(receiverID string, isTyping bool)
}

// emission is a typing state change decided under the lock and sent after
// unlocking; EmitTyping does network I/O and must never run under c.mu.
type emission struct {
	peerID   string
	isTyping bool
}

type Coordinator struct {
	mu       sync.Mutex
	emitter  Emitter
	debounce time.Duration

	active string // peer the indicator is scoped to

	// local state
	peerID  string // peer the pending timer belongs to
	emitted bool   // typing=true sent, matching false not yet sent
	timer   *time.Timer

	// remote state: active peer currently typing. Cleared only by an
	// explicit typing=false event or a peer switch, never by timeout;
	// the remote side owns its own expiry.
	remote bool
}

func NewCoordinator(emitter Emitter, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Coordinator{emitter: emitter, debounce: debounce}
}

// SetActive scopes the indicator to a new peer. A pending local timer for
// the previous peer is resolved with an explicit typing=false so the old
// peer never keeps a dangling indicator, and remote state is cleared
// unconditionally.
func (c *Coordinator) SetActive(peerID string) {
	c.mu.Lock()
	out := c.flushLocked()
	c.remote = false
	c.active = peerID
	c.mu.Unlock()
	c.emitAll(out)
}

// NotifyTyping is called on every local input change for the active peer.
// The first call of a burst emits typing=true; every call re-arms the
// debounce timer whose expiry emits typing=false exactly once.
func (c *Coordinator) NotifyTyping() {
	c.mu.Lock()
	peer := c.active
	if peer == "" {
		c.mu.Unlock()
		return
	}
	var out []emission
	if c.peerID != "" && c.peerID != peer {
		// Timer still pending for a previously active peer.
		out = c.flushLocked()
	}
	if !c.emitted {
		out = append(out, emission{peerID: peer, isTyping: true})
		c.emitted = true
	}
	c.peerID = peer
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() { c.expire(peer) })
	c.mu.Unlock()
	c.emitAll(out)
}

func (c *Coordinator) expire(peer string) {
	c.mu.Lock()
	if c.peerID != peer || !c.emitted {
		c.mu.Unlock()
		return
	}
	c.emitted = false
	c.peerID = ""
	c.timer = nil
	c.mu.Unlock()
	c.emitter.EmitTyping(peer, false)
}

// Flush emits typing=false for peerID and cancels the pending timer.
// The dispatcher calls it on send: sending a message implicitly ends typing.
func (c *Coordinator) Flush(peerID string) {
	if peerID == "" {
		return
	}
	c.mu.Lock()
	if c.peerID == peerID {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.emitted = false
		c.peerID = ""
	}
	c.mu.Unlock()
	c.emitter.EmitTyping(peerID, false)
}

// flushLocked resolves a pending local indicator, if any, into an explicit
// typing=false emission. Caller holds c.mu and emits after unlocking.
func (c *Coordinator) flushLocked() []emission {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var out []emission
	if c.emitted {
		out = append(out, emission{peerID: c.peerID, isTyping: false})
		c.emitted = false
	}
	c.peerID = ""
	return out
}

func (c *Coordinator) emitAll(out []emission) {
	for _, e := range out {
		c.emitter.EmitTyping(e.peerID, e.isTyping)
	}
}

// HandleRemote updates remote typing state. Events for peers other than
// the active one are stale and dropped.
func (c *Coordinator) HandleRemote(userID string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID != c.active {
		logger.Debugf("typing: stale event for %s dropped", userID)
		return
	}
	c.remote = isTyping
}

// RemoteTyping reports whether the active peer is typing.
func (c *Coordinator) RemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Stop cancels any pending timer without emitting. For teardown only.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.emitted = false
	c.peerID = ""
}
