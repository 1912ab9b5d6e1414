// Package dispatch is the send path: local validation, acknowledgement
// correlation, and confirmation-only append into the conversation store.
// No provisional entry is created before the server acks: a failed send
// leaves the conversation untouched and the caller keeps the input.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/transport"
)

var (
	ErrEmptyMessage = errors.New("dispatch: empty message")
	ErrNotConnected = errors.New("dispatch: not connected")
	ErrSendInFlight = errors.New("dispatch: send already in flight for peer")
	ErrNotDelivered = errors.New("dispatch: not delivered")
)

// Channel is the slice of the connection manager the dispatcher needs.
type Channel interface {
	State() transport.State
	Emit(event.Envelope) error
	EmitWithAck(ctx context.Context, env event.Envelope) (event.AckPayload, error)
}

// Appender receives confirmed messages.
type Appender interface {
	Append(peerID string, m model.Message) bool
}

// TypingFlusher ends the typing indicator for a peer; a send implies the
// user stopped typing.
type TypingFlusher interface {
	Flush(peerID string)
}

type Dispatcher struct {
	ch      Channel
	conv    Appender
	typing  TypingFlusher // may be nil
	selfID  string
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{} // keyed by peer id: one send per conversation
}

func NewDispatcher(ch Channel, conv Appender, typing TypingFlusher, selfID string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		ch:       ch,
		conv:     conv,
		typing:   typing,
		selfID:   selfID,
		timeout:  timeout,
		inflight: make(map[string]struct{}),
	}
}

// Send emits a private_message and blocks until the server acks it. The
// append target is captured here, so a send that resolves after the user
// switched conversations still lands in the right log. Sends to different
// peers may run concurrently; a second send to the same peer while one is
// pending is rejected, not queued.
func (d *Dispatcher) Send(ctx context.Context, peerID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if d.ch.State() != transport.StateConnected {
		return model.Message{}, ErrNotConnected
	}

	d.mu.Lock()
	if _, busy := d.inflight[peerID]; busy {
		d.mu.Unlock()
		return model.Message{}, ErrSendInFlight
	}
	d.inflight[peerID] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, peerID)
		d.mu.Unlock()
	}()

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{
		ReceiverID: peerID,
		Message:    content,
	})
	if err != nil {
		return model.Message{}, err
	}

	// The send ends the local typing state for this peer.
	if d.typing != nil {
		d.typing.Flush(peerID)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ack, err := d.ch.EmitWithAck(ctx, env)
	if err != nil {
		return model.Message{}, fmt.Errorf("dispatch: send to %s: %w", peerID, err)
	}
	if !ack.Delivered {
		reason := ack.Error
		if reason == "" {
			reason = "rejected by server"
		}
		return model.Message{}, fmt.Errorf("%w: %s", ErrNotDelivered, reason)
	}

	msg := confirmedMessage(ack, d.selfID, peerID, content)
	d.conv.Append(peerID, msg)
	return msg, nil
}

// confirmedMessage builds the stored message from the ack. Prefers the
// full message echoed in the ack (server id and timestamp); falls back to
// the bare message id for older servers.
func confirmedMessage(ack event.AckPayload, selfID, peerID, content string) model.Message {
	if ack.Message != nil {
		return *ack.Message
	}
	return model.Message{
		ID:         ack.MessageID,
		SenderID:   selfID,
		ReceiverID: peerID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}

// MarkRead emits a fire-and-forget read receipt for everything senderID
// sent us. No ack is awaited; the server treats it as idempotent.
func (d *Dispatcher) MarkRead(senderID string) {
	if senderID == "" {
		return
	}
	env, err := event.New(event.TypeMarkRead, event.MarkReadPayload{SenderID: senderID})
	if err != nil {
		logger.Errorf("dispatch: mark_read payload: %v", err)
		return
	}
	if err := d.ch.Emit(env); err != nil {
		logger.Errorf("dispatch: mark_read for %s: %v", senderID, err)
	}
}

// InFlight reports whether a send to peerID is pending.
func (d *Dispatcher) InFlight(peerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[peerID]
	return ok
}
