// Package transport owns the bidirectional event channel to the chat
// server: dialing, reconnection with bounded retry, transport fallback
// (WebSocket preferred, HTTP long-poll degraded) and acknowledgement
// correlation. All other components consume the channel read-only through
// Manager; only the Manager opens and closes it.
package transport

import (
	"context"
	"errors"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
)

// State is the connection state of the channel. Transitions are driven
// solely by the Manager.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Transport is one established bidirectional event channel. Receive blocks
// until an event arrives or the channel fails; Send may be called from any
// goroutine.
type Transport interface {
	Send(event.Envelope) error
	Receive() (event.Envelope, error)
	Close() error
}

// Dialer establishes a Transport against the server for a given user.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, serverURL, userID string) (Transport, error)
}
