// Package session wires the sync core together and runs the event routing
// loop. Every component receives its dependencies explicitly here; there
// is no ambient channel lookup. Events are routed in arrival order by a
// single goroutine, so component handlers see one transition at a time.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/conversation"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/dispatch"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/presence"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/transport"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/typing"
)

// typingEmitter sends typing events over the channel. Best-effort: a
// failed emit is logged and forgotten, the server timeout covers us.
type typingEmitter struct {
	ch *transport.Manager
}

func (e typingEmitter) EmitTyping(receiverID string, isTyping bool) {
	env, err := event.New(event.TypeTyping, event.TypingPayload{
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
	if err != nil {
		logger.Errorf("typing payload: %v", err)
		return
	}
	if err := e.ch.Emit(env); err != nil {
		logger.Debugf("typing emit: %v", err)
	}
}

type Session struct {
	selfID string
	conn   *transport.Manager

	presence *presence.Tracker
	conv     *conversation.Store
	typing   *typing.Coordinator
	dispatch *dispatch.Dispatcher

	onMessage  func(model.Message)
	onTyping   func(peerID string, isTyping bool)
	onPresence func(online []string)

	wg   sync.WaitGroup
	once sync.Once
}

// New wires a session for selfID on top of an already-constructed
// connection manager and history fetcher.
func New(selfID string, conn *transport.Manager, hist conversation.HistoryFetcher,
	typingDebounce, sendTimeout time.Duration, historyLimit int) *Session {

	conv := conversation.New(selfID, hist, historyLimit)
	tc := typing.NewCoordinator(typingEmitter{ch: conn}, typingDebounce)
	return &Session{
		selfID:   selfID,
		conn:     conn,
		presence: presence.NewTracker(),
		conv:     conv,
		typing:   tc,
		dispatch: dispatch.NewDispatcher(conn, conv, tc, selfID, sendTimeout),
	}
}

// OnMessage registers a callback for every message appended to the active
// conversation. Register before Start.
func (s *Session) OnMessage(fn func(model.Message)) { s.onMessage = fn }

// OnTyping registers a callback for active-peer typing changes.
func (s *Session) OnTyping(fn func(peerID string, isTyping bool)) { s.onTyping = fn }

// OnPresence registers a callback for roster changes.
func (s *Session) OnPresence(fn func(online []string)) { s.onPresence = fn }

// OnStateChange proxies connection state notifications.
func (s *Session) OnStateChange(fn func(transport.State)) { s.conn.OnStateChange(fn) }

// Start launches the routing loop. The loop exits when the channel's
// event stream is closed.
func (s *Session) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for env := range s.conn.Events() {
			s.route(env)
		}
	}()
}

func (s *Session) route(env event.Envelope) {
	switch env.Type {
	case event.TypeUsersOnline, event.TypeOnlineUsers, event.TypeUserOffline:
		s.presence.HandleEvent(env)
		if s.onPresence != nil {
			s.onPresence(s.presence.Snapshot())
		}

	case event.TypePrivateMessage:
		var p event.MessagePayload
		if err := env.Decode(&p); err != nil {
			logger.Errorf("malformed private_message payload: %v", err)
			return
		}
		s.handleIncoming(p.Message, true)

	case event.TypeMessageSent:
		// Echo of our own message confirmed on another connection.
		var p event.MessagePayload
		if err := env.Decode(&p); err != nil {
			logger.Errorf("malformed message_sent payload: %v", err)
			return
		}
		s.handleIncoming(p.Message, false)

	case event.TypeUserTyping:
		var p event.UserTypingPayload
		if err := env.Decode(&p); err != nil {
			logger.Errorf("malformed user_typing payload: %v", err)
			return
		}
		s.typing.HandleRemote(p.UserID, p.IsTyping)
		if s.onTyping != nil && p.UserID == s.conv.Active() {
			s.onTyping(p.UserID, p.IsTyping)
		}

	case event.TypeMessagesRead:
		var p event.MessagesReadPayload
		if err := env.Decode(&p); err != nil {
			logger.Errorf("malformed messages_read payload: %v", err)
			return
		}
		s.conv.ApplyReadReceipt(p.ReadBy)

	case event.TypeError:
		var p event.ErrorPayload
		if err := env.Decode(&p); err == nil {
			logger.Errorf("server error event: %s", p.Error)
		}

	default:
		logger.Debugf("unknown event %q dropped", env.Type)
	}
}

// handleIncoming appends a delivered message when it belongs to the active
// conversation; messages for other peers are dropped (their log is
// refetched on open). A message sent by the active peer triggers an
// automatic read receipt.
func (s *Session) handleIncoming(m model.Message, remote bool) {
	active := s.conv.Active()
	if active == "" || m.PeerFor(s.selfID) != active {
		logger.Debugf("message for inactive peer dropped: %s", m.ID)
		return
	}
	if !s.conv.Append(active, m) {
		return
	}
	if remote && m.SenderID == active {
		s.dispatch.MarkRead(m.SenderID)
	}
	if s.onMessage != nil {
		s.onMessage(m)
	}
}

// SetActivePeer switches the active conversation: transient typing state
// is cleared on every switch (a pending local indicator is flushed to the
// old peer) and the new peer's history is fetched. The old log stays
// cached.
func (s *Session) SetActivePeer(ctx context.Context, peerID string) error {
	s.conv.SetActive(peerID)
	s.typing.SetActive(peerID)
	if peerID == "" {
		return nil
	}
	if err := s.conv.LoadHistory(ctx, peerID); err != nil {
		logger.Errorf("load history for %s: %v", peerID, err)
		return err
	}
	return nil
}

// Send sends content to the active peer and returns the confirmed message.
func (s *Session) Send(ctx context.Context, content string) (model.Message, error) {
	peer := s.conv.Active()
	if peer == "" {
		return model.Message{}, conversation.ErrNoPeer
	}
	return s.dispatch.Send(ctx, peer, content)
}

// NotifyTyping reports a local input change for the active conversation.
func (s *Session) NotifyTyping() { s.typing.NotifyTyping() }

// MarkRead emits a read receipt for everything senderID sent us.
func (s *Session) MarkRead(senderID string) { s.dispatch.MarkRead(senderID) }

// ActivePeer returns the active peer id.
func (s *Session) ActivePeer() string { return s.conv.Active() }

// Messages returns the cached log for peerID.
func (s *Session) Messages(peerID string) []model.Message { return s.conv.Messages(peerID) }

// IsOnline reports peer presence.
func (s *Session) IsOnline(peerID string) bool { return s.presence.IsOnline(peerID) }

// OnlineUsers returns the current roster.
func (s *Session) OnlineUsers() []string { return s.presence.Snapshot() }

// RemoteTyping reports whether the active peer is typing.
func (s *Session) RemoteTyping() bool { return s.typing.RemoteTyping() }

// State returns the connection state.
func (s *Session) State() transport.State { return s.conn.State() }

// Close tears down the channel and waits for the routing loop to drain.
func (s *Session) Close() {
	s.once.Do(func() {
		s.conn.Close()
		s.typing.Stop()
		s.wg.Wait()
	})
}
