// Package server is the reference chat server: a hub relaying direct
// messages, typing state and read receipts between attached connections,
// with presence and history kept in a storage.Store.
package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
)

// Conn is one attached client connection, WebSocket or long-poll.
type Conn interface {
	UserID() string
	// Send queues an envelope; false means the connection is gone or its
	// buffer is full.
	Send(env event.Envelope) bool
	Close()
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[Conn]struct{}
	total    int
	maxConns int
	store    storage.Store

	register   chan Conn
	unregister chan Conn
	done       chan struct{}
}

func NewHub(store storage.Store, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[Conn]struct{}),
		maxConns:   maxConns,
		store:      store,
		register:   make(chan Conn, 64),
		unregister: make(chan Conn, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addConn(c)
		case c := <-h.unregister:
			h.removeConn(c)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect under the lock, close outside it (network I/O).
	h.mu.Lock()
	all := make([]Conn, 0, h.total)
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[Conn]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func (h *Hub) addConn(c Conn) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("connection limit reached (%d), rejecting user=%s", h.maxConns, c.UserID())
		c.Close()
		return
	}
	if _, ok := h.clients[c.UserID()]; !ok {
		h.clients[c.UserID()] = make(map[Conn]struct{})
	}
	h.clients[c.UserID()][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.SetOnline(ctx, c.UserID()); err != nil {
		logger.Errorf("set online user=%s: %v", c.UserID(), err)
	}
	h.broadcastRoster(ctx, c)
}

func (h *Hub) removeConn(c Conn) {
	h.mu.Lock()
	conns, ok := h.clients[c.UserID()]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := conns[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	h.total--
	lastConn := len(conns) == 0
	if lastConn {
		delete(h.clients, c.UserID())
	}
	h.mu.Unlock()

	c.Close()

	if lastConn {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.SetOffline(ctx, c.UserID()); err != nil {
			logger.Errorf("set offline user=%s: %v", c.UserID(), err)
		}
		out, err := event.New(event.TypeUserOffline, event.UserOfflinePayload{UserID: c.UserID()})
		if err == nil {
			h.broadcast(out)
		}
	}
}

// broadcastRoster pushes the full roster to everyone and additionally to
// the joining connection under the legacy event name, so clients written
// against either name stay in sync.
func (h *Hub) broadcastRoster(ctx context.Context, joined Conn) {
	roster, err := h.store.OnlineUsers(ctx)
	if err != nil {
		logger.Errorf("roster fetch: %v", err)
		return
	}
	if out, err := event.New(event.TypeUsersOnline, roster); err == nil {
		h.broadcast(out)
	}
	if out, err := event.New(event.TypeOnlineUsers, roster); err == nil {
		h.sendToConn(joined, out)
	}
}

// HandleEvent dispatches one client event.
func (h *Hub) HandleEvent(ctx context.Context, c Conn, env event.Envelope) {
	switch env.Type {
	case event.TypePrivateMessage:
		h.handlePrivateMessage(ctx, c, env)
	case event.TypeTyping:
		h.handleTyping(c, env)
	case event.TypeMarkRead:
		h.handleMarkRead(ctx, c, env)
	default:
		if out, err := event.New(event.TypeError, event.ErrorPayload{Error: "unknown event type"}); err == nil {
			h.sendToConn(c, out)
		}
	}
}

func (h *Hub) handlePrivateMessage(ctx context.Context, c Conn, env event.Envelope) {
	defer logger.DeferLogDuration("hub.handlePrivateMessage", time.Now())()
	var p event.SendMessagePayload
	if err := env.Decode(&p); err != nil || p.ReceiverID == "" || strings.TrimSpace(p.Message) == "" {
		h.ackTo(c, env.AckID, event.AckPayload{Delivered: false, Error: "receiverId and message required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m := model.Message{
		ID:         uuid.New().String(),
		SenderID:   c.UserID(),
		ReceiverID: p.ReceiverID,
		Content:    p.Message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.AppendMessage(ctx, m); err != nil {
		logger.Errorf("save message from=%s to=%s: %v", m.SenderID, m.ReceiverID, err)
		h.ackTo(c, env.AckID, event.AckPayload{Delivered: false, Error: "failed to save message"})
		return
	}

	h.ackTo(c, env.AckID, event.AckPayload{Delivered: true, MessageID: m.ID, Message: &m})

	if out, err := event.New(event.TypePrivateMessage, event.MessagePayload{Message: m}); err == nil {
		h.sendToUser(m.ReceiverID, out)
	}
	// Echo to the sender's other connections (tabs) only; the origin
	// already got the full message in its ack.
	if echo, err := event.New(event.TypeMessageSent, event.MessagePayload{Message: m}); err == nil {
		h.sendToUserExcept(m.SenderID, c, echo)
	}
}

func (h *Hub) handleTyping(c Conn, env event.Envelope) {
	var p event.TypingPayload
	if err := env.Decode(&p); err != nil || p.ReceiverID == "" {
		return
	}
	out, err := event.New(event.TypeUserTyping, event.UserTypingPayload{
		UserID:   c.UserID(),
		IsTyping: p.IsTyping,
	})
	if err != nil {
		return
	}
	h.sendToUser(p.ReceiverID, out)
}

func (h *Hub) handleMarkRead(ctx context.Context, c Conn, env event.Envelope) {
	var p event.MarkReadPayload
	if err := env.Decode(&p); err != nil || p.SenderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.store.MarkPairRead(ctx, c.UserID(), p.SenderID); err != nil {
		logger.Errorf("mark read reader=%s sender=%s: %v", c.UserID(), p.SenderID, err)
		return
	}
	out, err := event.New(event.TypeMessagesRead, event.MessagesReadPayload{ReadBy: c.UserID()})
	if err != nil {
		return
	}
	h.sendToUser(p.SenderID, out)
}

func (h *Hub) ackTo(c Conn, ackID string, p event.AckPayload) {
	if ackID == "" {
		return
	}
	p.AckID = ackID
	out, err := event.New(event.TypeAck, p)
	if err != nil {
		logger.Errorf("ack payload: %v", err)
		return
	}
	h.sendToConn(c, out)
}

func (h *Hub) broadcast(env event.Envelope) {
	h.mu.RLock()
	targets := make([]Conn, 0, h.total)
	for _, conns := range h.clients {
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToConn(c, env)
	}
}

func (h *Hub) sendToUser(userID string, env event.Envelope) {
	h.sendToUserExcept(userID, nil, env)
}

func (h *Hub) sendToUserExcept(userID string, except Conn, env event.Envelope) {
	h.mu.RLock()
	conns, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]Conn, 0, len(conns))
	for c := range conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToConn(c, env)
	}
}

func (h *Hub) sendToConn(c Conn, env event.Envelope) {
	if !c.Send(env) {
		// Backpressure: buffer full, drop the slow connection.
		logger.Errorf("send buffer full, closing slow conn user=%s", c.UserID())
		c.Close()
	}
}

func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
