// Package conversation holds the per-peer ordered message logs. Logs are
// append-only; the only in-place mutation is the read/readAt transition
// applied by read receipts. Logs for deactivated peers stay cached in
// memory for fast re-selection.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
)

var ErrNoPeer = errors.New("conversation: no peer selected")

// HistoryFetcher loads the ordered pair history from the HTTP collaborator.
type HistoryFetcher interface {
	Messages(ctx context.Context, peerID string, limit int) ([]model.Message, error)
}

type peerLog struct {
	msgs []model.Message
	seen map[string]struct{}
}

func newPeerLog() *peerLog {
	return &peerLog{seen: make(map[string]struct{})}
}

func (l *peerLog) append(m model.Message) bool {
	if m.ID != "" {
		if _, dup := l.seen[m.ID]; dup {
			return false
		}
		l.seen[m.ID] = struct{}{}
	}
	l.msgs = append(l.msgs, m)
	return true
}

type Store struct {
	mu           sync.RWMutex
	selfID       string
	active       string
	logs         map[string]*peerLog
	history      HistoryFetcher
	historyLimit int
}

// New builds a Store for selfID. history may be nil when no HTTP
// collaborator is available (LoadHistory then keeps the cached log).
func New(selfID string, history HistoryFetcher, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Store{
		selfID:       selfID,
		logs:         make(map[string]*peerLog),
		history:      history,
		historyLimit: historyLimit,
	}
}

// Active returns the currently active peer id, empty when none.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive switches the active conversation and returns the previous
// peer. The deactivated peer's log is retained.
func (s *Store) SetActive(peerID string) (prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.active
	s.active = peerID
	return prev
}

// LoadHistory replaces the in-memory log for peerID wholesale with the
// fetched pair history. Valid only for a non-empty peer id.
func (s *Store) LoadHistory(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrNoPeer
	}
	if s.history == nil {
		return nil
	}
	msgs, err := s.history.Messages(ctx, peerID, s.historyLimit)
	if err != nil {
		return err
	}
	l := newPeerLog()
	for _, m := range msgs {
		l.append(m)
	}
	s.mu.Lock()
	s.logs[peerID] = l
	s.mu.Unlock()
	return nil
}

// Append adds a confirmed or incoming message to peerID's log, preserving
// arrival order. Duplicate ids (echo after ack, replayed events) are
// dropped. Returns whether the message was appended.
func (s *Store) Append(peerID string, m model.Message) bool {
	if peerID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[peerID]
	if !ok {
		l = newPeerLog()
		s.logs[peerID] = l
	}
	return l.append(m)
}

// ApplyReadReceipt marks every message we sent to readBy as read. The
// transition is one-way: already-read messages are untouched, so applying
// the same receipt twice is a no-op. Returns the number of transitions.
func (s *Store) ApplyReadReceipt(readBy string) int {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[readBy]
	if !ok {
		return 0
	}
	n := 0
	for i := range l.msgs {
		m := &l.msgs[i]
		if m.SenderID == s.selfID && m.ReceiverID == readBy && !m.Read {
			m.Read = true
			at := now
			m.ReadAt = &at
			n++
		}
	}
	return n
}

// Messages returns a copy of peerID's log in display order.
func (s *Store) Messages(peerID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[peerID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}
