package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/server"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage/memory"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Client) {
	t.Helper()
	store := memory.New()
	hub := server.NewHub(store, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	registry := server.NewPollRegistry(hub, 100*time.Millisecond, 5*time.Second)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewRouter(hub, registry, store, "*"), store
}

func TestGetMessagesRequiresUserHeader(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/messages/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMessagesReturnsOrderedHistory(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.AppendMessage(ctx, model.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "one", CreatedAt: now,
	}))
	require.NoError(t, store.AppendMessage(ctx, model.Message{
		ID: "m2", SenderID: "bob", ReceiverID: "alice", Content: "two", CreatedAt: now.Add(time.Second),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/messages/bob", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestGetMessagesEmptyPairIsArrayNotNull(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/messages/stranger", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPollSessionLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/poll", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Session string `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Session)

	// The first poll drains the roster greeting.
	req = httptest.NewRequest(http.MethodGet, "/api/poll/events?session="+created.Session, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch []event.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.NotEmpty(t, batch)
	assert.Equal(t, event.TypeOnlineUsers, batch[0].Type)

	// Disconnect invalidates the session.
	req = httptest.NewRequest(http.MethodDelete, "/api/poll?session="+created.Session, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/poll/events?session="+created.Session, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPollSendFeedsTheHub(t *testing.T) {
	router, store := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/poll", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Session string `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	env, err := event.New(event.TypePrivateMessage, event.SendMessagePayload{ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	env.AckID = "ack-1"
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/poll/send?session="+created.Session, bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	hist, err := store.PairHistory(context.Background(), "alice", "bob", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "hi", hist[0].Content)
}
