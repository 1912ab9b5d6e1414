package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// WebSocketDialer dials the server's /ws endpoint. It is the preferred
// transport.
type WebSocketDialer struct{}

func (WebSocketDialer) Name() string { return "websocket" }

func (WebSocketDialer) Dial(ctx context.Context, serverURL, userID string) (Transport, error) {
	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws"
	header := http.Header{"X-User-ID": []string{userID}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	t := &wsTransport{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.pinger()
	return t, nil
}

// wsTransport wraps a gorilla connection. writeMu serialises Send and the
// ping ticker; gorilla allows only one concurrent writer.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (t *wsTransport) pinger() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				logger.Debugf("ws ping: %v", err)
				return
			}
		}
	}
}

func (t *wsTransport) Send(env event.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) Receive() (event.Envelope, error) {
	var env event.Envelope
	if err := t.conn.ReadJSON(&env); err != nil {
		return event.Envelope{}, err
	}
	return env, nil
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		t.conn.WriteMessage(websocket.CloseMessage, nil)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
