package server

import (
	"context"
	"encoding/json"
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
	sendBufSize    = 256
)

// WSConn is a single WebSocket connection.
// Lifecycle: NewWSConn -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type WSConn struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan event.Envelope
	userID string

	// done guards Send against writing to a closed connection.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewWSConn(hub *Hub, conn *websocket.Conn, userID string) *WSConn {
	return &WSConn{
		hub:    hub,
		conn:   conn,
		send:   make(chan event.Envelope, sendBufSize),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *WSConn) UserID() string { return c.userID }

// Send queues an envelope for the write pump. Non-blocking: false on a
// full buffer or a closed connection.
func (c *WSConn) Send(env event.Envelope) bool {
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Start launches the pump goroutines. ctx controls pump lifetime; cancel
// is stored for Close().
func (c *WSConn) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps have exited.
func (c *WSConn) Wait() {
	c.wg.Wait()
}

// Close signals the connection to stop. Safe to call multiple times from
// any goroutine.
func (c *WSConn) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *WSConn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("read error user=%s: %v", c.userID, err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("unmarshal error user=%s: %v", c.userID, err)
			continue
		}
		c.hub.HandleEvent(ctx, c, env)
	}
}

func (c *WSConn) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("close message user=%s: %v", c.userID, err)
			}
			return
		case env := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
