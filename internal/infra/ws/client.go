package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

// Client is one WebSocket connection for one authenticated user. A user
// may hold several at once (multiple tabs or devices).
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]bool

	// closed is touched only on the hub's run loop goroutine.
	closed bool
}

// NewClient wraps an upgraded connection and registers it with the hub.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	client := &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool),
	}
	hub.register <- client
	return client
}

// Serve runs the read and write pumps and returns when the connection
// drops. The caller's ctx bounds inbound handler calls.
func (c *Client) Serve(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if c.hub.logger != nil {
					c.hub.logger.Debug("ws read failed", "client_id", c.id, "error", err)
				}
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		switch in.Type {
		case "subscribe":
			if in.ConversationID != "" {
				c.hub.Subscribe(c, in.ConversationID)
			}
		case "unsubscribe":
			if in.ConversationID != "" {
				c.hub.Unsubscribe(c, in.ConversationID)
			}
		default:
			if c.hub.handler != nil {
				c.hub.handler.HandleInbound(ctx, c.userID, in)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a payload to the write pump. Slow consumers are dropped
// rather than allowed to stall the hub; the client reconciles over HTTP
// on reconnect.
func (c *Client) enqueue(payload []byte, logger *slog.Logger) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		if logger != nil {
			logger.Warn("ws send buffer full, dropping client", "client_id", c.id, "user_id", c.userID)
		}
		c.close()
	}
}

func (c *Client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
