package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; section updates carry full
	// section text, so this is well above chat-sized frames
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection
	sendBufferSize = 256
)

var (
	ErrClientDisconnected = errors.New("client disconnected")
	ErrSendBufferFull     = errors.New("send buffer full")
)

// Client is one live transport session: the connection handle the registry
// tracks per identity. Intents read from the socket are handed to the hub;
// events enqueued by the broadcaster are flushed by the write pump.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	identity Identity
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closed     int32 // atomic flag, connection is going away
	sendClosed int32 // atomic flag, send channel is closed
}

func newClient(hub *Hub, conn *websocket.Conn, identity Identity) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:       uuid.New().String(),
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the connection ID, unique per physical socket.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the ID of the identity bound to the connection.
func (c *Client) UserID() string {
	return c.identity.ID
}

// Identity returns the identity bound to the connection.
func (c *Client) Identity() Identity {
	return c.identity
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client as closed and cancels its context.
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

// closeSend closes the send channel once.
func (c *Client) closeSend() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

// enqueue hands a marshalled frame to the write pump without blocking. A
// full buffer means the peer is not draining; the client is cut loose
// rather than stalling the caller.
func (c *Client) enqueue(data []byte) error {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		c.close()
		return ErrSendBufferFull
	}
}

// sendError delivers a diagnostic to this connection only.
func (c *Client) sendError(code, message string) {
	data, err := NewErrorEvent(code, message).Marshal()
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		slog.Debug("Failed to enqueue error event", "clientID", c.id, "userID", c.UserID(), "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending unregister request", "clientID", c.id, "userID", c.UserID())
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "userID", c.UserID(), "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "userID", c.UserID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "userID", c.UserID(), "error", err)
			}
			break
		}

		var intent Intent
		if err := json.Unmarshal(messageBytes, &intent); err != nil {
			slog.Debug("Failed to unmarshal intent", "clientID", c.id, "userID", c.UserID(), "error", err)
			c.sendError("INVALID_INTENT", "invalid intent format")
			continue
		}

		// Malformed intents stop here: diagnostic to the sender only,
		// nothing propagates to other room members.
		if err := intent.Validate(); err != nil {
			slog.Debug("Invalid intent", "clientID", c.id, "userID", c.UserID(), "error", err)
			c.sendError("INVALID_INTENT", err.Error())
			continue
		}

		select {
		case c.hub.intents <- clientIntent{client: c, intent: &intent}:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending intent to hub", "clientID", c.id, "userID", c.UserID())
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "userID", c.UserID(), "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "userID", c.UserID(), "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
