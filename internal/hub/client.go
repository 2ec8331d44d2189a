// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package hub

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // inbound frames are small; 64 KB is generous
)

// clientIDCounter gives every socket a monotonically increasing id so
// fan-out order is stable within a process run.
var clientIDCounter atomic.Uint64

// InboundHandler processes one raw client frame. It runs on the
// client's read goroutine; anything slow belongs behind the write-behind
// queue, not here.
type InboundHandler func(c *Client, data []byte)

// Client binds one websocket to its resolved principal. Role and event
// are fixed for the socket's lifetime; permissions are rechecked
// per-message by the handler, the binding itself never changes.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	Role    envelope.Role
	EventID int64
	UserID  int64

	handler    InboundHandler
	onShutdown func(c *Client)
}

// NewClient wraps an upgraded connection.
func NewClient(h *Hub, conn *websocket.Conn, role envelope.Role, eventID, userID int64) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		Role:    role,
		EventID: eventID,
		UserID:  userID,
	}
}

// ID returns the client's registration id.
func (c *Client) ID() uint64 {
	return c.id
}

// Send queues one serialized envelope directly to this socket, for
// sender-only frames like validation errors and the poll bootstrap.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// CloseWithCode sends a close control frame and tears the connection
// down. The read pump observes the closed connection and unregisters
// the client through the normal shutdown path.
func (c *Client) CloseWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// Start registers the client and begins its pumps. handler receives
// every inbound frame; onShutdown runs once when the read side ends.
func (c *Client) Start(handler InboundHandler, onShutdown func(c *Client)) {
	c.handler = handler
	c.onShutdown = onShutdown
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		if c.onShutdown != nil {
			c.onShutdown(c)
		}
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		if c.handler != nil {
			c.handler(c, data)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
