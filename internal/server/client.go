// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gocollab/internal/auth"
	"github.com/Tyrowin/gocollab/internal/config"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

type clientState int

const (
	stateConnecting clientState = iota
	stateAuthenticated
	stateClosed
)

// Client represents one authenticated WebSocket connection. Its identity is
// fixed at construction and never taken from message payloads.
type Client struct {
	id        string
	identity  auth.Identity
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	server    *Server
	addr      string
	userAgent string

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig

	mu    sync.Mutex
	state clientState
	rooms map[string]struct{}
}

// NewClient creates a Client for an authenticated identity. conn may be nil
// for connections that are driven directly through the Server API.
func NewClient(conn *websocket.Conn, srv *Server, identity auth.Identity, addr string) *Client {
	cfg := srv.config
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		identity:       identity,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		server:         srv,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		state:          stateConnecting,
		rooms:          make(map[string]struct{}),
	}
}

// ID returns the connection's unique handle.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.identity.UserID }

// Identity returns the authenticated identity.
func (c *Client) Identity() auth.Identity { return c.identity }

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Done is closed once the connection has been disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Rooms returns the sorted keys of the rooms this connection has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Send queues data for delivery without blocking. It fails with
// ErrConnectionClosed after disconnect and ErrSendBufferFull when the
// queue is full.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) authenticate() {
	c.mu.Lock()
	if c.state == stateConnecting {
		c.state = stateAuthenticated
	}
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// addRoom records membership. It fails once the client is closed so that a
// join racing a disconnect can be undone.
func (c *Client) addRoom(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	c.rooms[key] = struct{}{}
	return true
}

func (c *Client) removeRoom(key string) {
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
}

// markClosed moves the client to the closed state exactly once and hands
// back the rooms it was in.
func (c *Client) markClosed() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil, false
	}
	c.state = stateClosed
	keys := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	c.rooms = make(map[string]struct{})
	return keys, true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError logs a read failure at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("message exceeded maximum size", "addr", c.addr, "user", c.UserID(), "limit", c.maxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		slog.Debug("client disconnected", "addr", c.addr, "user", c.UserID(), "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		slog.Debug("client connection closed", "addr", c.addr, "user", c.UserID(), "reason", err)
	default:
		slog.Warn("websocket read error", "addr", c.addr, "user", c.UserID(), "error", err)
	}
}

// checkRateLimit reports whether the next inbound message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		slog.Warn("rate limit exceeded, discarding message", "addr", c.addr, "user", c.UserID(),
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.server.Disconnect(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing connection in readPump", "addr", c.addr, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.server.OnMessage(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing connection in writePump", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// write sends a single frame and returns false if the pump should stop.
// Each outbound message is its own frame.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("websocket write error", "addr", c.addr, "user", c.UserID(), "error", err)
		}
		return false
	}
	return true
}
