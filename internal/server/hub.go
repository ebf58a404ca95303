// Package server coordinates connection enrollment, disconnect cleanup, and
// shutdown for the collaboration server.
package server

import (
	"context"
	"log/slog"
	"time"
)

// Enroll registers an authenticated connection. The user's first live
// connection announces them online to other users.
func (s *Server) Enroll(c *Client) {
	c.authenticate()

	mu := s.conns.presenceLock(c.UserID())
	mu.Lock()
	first := s.conns.add(c)
	if first {
		s.broadcastPresence(c, StatusOnline)
	}
	mu.Unlock()

	slog.Info("client enrolled", "conn", c.ID(), "user", c.UserID(), "addr", c.addr, "first", first)
}

// Disconnect tears a connection down. It leaves every room the connection
// joined, unregisters it, announces the user offline if this was their last
// connection, and cancels pending sends. Calling it twice is a no-op.
func (s *Server) Disconnect(c *Client) {
	rooms, ok := c.markClosed()
	if !ok {
		return
	}

	for _, key := range rooms {
		s.leaveRoom(c, key)
	}

	mu := s.conns.presenceLock(c.UserID())
	mu.Lock()
	last := s.conns.remove(c)
	close(c.done)
	if last {
		s.broadcastPresence(c, StatusOffline)
	}
	mu.Unlock()

	slog.Info("client disconnected", "conn", c.ID(), "user", c.UserID(), "rooms", len(rooms), "last", last)
}

// admit enrolls c and starts its pumps unless shutdown has begun. A
// connection admitted here is always seen by Shutdown.
func (s *Server) admit(c *Client) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.Enroll(c)
	s.start(c)
	return true
}

// start launches the connection's pumps and tracks them for Shutdown.
func (s *Server) start(c *Client) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

// shutdownClients closes every live connection. Pumped connections clean up
// through their read pump; the rest are disconnected directly.
func (s *Server) shutdownClients() {
	clients := s.conns.all()
	for _, c := range clients {
		if c.conn == nil {
			s.Disconnect(c)
			continue
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing client connection", "addr", c.addr, "error", err)
		}
	}
	slog.Info("closed client connections", "count", len(clients))
}

// Shutdown closes all connections and waits for their goroutines to finish,
// or until the timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	slog.Info("initiating collaboration server shutdown")
	s.lifecycle.Lock()
	s.cancel()
	s.lifecycle.Unlock()
	s.shutdownClients()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("collaboration server shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("shutdown timeout reached, some connections may still be running")
		return context.DeadlineExceeded
	}
}
