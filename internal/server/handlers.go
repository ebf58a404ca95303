// Package server exposes HTTP handlers, including the authenticated WebSocket
// upgrade, health checks, and registry statistics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gocollab/internal/activity"
	"github.com/Tyrowin/gocollab/internal/auth"
	"github.com/Tyrowin/gocollab/internal/store"
)

// tokenFromRequest reads the bearer token from the token query parameter or
// the Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// WebSocketHandler authenticates the request, upgrades it to a WebSocket,
// enrolls the connection, and starts its read/write pumps. Requests without
// a valid token are rejected with 401 before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.authenticator == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	identity, err := s.authenticator.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			slog.Warn("authentication failed", "addr", r.RemoteAddr, "error", err)
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s, identity, r.RemoteAddr)
	client.userAgent = r.UserAgent()
	if !s.admit(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "gocollab server is running!")
}

type statsResponse struct {
	Stats
	Activity    *activity.QueueStats `json:"activity,omitempty"`
	AccessCache *store.CacheStats    `json:"accessCache,omitempty"`
}

// StatsHandler reports room, connection, and user counts as JSON, plus
// activity queue and access cache counters when those are configured.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statsResponse{Stats: s.Stats()}
	if q, ok := s.activity.(interface{ Stats() activity.QueueStats }); ok {
		qs := q.Stats()
		resp.Activity = &qs
	}
	if s.accessCache != nil {
		cs := s.accessCache.Stats()
		resp.AccessCache = &cs
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to write stats response", "error", err)
	}
}
