// Package server defines the Server type, which owns the connection and room
// registries and coordinates everything that happens on them.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gocollab/internal/auth"
	"github.com/Tyrowin/gocollab/internal/config"
	"github.com/Tyrowin/gocollab/internal/store"
)

// CacheReporter exposes access decision cache counters.
type CacheReporter interface {
	Stats() store.CacheStats
}

// Options carries the collaborators a Server depends on. Guard is required
// for joins to ever succeed; Activity and AccessCache may be nil.
type Options struct {
	Authenticator auth.Authenticator
	Guard         AccessChecker
	Activity      ActivityRecorder
	AccessCache   CacheReporter
}

// Server is the collaboration server. It owns the connection registry, the
// room registry, and the goroutines of every WebSocket connection.
type Server struct {
	config        config.Config
	authenticator auth.Authenticator
	guard         AccessChecker
	activity      ActivityRecorder
	accessCache   CacheReporter

	conns    *connRegistry
	rooms    *roomRegistry
	origins  *originPolicy
	upgrader websocket.Upgrader

	now func() time.Time
	wg  sync.WaitGroup

	// lifecycle orders admitting connections against the start of Shutdown.
	lifecycle sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer creates a Server from a configuration and its collaborators.
// The configuration is sanitized first.
func NewServer(cfg config.Config, opts Options) *Server {
	cfg = config.Sanitize(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:        cfg,
		authenticator: opts.Authenticator,
		guard:         opts.Guard,
		activity:      opts.Activity,
		accessCache:   opts.AccessCache,
		conns:         newConnRegistry(),
		rooms:         newRoomRegistry(),
		origins:       newOriginPolicy(cfg.AllowedOrigins),
		now:           func() time.Time { return time.Now().UTC() },
		ctx:           ctx,
		cancel:        cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Stats returns the current room, connection, and user counts.
func (s *Server) Stats() Stats {
	users, conns := s.conns.count()
	return Stats{
		Rooms:       s.rooms.count(),
		Connections: conns,
		Users:       users,
	}
}

// OnlineUsers returns the sorted ids of users with a live connection.
func (s *Server) OnlineUsers() []string {
	return s.conns.users()
}

// IsOnline reports whether userID has at least one live connection.
func (s *Server) IsOnline(userID string) bool {
	return s.conns.isOnline(userID)
}

// RoomKeys returns the sorted keys of every live room.
func (s *Server) RoomKeys() []string {
	return s.rooms.keys()
}

// RoomExists reports whether the room currently has participants.
func (s *Server) RoomExists(key string) bool {
	return s.rooms.exists(key)
}

// RoomParticipants returns the distinct sorted user ids in a room.
func (s *Server) RoomParticipants(key string) []string {
	return s.rooms.userIDs(key)
}
