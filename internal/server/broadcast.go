package server

import (
	"errors"
	"log/slog"

	"github.com/Tyrowin/gocollab/internal/config"
)

// ToRoom delivers msg to every participant of the room except exclude and
// returns how many connections accepted it. A full or closed connection is
// skipped and logged; it never affects delivery to the others.
func (s *Server) ToRoom(key string, msg Outbound, exclude *Client) int {
	data, err := encode(msg)
	if err != nil {
		slog.Error("failed to encode room message", "room", key, "error", err)
		return 0
	}
	return s.deliver(s.rooms.participants(key), data, exclude)
}

// ToUser delivers msg to every live connection of userID and returns how
// many accepted it.
func (s *Server) ToUser(userID string, msg Outbound) int {
	data, err := encode(msg)
	if err != nil {
		slog.Error("failed to encode user message", "user", userID, "error", err)
		return 0
	}
	return s.deliver(s.conns.connectionsOf(userID), data, nil)
}

func (s *Server) deliver(targets []*Client, data []byte, exclude *Client) int {
	delivered := 0
	for _, c := range targets {
		if c == exclude {
			continue
		}
		if err := c.Send(data); err != nil {
			if errors.Is(err, ErrSendBufferFull) {
				slog.Warn("dropping message for slow connection", "conn", c.ID(), "user", c.UserID())
			}
			continue
		}
		delivered++
	}
	return delivered
}

// reply sends msg to a single connection.
func (s *Server) reply(c *Client, msg Outbound) {
	data, err := encode(msg)
	if err != nil {
		slog.Error("failed to encode reply", "type", msg.Type, "error", err)
		return
	}
	if err := c.Send(data); err != nil && !errors.Is(err, ErrConnectionClosed) {
		slog.Warn("failed to deliver reply", "conn", c.ID(), "type", msg.Type, "error", err)
	}
}

// broadcastPresence tells other users that subject's user went online or
// offline. With the shared presence scope only users sharing a team or
// project with the subject are told.
func (s *Server) broadcastPresence(subject *Client, status string) int {
	data, err := encode(Outbound{
		Type: TypePresenceUpdate,
		Payload: PresencePayload{
			UserID:    subject.UserID(),
			Status:    status,
			Timestamp: s.now(),
		},
	})
	if err != nil {
		slog.Error("failed to encode presence update", "error", err)
		return 0
	}

	shared := s.config.PresenceScope == config.PresenceShared
	targets := make([]*Client, 0)
	for _, c := range s.conns.all() {
		if c.UserID() == subject.UserID() {
			continue
		}
		if shared && !subject.identity.SharesScope(c.identity) {
			continue
		}
		targets = append(targets, c)
	}
	return s.deliver(targets, data, nil)
}
