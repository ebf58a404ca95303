package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/Tyrowin/gocollab/internal/access"
	"github.com/Tyrowin/gocollab/internal/activity"
)

// OnMessage decodes one inbound frame and dispatches it. Malformed or
// unknown messages are answered with an error message and otherwise ignored.
func (s *Server) OnMessage(c *Client, raw []byte) {
	msg, err := DecodeInbound(raw)
	if err != nil {
		slog.Debug("rejected inbound message", "conn", c.ID(), "user", c.UserID(), "error", err)
		s.reply(c, Outbound{Type: TypeError, Payload: ErrorPayload{Message: err.Error()}})
		return
	}

	switch m := msg.(type) {
	case *JoinRoom:
		rt, id := m.Target()
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		if err := s.JoinRoom(ctx, c, rt, id); err != nil {
			slog.Info("join refused", "conn", c.ID(), "user", c.UserID(), "room", access.RoomKey(rt, id), "error", err)
		}

	case *LeaveRoom:
		if err := s.LeaveRoom(c, m.Key()); err != nil {
			s.reply(c, roomError(m.Key(), err.Error()))
		}

	case *FileActivity:
		now := s.now()
		if s.relay(c, m, TypeFileActivity, FileActivityPayload{
			FileID:    m.FileID,
			Activity:  m.Activity,
			Metadata:  m.Metadata,
			UserID:    c.UserID(),
			Timestamp: now,
		}) {
			s.record(c, activity.Event{
				Action:       TypeFileActivity + ":" + m.Activity,
				ResourceType: string(access.ResourceFile),
				ResourceID:   string(m.FileID),
				Details:      m.Metadata,
				OccurredAt:   now,
			})
		}

	case *CollaborationCursor:
		s.relay(c, m, TypeCollaborationCursor, CursorPayload{
			FileID:    m.FileID,
			Position:  m.Position,
			UserID:    c.UserID(),
			Timestamp: s.now(),
		})

	case *CollaborationSelection:
		s.relay(c, m, TypeCollaborationSelection, SelectionPayload{
			FileID:    m.FileID,
			Selection: m.Selection,
			UserID:    c.UserID(),
			Timestamp: s.now(),
		})

	case *TypingIndicator:
		s.relay(c, m, TypeTypingIndicator, TypingPayload{
			FileID:    m.FileID,
			IsTyping:  *m.IsTyping,
			UserID:    c.UserID(),
			Timestamp: s.now(),
		})

	case *CommentActivity:
		now := s.now()
		if s.relay(c, m, TypeCommentActivity, CommentActivityPayload{
			FileID:    m.FileID,
			CommentID: m.CommentID,
			Activity:  m.Activity,
			UserID:    c.UserID(),
			Timestamp: now,
		}) {
			details, _ := json.Marshal(map[string]ResourceID{"fileId": m.FileID})
			s.record(c, activity.Event{
				Action:       TypeCommentActivity + ":" + m.Activity,
				ResourceType: "comment",
				ResourceID:   string(m.CommentID),
				Details:      details,
				OccurredAt:   now,
			})
		}

	case *Ping:
		s.reply(c, Outbound{Type: TypePong, Payload: PongPayload{Timestamp: s.now()}})
	}
}

// JoinRoom adds c to the room bound to a resource once the access guard
// allows it. The joiner gets room_joined and the other participants get
// user_joined_room. A denial replies room_error and changes nothing.
// Joining a room c is already in just repeats room_joined.
func (s *Server) JoinRoom(ctx context.Context, c *Client, rt access.ResourceType, resourceID string) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	key := access.RoomKey(rt, resourceID)

	if s.rooms.isParticipant(key, c) {
		s.replyJoined(c, key)
		return nil
	}

	if err := s.checkAccess(ctx, c, rt, resourceID); err != nil {
		s.reply(c, roomError(key, "access denied"))
		return fmt.Errorf("%w: %s: %w", ErrRoomAccessDenied, key, err)
	}

	res := s.rooms.join(c, rt, resourceID)
	if !c.addRoom(key) {
		// Disconnected while the join was in flight.
		s.rooms.leave(c, key)
		return ErrConnectionClosed
	}

	s.reply(c, Outbound{Type: TypeRoomJoined, Payload: RoomJoinedPayload{
		Room:             key,
		Participants:     res.participants,
		ParticipantCount: res.count,
		Timestamp:        s.now(),
	}})
	if res.alreadyIn {
		return nil
	}

	slog.Debug("joined room", "conn", c.ID(), "user", c.UserID(), "room", key, "participants", res.count)
	s.ToRoom(key, Outbound{Type: TypeUserJoinedRoom, Payload: RoomMembershipPayload{
		UserID:           c.UserID(),
		Room:             key,
		ParticipantCount: res.count,
		Timestamp:        s.now(),
	}}, c)
	return nil
}

// LeaveRoom removes c from a room and tells the remaining participants.
func (s *Server) LeaveRoom(c *Client, key string) error {
	if !s.leaveRoom(c, key) {
		return fmt.Errorf("%w %s", ErrNotInRoom, key)
	}
	return nil
}

func (s *Server) leaveRoom(c *Client, key string) bool {
	remaining, ok := s.rooms.leave(c, key)
	c.removeRoom(key)
	if !ok {
		return false
	}

	slog.Debug("left room", "conn", c.ID(), "user", c.UserID(), "room", key, "participants", remaining)
	if remaining > 0 {
		s.ToRoom(key, Outbound{Type: TypeUserLeftRoom, Payload: RoomMembershipPayload{
			UserID:           c.UserID(),
			Room:             key,
			ParticipantCount: remaining,
			Timestamp:        s.now(),
		}}, c)
	}
	return true
}

func (s *Server) checkAccess(ctx context.Context, c *Client, rt access.ResourceType, resourceID string) error {
	if s.guard == nil {
		return access.ErrUpstreamUnavailable
	}
	return s.guard.Check(ctx, c.identity, rt, resourceID)
}

func (s *Server) replyJoined(c *Client, key string) {
	participants := s.rooms.userIDs(key)
	s.reply(c, Outbound{Type: TypeRoomJoined, Payload: RoomJoinedPayload{
		Room:             key,
		Participants:     participants,
		ParticipantCount: len(s.rooms.participants(key)),
		Timestamp:        s.now(),
	}})
}

// relay forwards a file-scoped message to the other participants of
// file:<fileId>. Senders outside the room get room_error instead.
func (s *Server) relay(c *Client, msg fileScoped, typ string, payload any) bool {
	key := access.RoomKey(access.ResourceFile, string(msg.File()))
	if !s.rooms.isParticipant(key, c) {
		s.reply(c, roomError(key, fmt.Sprintf("%s %s", ErrNotInRoom, key)))
		return false
	}
	s.ToRoom(key, Outbound{Type: typ, Payload: payload}, c)
	return true
}

// record hands an activity event to the recorder without blocking.
func (s *Server) record(c *Client, e activity.Event) {
	if s.activity == nil {
		return
	}
	e.UserID = c.UserID()
	e.IPAddress = c.addr
	if host, _, err := net.SplitHostPort(c.addr); err == nil {
		e.IPAddress = host
	}
	e.UserAgent = c.userAgent
	s.activity.Enqueue(e)
}

func roomError(key, message string) Outbound {
	return Outbound{Type: TypeRoomError, Payload: RoomErrorPayload{Room: key, Message: message}}
}
