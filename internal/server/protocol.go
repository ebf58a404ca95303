package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/gocollab/internal/access"
)

// Wire message types.
const (
	TypeJoinRoom               = "join_room"
	TypeRoomJoined             = "room_joined"
	TypeRoomError              = "room_error"
	TypeUserJoinedRoom         = "user_joined_room"
	TypeUserLeftRoom           = "user_left_room"
	TypeLeaveRoom              = "leave_room"
	TypeFileActivity           = "file_activity"
	TypeCollaborationCursor    = "collaboration_cursor"
	TypeCollaborationSelection = "collaboration_selection"
	TypeTypingIndicator        = "typing_indicator"
	TypeCommentActivity        = "comment_activity"
	TypePresenceUpdate         = "presence_update"
	TypePing                   = "ping"
	TypePong                   = "pong"
	TypeError                  = "error"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ResourceID is a resource identifier that clients may send either as a JSON
// string or a JSON number. It is always echoed back as a string.
type ResourceID string

// UnmarshalJSON accepts "42" and 42 alike. Numbers must be integral and are
// stored in canonical decimal form, so 42.0 and 4.2e1 both become "42".
func (id *ResourceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ResourceID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("resource id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ResourceID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
		return fmt.Errorf("resource id %s is not an integer", n)
	}
	*id = ResourceID(strconv.FormatInt(int64(f), 10))
	return nil
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundMessage is one of the client-to-server message variants below.
type InboundMessage interface {
	MessageType() string
	validate() error
}

// fileScoped is implemented by messages that implicitly target file:<fileId>.
type fileScoped interface {
	InboundMessage
	File() ResourceID
}

// JoinRoom asks to join the room bound to a resource. Either the resource
// type and id or a "<type>:<id>" room key must be given.
type JoinRoom struct {
	Room         string     `json:"room"`
	ResourceType string     `json:"resourceType"`
	ResourceID   ResourceID `json:"resourceId"`

	resolvedType access.ResourceType
	resolvedID   string
}

// LeaveRoom asks to leave a room.
type LeaveRoom struct {
	Room string `json:"room"`

	key string
}

// FileActivity reports something the sender did to a file.
type FileActivity struct {
	FileID   ResourceID      `json:"fileId"`
	Activity string          `json:"activity"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// CollaborationCursor carries the sender's cursor position in a file.
type CollaborationCursor struct {
	FileID   ResourceID      `json:"fileId"`
	Position json.RawMessage `json:"position"`
}

// CollaborationSelection carries the sender's selection in a file.
type CollaborationSelection struct {
	FileID    ResourceID      `json:"fileId"`
	Selection json.RawMessage `json:"selection"`
}

// TypingIndicator reports whether the sender is typing in a file.
type TypingIndicator struct {
	FileID   ResourceID `json:"fileId"`
	IsTyping *bool      `json:"isTyping"`
}

// CommentActivity reports something the sender did to a comment on a file.
type CommentActivity struct {
	FileID    ResourceID `json:"fileId"`
	CommentID ResourceID `json:"commentId"`
	Activity  string     `json:"activity"`
}

// Ping is a keepalive answered with pong.
type Ping struct{}

func (*JoinRoom) MessageType() string               { return TypeJoinRoom }
func (*LeaveRoom) MessageType() string              { return TypeLeaveRoom }
func (*FileActivity) MessageType() string           { return TypeFileActivity }
func (*CollaborationCursor) MessageType() string    { return TypeCollaborationCursor }
func (*CollaborationSelection) MessageType() string { return TypeCollaborationSelection }
func (*TypingIndicator) MessageType() string        { return TypeTypingIndicator }
func (*CommentActivity) MessageType() string        { return TypeCommentActivity }
func (*Ping) MessageType() string                   { return TypePing }

func (m *FileActivity) File() ResourceID           { return m.FileID }
func (m *CollaborationCursor) File() ResourceID    { return m.FileID }
func (m *CollaborationSelection) File() ResourceID { return m.FileID }
func (m *TypingIndicator) File() ResourceID        { return m.FileID }
func (m *CommentActivity) File() ResourceID        { return m.FileID }

// Target returns the resource the join refers to. Valid only after decoding.
func (m *JoinRoom) Target() (access.ResourceType, string) {
	return m.resolvedType, m.resolvedID
}

func (m *JoinRoom) validate() error {
	var (
		rt  access.ResourceType
		id  = string(m.ResourceID)
		err error
	)
	if m.ResourceType != "" {
		if rt, err = access.ParseResourceType(m.ResourceType); err != nil {
			return err
		}
	}

	if m.Room != "" {
		keyType, keyID, err := access.ParseRoomKey(m.Room)
		if err != nil {
			return err
		}
		if (rt != "" && rt != keyType) || (id != "" && id != keyID) {
			return fmt.Errorf("room %q does not match %s:%s", m.Room, m.ResourceType, id)
		}
		rt, id = keyType, keyID
	}

	if rt == "" || id == "" {
		return errors.New("join_room requires resourceType and resourceId")
	}
	m.resolvedType, m.resolvedID = rt, id
	return nil
}

// Key returns the canonical key of the room to leave. Valid only after decoding.
func (m *LeaveRoom) Key() string {
	return m.key
}

func (m *LeaveRoom) validate() error {
	if m.Room == "" {
		return errors.New("leave_room requires room")
	}
	rt, id, err := access.ParseRoomKey(m.Room)
	if err != nil {
		return err
	}
	m.key = access.RoomKey(rt, id)
	return nil
}

func (m *FileActivity) validate() error {
	if m.FileID == "" {
		return errors.New("file_activity requires fileId")
	}
	if strings.TrimSpace(m.Activity) == "" {
		return errors.New("file_activity requires activity")
	}
	return nil
}

func (m *CollaborationCursor) validate() error {
	if m.FileID == "" {
		return errors.New("collaboration_cursor requires fileId")
	}
	var pos struct {
		Line   *json.Number `json:"line"`
		Column *json.Number `json:"column"`
	}
	if !isJSONObject(m.Position) || json.Unmarshal(m.Position, &pos) != nil || pos.Line == nil || pos.Column == nil {
		return errors.New("collaboration_cursor requires position{line,column}")
	}
	return nil
}

func (m *CollaborationSelection) validate() error {
	if m.FileID == "" {
		return errors.New("collaboration_selection requires fileId")
	}
	var sel struct {
		Start json.RawMessage `json:"start"`
		End   json.RawMessage `json:"end"`
	}
	if !isJSONObject(m.Selection) || json.Unmarshal(m.Selection, &sel) != nil || sel.Start == nil || sel.End == nil {
		return errors.New("collaboration_selection requires selection{start,end}")
	}
	return nil
}

func (m *TypingIndicator) validate() error {
	if m.FileID == "" {
		return errors.New("typing_indicator requires fileId")
	}
	if m.IsTyping == nil {
		return errors.New("typing_indicator requires isTyping")
	}
	return nil
}

func (m *CommentActivity) validate() error {
	if m.FileID == "" || m.CommentID == "" {
		return errors.New("comment_activity requires fileId and commentId")
	}
	if strings.TrimSpace(m.Activity) == "" {
		return errors.New("comment_activity requires activity")
	}
	return nil
}

func (*Ping) validate() error { return nil }

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// DecodeInbound parses a raw frame into its message variant. Every failure
// wraps ErrMalformedMessage.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg InboundMessage
	switch env.Type {
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeFileActivity:
		msg = &FileActivity{}
	case TypeCollaborationCursor:
		msg = &CollaborationCursor{}
	case TypeCollaborationSelection:
		msg = &CollaborationSelection{}
	case TypeTypingIndicator:
		msg = &TypingIndicator{}
	case TypeCommentActivity:
		msg = &CommentActivity{}
	case TypePing:
		msg = &Ping{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, env.Type)
	}

	if len(env.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, env.Type, err)
		}
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Outbound is a server-to-client message.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RoomJoinedPayload answers a successful join_room.
type RoomJoinedPayload struct {
	Room             string    `json:"room"`
	Participants     []string  `json:"participants"`
	ParticipantCount int       `json:"participantCount"`
	Timestamp        time.Time `json:"timestamp"`
}

// RoomErrorPayload reports a join/leave/participation failure to its sender.
type RoomErrorPayload struct {
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// RoomMembershipPayload is sent with user_joined_room and user_left_room.
type RoomMembershipPayload struct {
	UserID           string    `json:"userId"`
	Room             string    `json:"room"`
	ParticipantCount int       `json:"participantCount"`
	Timestamp        time.Time `json:"timestamp"`
}

// FileActivityPayload is the relayed form of FileActivity.
type FileActivityPayload struct {
	FileID    ResourceID      `json:"fileId"`
	Activity  string          `json:"activity"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

// CursorPayload is the relayed form of CollaborationCursor.
type CursorPayload struct {
	FileID    ResourceID      `json:"fileId"`
	Position  json.RawMessage `json:"position"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

// SelectionPayload is the relayed form of CollaborationSelection.
type SelectionPayload struct {
	FileID    ResourceID      `json:"fileId"`
	Selection json.RawMessage `json:"selection"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

// TypingPayload is the relayed form of TypingIndicator.
type TypingPayload struct {
	FileID    ResourceID `json:"fileId"`
	IsTyping  bool       `json:"isTyping"`
	UserID    string     `json:"userId"`
	Timestamp time.Time  `json:"timestamp"`
}

// CommentActivityPayload is the relayed form of CommentActivity.
type CommentActivityPayload struct {
	FileID    ResourceID `json:"fileId"`
	CommentID ResourceID `json:"commentId"`
	Activity  string     `json:"activity"`
	UserID    string     `json:"userId"`
	Timestamp time.Time  `json:"timestamp"`
}

// PresencePayload is sent with presence_update.
type PresencePayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PongPayload answers ping.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a malformed or unknown message to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

func encode(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return data, nil
}
