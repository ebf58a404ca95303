package server

import "errors"

var (
	// ErrRoomAccessDenied is returned by JoinRoom when the access guard says no
	// or could not answer.
	ErrRoomAccessDenied = errors.New("room access denied")
	// ErrMalformedMessage wraps every inbound decode or validation failure.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrNotInRoom is returned when a connection acts on a room it has not joined.
	ErrNotInRoom = errors.New("not a participant of room")
	// ErrConnectionClosed is returned when sending to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a connection's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)
