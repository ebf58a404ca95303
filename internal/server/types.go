// Package server defines shared types and utility helpers that are reused
// across client and registry logic.
package server

import (
	"context"
	"strings"

	"github.com/Tyrowin/gocollab/internal/access"
	"github.com/Tyrowin/gocollab/internal/activity"
	"github.com/Tyrowin/gocollab/internal/auth"
)

// AccessChecker decides whether an identity may join a resource's room.
// *access.Guard satisfies it.
type AccessChecker interface {
	Check(ctx context.Context, id auth.Identity, rt access.ResourceType, resourceID string) error
}

// ActivityRecorder accepts activity events without blocking.
// *activity.Queue satisfies it.
type ActivityRecorder interface {
	Enqueue(e activity.Event) bool
}

// Stats is a point-in-time view of the server's registries.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
