// Package access answers whether a user may join the room bound to a
// resource. Every answer is fail-closed: a failed or slow upstream check is
// a denial.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/gocollab/internal/auth"
)

// ResourceType identifies the kind of resource a room is bound to.
type ResourceType string

// Supported resource types.
const (
	ResourceFile    ResourceType = "file"
	ResourceTeam    ResourceType = "team"
	ResourceProject ResourceType = "project"
)

var (
	// ErrDenied is returned when the store answered and the answer was no.
	ErrDenied = errors.New("access denied")
	// ErrUpstreamUnavailable is returned when the store could not answer in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnknownResourceType is returned for resource types outside file/team/project.
	ErrUnknownResourceType = errors.New("unknown resource type")
)

// ParseResourceType validates a resource type string.
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(strings.ToLower(strings.TrimSpace(s))); rt {
	case ResourceFile, ResourceTeam, ResourceProject:
		return rt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResourceType, s)
	}
}

// RoomKey returns the registry key of the room bound to the resource.
func RoomKey(rt ResourceType, resourceID string) string {
	return string(rt) + ":" + resourceID
}

// ParseRoomKey splits a room key into its resource type and id.
func ParseRoomKey(key string) (ResourceType, string, error) {
	typ, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: malformed room key %q", ErrUnknownResourceType, key)
	}
	rt, err := ParseResourceType(typ)
	if err != nil {
		return "", "", err
	}
	return rt, id, nil
}

// PermissionStore is the external data store boundary.
type PermissionStore interface {
	CanAccessFile(ctx context.Context, userID, fileID string) (bool, error)
	IsTeamMember(ctx context.Context, userID, teamID string) (bool, error)
	IsProjectMember(ctx context.Context, userID, projectID string) (bool, error)
}

// Guard applies the per-resource-type policy over a PermissionStore.
type Guard struct {
	store   PermissionStore
	timeout time.Duration
}

// NewGuard creates a Guard whose store calls are bounded by timeout.
func NewGuard(store PermissionStore, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Guard{store: store, timeout: timeout}
}

// Check returns nil when the identity may join the room bound to the resource.
// Any other result is a denial; ErrUpstreamUnavailable marks denials caused by
// store errors or timeouts.
func (g *Guard) Check(ctx context.Context, id auth.Identity, rt ResourceType, resourceID string) error {
	// Scopes carried by the credential already prove membership.
	switch rt {
	case ResourceTeam:
		if id.InTeam(resourceID) {
			return nil
		}
	case ResourceProject:
		if id.InProject(resourceID) {
			return nil
		}
	}

	if g.store == nil {
		return fmt.Errorf("%w: no permission store configured", ErrUpstreamUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		allowed bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		switch rt {
		case ResourceFile:
			r.allowed, r.err = g.store.CanAccessFile(ctx, id.UserID, resourceID)
		case ResourceTeam:
			r.allowed, r.err = g.store.IsTeamMember(ctx, id.UserID, resourceID)
		case ResourceProject:
			r.allowed, r.err = g.store.IsProjectMember(ctx, id.UserID, resourceID)
		default:
			r.err = fmt.Errorf("%w: %q", ErrUnknownResourceType, rt)
		}
		done <- r
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if errors.Is(r.err, ErrUnknownResourceType) {
		return r.err
	}
	if r.err != nil {
		slog.Warn("permission check failed", "user", id.UserID, "resource", RoomKey(rt, resourceID), "error", r.err)
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, r.err)
	}
	if !r.allowed {
		return ErrDenied
	}
	return nil
}
