package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocollab/internal/auth"
)

type stubStore struct {
	files    map[string]bool
	teams    map[string]bool
	projects map[string]bool
	err      error
	delay    time.Duration
	calls    int
}

func (s *stubStore) answer(ctx context.Context, m map[string]bool, key string) (bool, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if s.err != nil {
		return false, s.err
	}
	return m[key], nil
}

func (s *stubStore) CanAccessFile(ctx context.Context, userID, fileID string) (bool, error) {
	return s.answer(ctx, s.files, userID+"/"+fileID)
}

func (s *stubStore) IsTeamMember(ctx context.Context, userID, teamID string) (bool, error) {
	return s.answer(ctx, s.teams, userID+"/"+teamID)
}

func (s *stubStore) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	return s.answer(ctx, s.projects, userID+"/"+projectID)
}

func TestGuard_Check(t *testing.T) {
	store := &stubStore{
		files:    map[string]bool{"alice/42": true},
		teams:    map[string]bool{"alice/t-store": true},
		projects: map[string]bool{"alice/p-store": true},
	}
	guard := NewGuard(store, time.Second)
	alice := auth.Identity{UserID: "alice", Teams: []string{"t-claim"}, Projects: []string{"p-claim"}}

	tests := []struct {
		name string
		rt   ResourceType
		id   string
		want error
	}{
		{"file allowed", ResourceFile, "42", nil},
		{"file denied", ResourceFile, "99", ErrDenied},
		{"team from claims", ResourceTeam, "t-claim", nil},
		{"team from store", ResourceTeam, "t-store", nil},
		{"team denied", ResourceTeam, "t-other", ErrDenied},
		{"project from claims", ResourceProject, "p-claim", nil},
		{"project from store", ResourceProject, "p-store", nil},
		{"project denied", ResourceProject, "p-other", ErrDenied},
		{"unknown type", ResourceType("folder"), "1", ErrUnknownResourceType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(context.Background(), alice, tt.rt, tt.id)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGuard_ClaimScopesSkipStore(t *testing.T) {
	store := &stubStore{}
	guard := NewGuard(store, time.Second)

	err := guard.Check(context.Background(), auth.Identity{UserID: "u", Teams: []string{"t1"}}, ResourceTeam, "t1")
	require.NoError(t, err)
	assert.Zero(t, store.calls)
}

func TestGuard_FailsClosed(t *testing.T) {
	user := auth.Identity{UserID: "alice"}

	t.Run("store error", func(t *testing.T) {
		guard := NewGuard(&stubStore{err: errors.New("connection refused")}, time.Second)
		err := guard.Check(context.Background(), user, ResourceFile, "42")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		store := &stubStore{files: map[string]bool{"alice/42": true}, delay: time.Second}
		guard := NewGuard(store, 20*time.Millisecond)

		start := time.Now()
		err := guard.Check(context.Background(), user, ResourceFile, "42")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("no store", func(t *testing.T) {
		guard := NewGuard(nil, time.Second)
		err := guard.Check(context.Background(), user, ResourceFile, "42")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestRoomKeys(t *testing.T) {
	assert.Equal(t, "file:42", RoomKey(ResourceFile, "42"))

	rt, id, err := ParseRoomKey("project:abc:def")
	require.NoError(t, err)
	assert.Equal(t, ResourceProject, rt)
	assert.Equal(t, "abc:def", id)

	_, _, err = ParseRoomKey("file:")
	assert.Error(t, err)
	_, _, err = ParseRoomKey("folder:1")
	assert.ErrorIs(t, err, ErrUnknownResourceType)

	rt, err = ParseResourceType(" Team ")
	require.NoError(t, err)
	assert.Equal(t, ResourceTeam, rt)
}
