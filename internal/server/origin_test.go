package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{" HTTP://Example.com ", "not-a-url", "https://app.example.com:8443", ""})

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://example.com", true},
		{"http://EXAMPLE.com", true},
		{"https://example.com", false},
		{"https://app.example.com:8443", true},
		{"https://app.example.com", false},
		{"not-a-url", false},
		{"http://", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.check(r))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, policy.check(r))

	r.Header.Del("Origin")
	assert.False(t, policy.check(r))
}

func TestRateLimiterBurstThenRefuse(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "message %d", i)
	}
	assert.False(t, rl.allow())
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", tokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", tokenFromRequest(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, tokenFromRequest(r))
}
