// Package auth resolves the credential presented on a WebSocket handshake to
// a user identity and the teams and projects that identity may act within.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized is returned for any missing, malformed, or rejected credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExpiredToken is wrapped by ErrUnauthorized when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the authenticated principal behind a connection. It is set once
// at handshake time and never changes for the life of the connection.
type Identity struct {
	UserID   string
	Name     string
	Teams    []string
	Projects []string
}

// InTeam reports whether the identity carries the given team scope.
func (i Identity) InTeam(teamID string) bool {
	return slices.Contains(i.Teams, teamID)
}

// InProject reports whether the identity carries the given project scope.
func (i Identity) InProject(projectID string) bool {
	return slices.Contains(i.Projects, projectID)
}

// SharesScope reports whether both identities belong to at least one common
// team or project.
func (i Identity) SharesScope(other Identity) bool {
	for _, t := range i.Teams {
		if other.InTeam(t) {
			return true
		}
	}
	for _, p := range i.Projects {
		if other.InProject(p) {
			return true
		}
	}
	return false
}

// Authenticator validates a connection credential.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Claims is the JWT payload expected on connection tokens.
type Claims struct {
	Name     string   `json:"name,omitempty"`
	Teams    []string `json:"teams,omitempty"`
	Projects []string `json:"projects,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256-signed tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates an authenticator for the given signing secret.
// An empty issuer disables the issuer check.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Authenticate parses and verifies the token and returns the identity it names.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrExpiredToken)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}

	return Identity{
		UserID:   claims.Subject,
		Name:     claims.Name,
		Teams:    claims.Teams,
		Projects: claims.Projects,
	}, nil
}

// GenerateToken signs a token for the identity, valid for ttl.
func (a *JWTAuthenticator) GenerateToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:     id.Name,
		Teams:    id.Teams,
		Projects: id.Projects,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
