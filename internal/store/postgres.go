// Package store adapts the external file/team/project data store to the
// permission questions asked when a connection joins a room.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	canAccessFileSQL = `
SELECT EXISTS (
	SELECT 1 FROM files f
	WHERE f.id::text = $1 AND f.is_active AND (
		f.uploaded_by::text = $2
		OR EXISTS (
			SELECT 1 FROM file_permissions p
			WHERE p.file_id = f.id AND p.user_id::text = $2
			  AND (p.expires_at IS NULL OR p.expires_at > now())
		)
		OR EXISTS (
			SELECT 1 FROM project_members m
			WHERE m.project_id = f.project_id AND m.user_id::text = $2
		)
	)
)`

	isTeamMemberSQL = `
SELECT EXISTS (
	SELECT 1 FROM team_members WHERE team_id::text = $1 AND user_id::text = $2
)`

	isProjectMemberSQL = `
SELECT EXISTS (
	SELECT 1 FROM projects p
	WHERE p.id::text = $1 AND (
		p.created_by::text = $2
		OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id::text = $2)
	)
)`
)

// Querier is the subset of *pgxpool.Pool used by Postgres.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres answers permission questions from the relational store.
type Postgres struct {
	db Querier
}

// NewPostgres wraps an existing pool or any other Querier.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	slog.Info("connected to postgres")
	return pool, nil
}

// CanAccessFile reports whether the user owns the file, holds an unexpired
// explicit permission on it, or is a member of the file's project.
func (p *Postgres) CanAccessFile(ctx context.Context, userID, fileID string) (bool, error) {
	return p.exists(ctx, canAccessFileSQL, fileID, userID)
}

// IsTeamMember reports whether the user belongs to the team.
func (p *Postgres) IsTeamMember(ctx context.Context, userID, teamID string) (bool, error) {
	return p.exists(ctx, isTeamMemberSQL, teamID, userID)
}

// IsProjectMember reports whether the user created or belongs to the project.
func (p *Postgres) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	return p.exists(ctx, isProjectMemberSQL, projectID, userID)
}

func (p *Postgres) exists(ctx context.Context, sql, resourceID, userID string) (bool, error) {
	var ok bool
	if err := p.db.QueryRow(ctx, sql, resourceID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("permission query: %w", err)
	}
	return ok, nil
}
