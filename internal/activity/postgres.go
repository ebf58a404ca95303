package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const insertAuditLogSQL = `
INSERT INTO audit_logs (action, resource_type, resource_id, user_id, ip_address, user_agent, details, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`

// Execer is the subset of *pgxpool.Pool used by PostgresSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends events to the audit_logs table.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink creates a sink over db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, e Event) error {
	var details any
	if len(e.Details) > 0 {
		details = string(e.Details)
	}
	_, err := s.db.Exec(ctx, insertAuditLogSQL,
		e.Action, e.ResourceType, e.ResourceID, e.UserID, e.IPAddress, e.UserAgent, details, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
