// Package activity records durable "who did what to which resource when"
// events. Recording is fire-and-forget from the broadcast path's point of
// view: events are queued and written by background workers.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event is one activity record.
type Event struct {
	UserID       string          `json:"userId" bson:"user_id"`
	Action       string          `json:"action" bson:"action"`
	ResourceType string          `json:"resourceType" bson:"resource_type"`
	ResourceID   string          `json:"resourceId" bson:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" bson:"-"`
	IPAddress    string          `json:"ipAddress,omitempty" bson:"ip_address,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt" bson:"created_at"`
}

// Sink persists activity events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log only. It is the default when no
// durable backend is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Record implements Sink.
func (s LogSink) Record(_ context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("activity",
		"user", e.UserID,
		"action", e.Action,
		"resource", e.ResourceType+":"+e.ResourceID,
		"at", e.OccurredAt.Format(time.RFC3339Nano),
	)
	return nil
}
