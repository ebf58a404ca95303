package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *memorySink) Record(ctx context.Context, e Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func sampleEvent(action string) Event {
	return Event{
		UserID:       "alice",
		Action:       action,
		ResourceType: "file",
		ResourceID:   "42",
		Details:      json.RawMessage(`{"activity":"edited"}`),
		OccurredAt:   time.Now().UTC(),
	}
}

func TestQueue_RecordsAndDrainsOnStop(t *testing.T) {
	sink := &memorySink{}
	q := NewQueue(sink, QueueConfig{Size: 16, Workers: 2, Timeout: time.Second})
	require.NoError(t, q.Start())
	assert.ErrorIs(t, q.Start(), ErrQueueRunning)

	for i := 0; i < 10; i++ {
		assert.True(t, q.Enqueue(sampleEvent("file_activity")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))

	assert.Equal(t, 10, sink.count())
	assert.Equal(t, uint64(10), q.Stats().Recorded)
	assert.False(t, q.Enqueue(sampleEvent("late")))
	require.NoError(t, q.Stop(ctx))
}

func TestQueue_DropsWhenFull(t *testing.T) {
	sink := &memorySink{}
	q := NewQueue(sink, QueueConfig{Size: 2, Workers: 1})

	assert.True(t, q.Enqueue(sampleEvent("a")))
	assert.True(t, q.Enqueue(sampleEvent("b")))

	start := time.Now()
	assert.False(t, q.Enqueue(sampleEvent("c")))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 2, stats.Pending)
}

func TestQueue_SinkFailuresAreCountedNotPropagated(t *testing.T) {
	sink := &memorySink{err: errors.New("database is down")}
	q := NewQueue(sink, QueueConfig{Size: 4, Workers: 1, Timeout: time.Second})
	require.NoError(t, q.Start())

	assert.True(t, q.Enqueue(sampleEvent("comment_activity")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	assert.Equal(t, uint64(1), q.Stats().Failed)
}

func TestQueue_SinkTimeout(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	q := NewQueue(sink, QueueConfig{Size: 4, Workers: 1, Timeout: 20 * time.Millisecond})
	require.NoError(t, q.Start())
	assert.True(t, q.Enqueue(sampleEvent("file_activity")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	assert.Equal(t, uint64(1), q.Stats().Failed)
	assert.Zero(t, sink.count())
}

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSink_Record(t *testing.T) {
	db := &fakeExecer{}
	sink := NewPostgresSink(db)
	e := sampleEvent("file_activity:edited")

	require.NoError(t, sink.Record(context.Background(), e))
	assert.Contains(t, db.sql, "INSERT INTO audit_logs")
	require.Len(t, db.args, 8)
	assert.Equal(t, "file_activity:edited", db.args[0])
	assert.Equal(t, "file", db.args[1])
	assert.Equal(t, "42", db.args[2])
	assert.Equal(t, "alice", db.args[3])
	assert.Equal(t, `{"activity":"edited"}`, db.args[6])

	db.err = errors.New("boom")
	assert.Error(t, sink.Record(context.Background(), e))
}

type fakeInserter struct {
	doc any
	err error
}

func (f *fakeInserter) InsertOne(_ context.Context, document any, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.doc = document
	return &mongo.InsertOneResult{}, f.err
}

func TestMongoSink_Record(t *testing.T) {
	coll := &fakeInserter{}
	sink := NewMongoSink(coll)

	require.NoError(t, sink.Record(context.Background(), sampleEvent("comment_activity:created")))

	doc, ok := coll.doc.(bson.M)
	require.True(t, ok)
	assert.Equal(t, "alice", doc["user_id"])
	assert.Equal(t, "comment_activity:created", doc["action"])
	assert.Equal(t, map[string]any{"activity": "edited"}, doc["details"])
	assert.NotContains(t, doc, "ip_address")
}

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, sink.Record(context.Background(), sampleEvent("file_activity:viewed")))
	assert.Contains(t, buf.String(), "action=file_activity:viewed")
	assert.Contains(t, buf.String(), "resource=file:42")
}
