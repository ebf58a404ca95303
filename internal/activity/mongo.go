package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Inserter is the subset of *mongo.Collection used by MongoSink.
type Inserter interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink appends events to a MongoDB collection.
type MongoSink struct {
	coll Inserter
}

// NewMongoSink creates a sink over coll.
func NewMongoSink(coll Inserter) *MongoSink {
	return &MongoSink{coll: coll}
}

// ConnectMongo connects to uri, pings the server, and ensures the activity
// collection indexes exist.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Collection, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10*time.Second).
		SetMaxPoolSize(20))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection("activity")
	_, err = coll.Indexes().CreateMany(pingCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_type", Value: 1}, {Key: "resource_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		slog.Warn("failed to create activity indexes", "error", err)
	}

	slog.Info("connected to mongodb", "database", database)
	return client, coll, nil
}

// Record implements Sink.
func (s *MongoSink) Record(ctx context.Context, e Event) error {
	doc := bson.M{
		"user_id":       e.UserID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"created_at":    e.OccurredAt,
	}
	if e.IPAddress != "" {
		doc["ip_address"] = e.IPAddress
	}
	if e.UserAgent != "" {
		doc["user_agent"] = e.UserAgent
	}
	if len(e.Details) > 0 {
		var details any
		if err := json.Unmarshal(e.Details, &details); err == nil {
			doc["details"] = details
		}
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}
