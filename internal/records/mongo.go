package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultDatabase is used when no database name is configured.
	DefaultDatabase = "dialogpipe"
	// DefaultTimeout bounds each Mongo operation.
	DefaultTimeout = 5 * time.Second
)

// MongoStore stores each record kind in its own collection.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	owned   bool
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps an existing client. dbName defaults to DefaultDatabase.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = DefaultDatabase
	}
	return &MongoStore{client: client, db: client.Database(dbName), timeout: DefaultTimeout}
}

// ConnectMongo dials uri, verifies the connection and returns a store that
// disconnects the client on Close.
func ConnectMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	s := NewMongoStore(client, dbName)
	s.owned = true
	slog.Debug("MongoStore connected", "db", s.db.Name())
	return s, nil
}

func (s *MongoStore) Save(ctx context.Context, kind string, fields Fields) (string, error) {
	if kind == "" {
		return "", ErrInvalidKind
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id := uuid.NewString()
	doc := bson.M{"_id": id}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		doc[k] = v
	}
	if _, err := s.db.Collection(kind).InsertOne(ctx, doc); err != nil {
		slog.Error("MongoStore.Save: insert failed", "kind", kind, "error", err)
		return "", fmt.Errorf("failed to save %s record: %w", kind, err)
	}
	return id, nil
}

func (s *MongoStore) FindOne(ctx context.Context, kind string, filter Fields) (*Record, error) {
	if kind == "" {
		return nil, ErrInvalidKind
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc bson.M
	err := s.db.Collection(kind).FindOne(ctx, bson.M(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoStore.FindOne: query failed", "kind", kind, "error", err)
		return nil, fmt.Errorf("failed to find %s record: %w", kind, err)
	}

	rec := &Record{Kind: kind, Fields: make(Fields, len(doc))}
	for k, v := range doc {
		if k == "_id" {
			rec.ID = documentID(v)
			continue
		}
		rec.Fields[k] = v
	}
	return rec, nil
}

// Close disconnects the client if this store created it.
func (s *MongoStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func documentID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}
