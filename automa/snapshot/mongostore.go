package snapshot

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a durable Store backed by a MongoDB collection, one
// document per run ID.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a MongoStore writing to coll.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

type mongoSnapshotDoc struct {
	ID      string `bson:"_id"`
	Version string `bson:"version"`
	Bytes   []byte `bson:"bytes"`
}

// Dump implements Store via an upsert keyed by id.
func (m *MongoStore) Dump(ctx context.Context, id string, snap Snapshot) error {
	doc := mongoSnapshotDoc{ID: id, Version: snap.Version, Bytes: snap.Bytes}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return fmt.Errorf("snapshot: mongo dump %q: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (m *MongoStore) Load(ctx context.Context, id string) (Snapshot, error) {
	var doc mongoSnapshotDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: mongo load %q: %w", id, err)
	}
	return Snapshot{Version: doc.Version, Bytes: doc.Bytes}, nil
}

// Delete implements Store.
func (m *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("snapshot: mongo delete %q: %w", id, err)
	}
	return nil
}
