// Package mongo stores part records in a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Config selects the deployment and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

type collection interface {
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// PartsStore replaces a unit's documents on every write. The unique index on
// (vehicle_id, group_id, reference_number) rejects duplicates server-side.
type PartsStore struct {
	client *mongo.Client
	parts  collection
}

// Connect dials the deployment, verifies it and ensures the unique index.
func Connect(ctx context.Context, cfg Config) (*PartsStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "parts"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "vehicle_id", Value: 1},
			{Key: "group_id", Value: 1},
			{Key: "reference_number", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("unit_reference_unique"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create parts index: %w", err)
	}
	return &PartsStore{client: client, parts: coll}, nil
}

// Close disconnects the client.
func (s *PartsStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// ReplaceUnit deletes the unit's documents then inserts records in order.
func (s *PartsStore) ReplaceUnit(ctx context.Context, key crawler.UnitKey, records []crawler.PartRecord) error {
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		if r.Key() != key {
			return fmt.Errorf("record %s does not belong to unit %s", r.Key(), key)
		}
		docs = append(docs, r)
	}
	filter := bson.D{
		{Key: "vehicle_id", Value: key.VehicleID},
		{Key: "group_id", Value: key.GroupID},
	}
	if _, err := s.parts.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete unit parts: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	res, err := s.parts.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("insert unit parts: %w", err)
	}
	if len(res.InsertedIDs) != len(docs) {
		return fmt.Errorf("inserted %d of %d parts", len(res.InsertedIDs), len(docs))
	}
	return nil
}
