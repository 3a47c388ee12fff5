package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

type fakeCollection struct {
	deleted   []interface{}
	inserted  []interface{}
	insertErr error
}

func (f *fakeCollection) DeleteMany(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.deleted = append(f.deleted, filter)
	return &mongo.DeleteResult{DeletedCount: int64(len(f.inserted))}, nil
}

func (f *fakeCollection) InsertMany(_ context.Context, docs []interface{}, _ ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = docs
	ids := make([]interface{}, len(docs))
	for i := range docs {
		ids[i] = i
	}
	return &mongo.InsertManyResult{InsertedIDs: ids}, nil
}

func TestReplaceUnit(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	store := &PartsStore{parts: coll}
	key := crawler.UnitKey{VehicleID: "v1", GroupID: "E-3"}
	records := []crawler.PartRecord{
		{VehicleID: "v1", GroupID: "E-3", ReferenceNumber: "1", PartNumber: "A"},
		{VehicleID: "v1", GroupID: "E-3", ReferenceNumber: "2", PartNumber: "B"},
	}

	require.NoError(t, store.ReplaceUnit(context.Background(), key, records))
	require.Len(t, coll.deleted, 1)
	require.Equal(t, bson.D{{Key: "vehicle_id", Value: "v1"}, {Key: "group_id", Value: "E-3"}}, coll.deleted[0])
	require.Len(t, coll.inserted, 2)
}

func TestReplaceUnitEmptyOnlyDeletes(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	store := &PartsStore{parts: coll}
	require.NoError(t, store.ReplaceUnit(context.Background(), crawler.UnitKey{VehicleID: "v", GroupID: "g"}, nil))
	require.Len(t, coll.deleted, 1)
	require.Nil(t, coll.inserted)
}

func TestReplaceUnitInsertError(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{insertErr: errors.New("E11000 duplicate key")}
	store := &PartsStore{parts: coll}
	key := crawler.UnitKey{VehicleID: "v", GroupID: "g"}
	err := store.ReplaceUnit(context.Background(), key, []crawler.PartRecord{{VehicleID: "v", GroupID: "g", ReferenceNumber: "1"}})
	require.ErrorContains(t, err, "duplicate key")
}

func TestPartRecordDocumentShape(t *testing.T) {
	t.Parallel()

	raw, err := bson.Marshal(crawler.PartRecord{
		VehicleID:       "v",
		GroupID:         "g",
		VehicleName:     "Pulsar 150",
		GroupDesc:       "CYLINDER HEAD",
		ReferenceNumber: "7",
		PartNumber:      "P7",
		SourceURL:       "https://catalogue.example.com/dealer/",
	})
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	require.Equal(t, "7", doc["reference_number"])
	require.Equal(t, "P7", doc["part_number"])
	require.Equal(t, "Pulsar 150", doc["vehicle_name"])
	require.Equal(t, "CYLINDER HEAD", doc["group_desc"])
	require.Equal(t, "https://catalogue.example.com/dealer/", doc["source_url"])
	require.NotContains(t, doc, "image_path")
	require.NotContains(t, doc, "parts_page_url")
}

func TestConnectValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.Error(t, err)
}
