package local_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/storage/local"
)

func unitRecords(key crawler.UnitKey, n int) []crawler.PartRecord {
	out := make([]crawler.PartRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, crawler.PartRecord{
			VehicleID:       key.VehicleID,
			GroupID:         key.GroupID,
			GroupType:       crawler.GroupTypeFrame,
			TableNo:         key.GroupID,
			ReferenceNumber: fmt.Sprint(i),
			PartNumber:      fmt.Sprintf("P-%03d", i),
			Description:     "BOLT, FLANGE \"M6\"",
			MRP:             "12.50",
			MOQ:             "1",
		})
	}
	return out
}

func TestCSVStoreReplaceUnit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "csv", "parts_master.csv")
	store, err := local.NewCSVStore(path)
	require.NoError(t, err)

	a := crawler.UnitKey{VehicleID: "v1", GroupID: "F-1"}
	b := crawler.UnitKey{VehicleID: "v1", GroupID: "F-2"}

	require.NoError(t, store.ReplaceUnit(ctx, a, unitRecords(a, 37)))
	require.NoError(t, store.ReplaceUnit(ctx, b, unitRecords(b, 5)))
	require.NoError(t, store.ReplaceUnit(ctx, a, unitRecords(a, 30)))

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 35)

	countA := 0
	for _, r := range all {
		if r.Key() == a {
			countA++
		}
	}
	require.Equal(t, 30, countA)
	require.Equal(t, "BOLT, FLANGE \"M6\"", all[0].Description)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "vehicle_id,vehicle_name,model_code,group_type,table_no,group_id,group_desc,reference_number"))
}

func TestCSVStoreKeepsDescriptiveColumns(t *testing.T) {
	t.Parallel()

	store, err := local.NewCSVStore(filepath.Join(t.TempDir(), "parts.csv"))
	require.NoError(t, err)

	key := crawler.UnitKey{VehicleID: "pulsar-150", GroupID: "E-12"}
	recs := unitRecords(key, 2)
	for i := range recs {
		recs[i].VehicleName = "Pulsar 150"
		recs[i].ModelCode = "P150"
		recs[i].GroupDesc = "CYLINDER HEAD"
		recs[i].PartsPageURL = "https://catalogue.example.com/bom?group=E-12"
		recs[i].SourceURL = "https://catalogue.example.com/dealer/"
	}
	require.NoError(t, store.ReplaceUnit(context.Background(), key, recs))

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Equal(t, recs, all)
}

func TestCSVStoreReadsFileWithoutDescriptiveColumns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parts.csv")
	legacy := "vehicle_id,group_type,table_no,group_id,reference_number,part_number,description,remark,req_no,moq,mrp,image_path\n" +
		"v1,FRAME,F-1,F-1,1,P-001,BOLT,,,1,12.50,\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	store, err := local.NewCSVStore(path)
	require.NoError(t, err)
	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "P-001", all[0].PartNumber)
	require.Empty(t, all[0].VehicleName)

	// Rewriting the file upgrades it to the full header.
	key := crawler.UnitKey{VehicleID: "v2", GroupID: "F-2"}
	require.NoError(t, store.ReplaceUnit(context.Background(), key, unitRecords(key, 1)))
	all, err = store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCSVStoreRejectsForeignRecords(t *testing.T) {
	t.Parallel()

	store, err := local.NewCSVStore(filepath.Join(t.TempDir(), "parts.csv"))
	require.NoError(t, err)

	key := crawler.UnitKey{VehicleID: "v1", GroupID: "F-1"}
	err = store.ReplaceUnit(context.Background(), key, unitRecords(crawler.UnitKey{VehicleID: "v2", GroupID: "F-1"}, 1))
	require.Error(t, err)
}

func TestCSVStoreConcurrentUnits(t *testing.T) {
	t.Parallel()

	store, err := local.NewCSVStore(filepath.Join(t.TempDir(), "parts.csv"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := crawler.UnitKey{VehicleID: "v", GroupID: fmt.Sprintf("E-%d", i)}
			require.NoError(t, store.ReplaceUnit(context.Background(), key, unitRecords(key, 4)))
		}()
	}
	wg.Wait()

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 32)
}
