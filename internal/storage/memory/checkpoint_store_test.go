package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/storage/checkpointtest"
)

func TestCheckpointStoreContract(t *testing.T) {
	t.Parallel()

	checkpointtest.Run(t, func(*testing.T) crawler.CheckpointStore {
		return NewCheckpointStore(nil)
	})
}

func TestCheckpointStoreUpdatesTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(clk)
	key := crawler.UnitKey{VehicleID: "v", GroupID: "g"}

	require.NoError(t, s.Register(ctx, key))
	clk.Advance(time.Minute)
	_, err := s.Claim(ctx, key)
	require.NoError(t, err)

	rec, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, clk.Now(), rec.UpdatedAt)
}
