// Package checkpointtest holds the behavioural suite every CheckpointStore backend must pass.
package checkpointtest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) crawler.CheckpointStore

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("register is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v1", GroupID: "g1"}

		require.NoError(t, s.Register(ctx, key))
		claimed, err := s.Claim(ctx, key)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, s.Register(ctx, key))

		rec, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, crawler.StatusInProgress, rec.Status)
	})

	t.Run("get absent", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), crawler.UnitKey{VehicleID: "x", GroupID: "y"})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("claim absent unit", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v1", GroupID: "fresh"}

		claimed, err := s.Claim(ctx, key)
		require.NoError(t, err)
		require.True(t, claimed)

		claimed, err = s.Claim(ctx, key)
		require.NoError(t, err)
		require.False(t, claimed)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v1", GroupID: "race"}
		require.NoError(t, s.Register(ctx, key))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Claim(ctx, key)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})

	t.Run("complete is idempotent and records rows", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v1", GroupID: "g1"}
		require.NoError(t, s.Register(ctx, key))
		claimAndCheck(t, s, key)

		require.NoError(t, s.Complete(ctx, key, 37))
		require.NoError(t, s.Complete(ctx, key, 37))

		rec, _, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusDone, rec.Status)
		require.Equal(t, 37, rec.RowCount)
		require.Equal(t, 1, rec.AttemptCount)

		claimed, err := s.Claim(ctx, key)
		require.NoError(t, err)
		require.False(t, claimed)
	})

	t.Run("complete requires a claim", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v1", GroupID: "unclaimed"}
		require.NoError(t, s.Register(ctx, key))
		require.ErrorIs(t, s.Complete(ctx, key, 1), crawler.ErrInvalidTransition)
		require.ErrorIs(t, s.Fail(ctx, key, "boom"), crawler.ErrInvalidTransition)
	})

	t.Run("fail records error and attempts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v2", GroupID: "g2"}
		require.NoError(t, s.Register(ctx, key))

		claimAndCheck(t, s, key)
		require.NoError(t, s.Release(ctx, key, "pagination timeout"))
		claimAndCheck(t, s, key)
		require.NoError(t, s.Fail(ctx, key, "pagination exhausted at 10 rows, page reports 15"))

		rec, _, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusFailed, rec.Status)
		require.Equal(t, 2, rec.AttemptCount)
		require.Contains(t, rec.LastError, "exhausted")

		claimed, err := s.Claim(ctx, key)
		require.NoError(t, err)
		require.False(t, claimed)
	})

	t.Run("release then complete counts both attempts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := crawler.UnitKey{VehicleID: "v3", GroupID: "g3"}
		require.NoError(t, s.Register(ctx, key))

		claimAndCheck(t, s, key)
		require.NoError(t, s.Release(ctx, key, "reveal timeout"))
		rec, _, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusPending, rec.Status)

		claimAndCheck(t, s, key)
		require.NoError(t, s.Complete(ctx, key, 12))

		rec, _, err = s.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusDone, rec.Status)
		require.Equal(t, 2, rec.AttemptCount)
		require.Empty(t, rec.LastError)
	})

	t.Run("reset returns done and failed to pending", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		done := crawler.UnitKey{VehicleID: "v4", GroupID: "done"}
		failed := crawler.UnitKey{VehicleID: "v4", GroupID: "failed"}
		for _, key := range []crawler.UnitKey{done, failed} {
			require.NoError(t, s.Register(ctx, key))
			claimAndCheck(t, s, key)
		}
		require.NoError(t, s.Complete(ctx, done, 5))
		require.NoError(t, s.Fail(ctx, failed, "bad row"))

		for _, key := range []crawler.UnitKey{done, failed} {
			require.NoError(t, s.Reset(ctx, key))
			rec, _, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.Equal(t, crawler.StatusPending, rec.Status)
			require.Equal(t, 1, rec.AttemptCount)
			claimAndCheck(t, s, key)
		}
	})

	t.Run("recover in progress", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		stale := crawler.UnitKey{VehicleID: "v5", GroupID: "stale"}
		idle := crawler.UnitKey{VehicleID: "v5", GroupID: "idle"}
		require.NoError(t, s.Register(ctx, stale))
		require.NoError(t, s.Register(ctx, idle))
		claimAndCheck(t, s, stale)

		n, err := s.RecoverInProgress(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		rec, _, err := s.Get(ctx, stale)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusPending, rec.Status)
	})

	t.Run("list filters by status", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		a := crawler.UnitKey{VehicleID: "a", GroupID: "1"}
		b := crawler.UnitKey{VehicleID: "b", GroupID: "1"}
		require.NoError(t, s.Register(ctx, b))
		require.NoError(t, s.Register(ctx, a))
		claimAndCheck(t, s, a)
		require.NoError(t, s.Complete(ctx, a, 3))

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, a, all[0].Key)

		done, err := s.List(ctx, crawler.StatusDone)
		require.NoError(t, err)
		require.Len(t, done, 1)
		require.Equal(t, a, done[0].Key)
		require.False(t, done[0].UpdatedAt.IsZero())
	})
}

func claimAndCheck(t *testing.T, s crawler.CheckpointStore, key crawler.UnitKey) {
	t.Helper()
	claimed, err := s.Claim(context.Background(), key)
	require.NoError(t, err)
	require.True(t, claimed, "expected to claim %s", key)
}
