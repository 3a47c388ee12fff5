package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// fakeTable serves counts[i] rows after i reveals, clamping at the last entry.
type fakeTable struct {
	mu         sync.Mutex
	counts     []int
	total      *int
	reveals    int
	blockFirst bool
	grow       bool
	revealErr  error
}

func (f *fakeTable) CurrentRows(context.Context) ([]crawler.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.current()
	rows := make([]crawler.RawRow, n)
	for i := range rows {
		rows[i] = crawler.RawRow{Cells: map[string]string{"Ref No.": fmt.Sprint(i + 1)}}
	}
	return rows, nil
}

func (f *fakeTable) current() int {
	if f.grow {
		return f.counts[0] + f.reveals
	}
	idx := f.reveals
	if idx >= len(f.counts) {
		idx = len(f.counts) - 1
	}
	return f.counts[idx]
}

func (f *fakeTable) ReportedTotal(context.Context) (int, bool, error) {
	if f.total == nil {
		return 0, false, nil
	}
	return *f.total, true, nil
}

func (f *fakeTable) RevealMore(ctx context.Context) error {
	f.mu.Lock()
	block := f.blockFirst
	f.blockFirst = false
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.revealErr != nil {
		return f.revealErr
	}
	f.mu.Lock()
	f.reveals++
	f.mu.Unlock()
	return nil
}

func intPtr(v int) *int { return &v }

func testController(t *testing.T) *Controller {
	t.Helper()
	return New(Config{
		RevealWait:             40 * time.Millisecond,
		PollInterval:           5 * time.Millisecond,
		StabilityQuorum:        2,
		StabilityQuorumNoTotal: 2,
		MaxReveals:             20,
	}, nil)
}

func TestExhaust_ReachesReportedTotal(t *testing.T) {
	t.Parallel()

	table := &fakeTable{counts: []int{25, 37}, total: intPtr(37)}
	snap, err := testController(t).Exhaust(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 37)
	require.Equal(t, 37, *snap.ReportedTotal)
	require.Equal(t, 3, snap.Reveals)
}

func TestExhaust_SpacesRevealsByMinInterval(t *testing.T) {
	t.Parallel()

	const interval = 30 * time.Millisecond
	c := New(Config{
		MinRevealInterval:      interval,
		RevealWait:             20 * time.Millisecond,
		PollInterval:           2 * time.Millisecond,
		StabilityQuorum:        2,
		StabilityQuorumNoTotal: 2,
		MaxReveals:             20,
	}, nil)
	table := &fakeTable{counts: []int{10, 20, 30, 40}, total: intPtr(40)}

	start := time.Now()
	snap, err := c.Exhaust(context.Background(), table)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 40)
	require.Equal(t, 5, snap.Reveals)
	require.GreaterOrEqual(t, elapsed, time.Duration(snap.Reveals-1)*interval)
}

func TestExhaust_StalledBelowTotal(t *testing.T) {
	t.Parallel()

	table := &fakeTable{counts: []int{10}, total: intPtr(15)}
	_, err := testController(t).Exhaust(context.Background(), table)

	var exhausted *crawler.PaginationExhaustionError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 10, exhausted.Loaded)
	require.Equal(t, 15, exhausted.Reported)
}

func TestExhaust_NoTotalUsesQuorum(t *testing.T) {
	t.Parallel()

	c := New(Config{
		RevealWait:             20 * time.Millisecond,
		PollInterval:           5 * time.Millisecond,
		StabilityQuorum:        2,
		StabilityQuorumNoTotal: 3,
		MaxReveals:             20,
	}, nil)
	table := &fakeTable{counts: []int{5, 8}}
	snap, err := c.Exhaust(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 8)
	require.Nil(t, snap.ReportedTotal)
	// one growing reveal plus three stable ones
	require.Equal(t, 4, snap.Reveals)
}

func TestExhaust_ShortTableWithoutGrowth(t *testing.T) {
	t.Parallel()

	table := &fakeTable{counts: []int{4}, total: intPtr(4)}
	snap, err := testController(t).Exhaust(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 4)
	require.Equal(t, 2, snap.Reveals)
}

func TestExhaust_RevealTimeout(t *testing.T) {
	t.Parallel()

	table := &fakeTable{counts: []int{25, 37}, total: intPtr(37), blockFirst: true}
	_, err := testController(t).Exhaust(context.Background(), table)

	var timeout *crawler.PaginationTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, crawler.KindTransient, crawler.Classify(err))
}

func TestExhaust_TerminatesWhenRowsNeverSettle(t *testing.T) {
	t.Parallel()

	c := New(Config{
		RevealWait:   20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		MaxReveals:   5,
	}, nil)
	table := &fakeTable{counts: []int{1}, grow: true}
	_, err := c.Exhaust(context.Background(), table)

	var timeout *crawler.PaginationTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, 5, timeout.Reveals)
}

func TestExhaust_RevealErrorIsTransient(t *testing.T) {
	t.Parallel()

	table := &fakeTable{counts: []int{3}, revealErr: errors.New("node is detached")}
	_, err := testController(t).Exhaust(context.Background(), table)

	var ioErr *crawler.TransientIOError
	require.ErrorAs(t, err, &ioErr)
}

func TestExhaust_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	table := &fakeTable{counts: []int{3}}
	_, err := testController(t).Exhaust(ctx, table)
	require.ErrorIs(t, err, context.Canceled)
}
