package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus("DONE")
	require.NoError(t, err)
	require.Equal(t, StatusDone, s)

	_, err = ParseStatus("done")
	require.Error(t, err)
}

func TestNewWorkUnit(t *testing.T) {
	t.Parallel()

	hint := 92
	v := VehicleRef{VehicleID: "pulsar-150", VehicleName: "Pulsar 150", ModelCode: "PU150", SourceURL: "https://cat.example/"}
	g := GroupRef{GroupID: "E-12", GroupType: GroupTypeEngine, TableNo: "E-12", GroupDesc: "Cylinder head", ExpectedRowCount: &hint}

	u := NewWorkUnit(v, g)
	require.Equal(t, UnitKey{VehicleID: "pulsar-150", GroupID: "E-12"}, u.Key())
	require.Equal(t, "pulsar-150/E-12", u.Key().String())
	require.Equal(t, "PU150", u.ModelCode)
	require.Equal(t, 92, *u.ExpectedRowCount)
}

func TestQueueItemNextCountsUnitTimeouts(t *testing.T) {
	t.Parallel()

	item := QueueItem{Unit: WorkUnit{VehicleID: "v", GroupID: "g"}, Attempt: 1}

	next := item.Next(&TransientIOError{Op: "open page", Err: errors.New("target closed")})
	require.Equal(t, 2, next.Attempt)
	require.Equal(t, 0, next.Timeouts)

	next = next.Next(&UnitTimeoutError{Key: item.Unit.Key(), Err: context.DeadlineExceeded})
	require.Equal(t, 3, next.Attempt)
	require.Equal(t, 1, next.Timeouts)
	require.Equal(t, item.Unit, next.Unit)
}
