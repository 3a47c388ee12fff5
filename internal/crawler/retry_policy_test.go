package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Decide(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts:         3,
		UnitTimeoutAttempts: 2,
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            time.Second,
	}

	cases := []struct {
		name    string
		kind    ErrorKind
		attempt int
		retry   bool
		delay   time.Duration
	}{
		{name: "transient first attempt", kind: KindTransient, attempt: 1, retry: true, delay: 200 * time.Millisecond},
		{name: "transient second attempt", kind: KindTransient, attempt: 2, retry: true, delay: 400 * time.Millisecond},
		{name: "transient at ceiling", kind: KindTransient, attempt: 3, retry: false},
		{name: "unit timeout requeued once", kind: KindUnitTimeout, attempt: 1, retry: true, delay: 200 * time.Millisecond},
		{name: "unit timeout second time", kind: KindUnitTimeout, attempt: 2, retry: false},
		{name: "fatal", kind: KindFatal, attempt: 1, retry: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(tc.kind, tc.attempt)
			require.Equal(t, tc.retry, d.Retry())
			require.Equal(t, tc.delay, d.Delay)
		})
	}
}

func TestRetryPolicy_BackoffCapped(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 5*time.Second, p.Backoff(10))
	require.Equal(t, time.Second, p.Backoff(-1))
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 2, p.UnitTimeoutAttempts)
	require.False(t, p.Decide(KindTransient, 3).Retry())
}
