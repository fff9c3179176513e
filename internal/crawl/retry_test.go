package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	transient := &FetchError{Kind: KindServerError}
	permanent := &FetchError{Kind: KindNotFound}

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(transient, 0))
	require.True(t, p.ShouldRetry(transient, 1))
	require.False(t, p.ShouldRetry(transient, 2), "attempt cap reached")
	require.False(t, p.ShouldRetry(permanent, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(errors.New("untagged"), 0))

	// A per-call deadline is transient like any other timeout.
	require.True(t, p.ShouldRetry(&FetchError{Kind: KindTimeout}, 0))
	require.True(t, p.ShouldRetry(ClassifyErr(context.DeadlineExceeded), 0))
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(10, 100*time.Millisecond, time.Second)

	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}

	// The deterministic half of the window doubles until the cap.
	require.GreaterOrEqual(t, p.Backoff(3), 400*time.Millisecond)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(0, 0, 0)
	require.False(t, p.ShouldRetry(&FetchError{Kind: KindTimeout}, 0), "single attempt means no retry")
}
