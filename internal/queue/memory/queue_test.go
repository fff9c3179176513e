package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cakehq/cake/internal/crawl"
)

func task(id string) crawl.FetchTask {
	return crawl.FetchTask{Ref: crawl.NodeRef{Source: crawl.SourceJira, ID: id}}
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.Enqueue(ctx, task("b")))
	require.NoError(t, q.Enqueue(ctx, task("c")))

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.Ref.ID)
	}
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No consumer; a bounded queue would deadlock here.
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Enqueue(ctx, task(fmt.Sprintf("t%d", i))))
	}

	for i := 0; i < 1000; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("t%d", i), got.Ref.ID)
	}
}

func TestQueue_DequeueRespectsContext(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseStopsPumpWithBufferedTasks(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.Enqueue(ctx, task("b")))
	q.Close()

	// The pump must exit even though nothing drained the buffer; a stuck
	// pump keeps out open and this loop hits the context deadline.
	for i := 0; i < 3; i++ {
		if _, err := q.Dequeue(ctx); err != nil {
			require.ErrorIs(t, err, ErrClosed)
			return
		}
	}
	t.Fatal("queue did not shut down after Close")
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), task("a")), ErrClosed)
}

func TestQueue_CloseEmptyUnblocksWaiters(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by Close")
	}
}
