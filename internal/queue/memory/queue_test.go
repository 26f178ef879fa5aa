package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	job := audit.Job{RequestID: "req-1", Attempt: 1}
	require.NoError(t, q.Enqueue(context.Background(), job))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job, got)
}

func TestQueueOrdering(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), audit.Job{RequestID: id}))
	}
	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, job.RequestID)
	}
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), audit.Job{RequestID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, audit.Job{RequestID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
