package redisqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
}

func TestQueue_EnqueueClaimDue(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, "poll", Job{Key: "1", Payload: json.RawMessage(`{"shipmentId":1}`)}, now.Add(-time.Second)))
	require.NoError(t, q.Enqueue(ctx, "poll", Job{Key: "2", Payload: json.RawMessage(`{"shipmentId":2}`)}, now.Add(time.Minute)))

	jobs, err := q.ClaimDue(ctx, "poll", now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "1", jobs[0].Key)
	require.JSONEq(t, `{"shipmentId":1}`, string(jobs[0].Payload))

	// повторный claim ничего не отдаёт
	jobs, err = q.ClaimDue(ctx, "poll", now, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)

	jobs, err = q.ClaimDue(ctx, "poll", now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "2", jobs[0].Key)

	n, err := q.Len(ctx, "poll")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueue_EnqueueReplacesSameKey(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, "poll", Job{Key: "7", Attempt: 2}, now.Add(time.Second)))
	require.NoError(t, q.Enqueue(ctx, "poll", Job{Key: "7"}, now.Add(30*time.Minute)))

	at, ok, err := q.Scheduled(ctx, "poll", "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now.Add(30*time.Minute), at)

	n, _ := q.Len(ctx, "poll")
	require.Equal(t, int64(1), n)

	jobs, err := q.ClaimDue(ctx, "poll", now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 0, jobs[0].Attempt)
}

func TestQueue_ClaimDueRespectsLimitAndOrder(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"c", "a", "b"} {
		require.NoError(t, q.Enqueue(ctx, "poll", Job{Key: key}, now.Add(-time.Duration(3-i)*time.Minute)))
	}

	jobs, err := q.ClaimDue(ctx, "poll", now, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "c", jobs[0].Key)
	require.Equal(t, "a", jobs[1].Key)

	_, ok, err := q.Scheduled(ctx, "poll", "b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQueue_EmptyKey(t *testing.T) {
	q := newQueue(t)
	require.Error(t, q.Enqueue(context.Background(), "poll", Job{}, time.Now()))
}
