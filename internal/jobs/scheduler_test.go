package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/testutil"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLock(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "settlement-sweep", time.Minute)
	second := NewDistributedLock(client, "settlement-sweep", time.Minute)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Only the holder can release.
	require.NoError(t, second.Unlock(ctx))
	assert.True(t, mr.Exists(lockPrefix+"settlement-sweep"))

	require.NoError(t, first.Unlock(ctx))
	assert.False(t, mr.Exists(lockPrefix+"settlement-sweep"))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(lockPrefix+"settlement-sweep"))
}

func TestScheduler_RegisterJob(t *testing.T) {
	s := NewScheduler(nil, nil, testutil.NewTestLogger())
	noop := func(context.Context) (string, error) { return "", nil }

	require.NoError(t, s.RegisterJob(JobConfig{Name: "reconciliation", Schedule: "@every 15m", Run: noop}))
	assert.Error(t, s.RegisterJob(JobConfig{Name: "reconciliation", Schedule: "@every 1m", Run: noop}))
	assert.Error(t, s.RegisterJob(JobConfig{Name: "broken", Schedule: "every now and then", Run: noop}))

	// An empty schedule turns the job off.
	require.NoError(t, s.RegisterJob(JobConfig{Name: "off", Run: noop}))
	assert.Error(t, s.Trigger("off"))
	assert.Error(t, s.Trigger("missing"))
}

func TestScheduler_RunsOnlyWhileEnabledAndUnlocked(t *testing.T) {
	_, client := newTestRedis(t)
	var enabled atomic.Bool
	s := NewScheduler(client, enabled.Load, testutil.NewTestLogger())

	var runs atomic.Int32
	job := JobConfig{
		Name:     "risk-scoring",
		Schedule: "@every 1h",
		Timeout:  time.Minute,
		Run: func(context.Context) (string, error) {
			runs.Add(1)
			return "scored=0", nil
		},
	}
	require.NoError(t, s.RegisterJob(job))

	s.execute(s.jobs["risk-scoring"])
	assert.Equal(t, int32(0), runs.Load())

	enabled.Store(true)
	s.execute(s.jobs["risk-scoring"])
	assert.Equal(t, int32(1), runs.Load())

	// Another replica holds the lock.
	other := NewDistributedLock(client, "risk-scoring", time.Minute)
	ok, err := other.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Trigger("risk-scoring"))
	assert.Equal(t, int32(1), runs.Load())

	require.NoError(t, other.Unlock(context.Background()))
	require.NoError(t, s.Trigger("risk-scoring"))
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_JobErrorDoesNotPanic(t *testing.T) {
	s := NewScheduler(nil, nil, testutil.NewTestLogger())
	require.NoError(t, s.RegisterJob(JobConfig{
		Name:     "event-relay",
		Schedule: "@every 1m",
		Run:      func(context.Context) (string, error) { return "", assert.AnError },
	}))
	assert.NoError(t, s.Trigger("event-relay"))

	s.Start()
	s.Stop()
}
