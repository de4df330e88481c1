package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type countingJob struct {
	name     string
	schedule string
	runs     atomic.Int32
	err      error
	block    chan struct{}
	ran      chan struct{}
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Execute(ctx context.Context) error {
	j.runs.Add(1)
	if j.ran != nil {
		select {
		case j.ran <- struct{}{}:
		default:
		}
	}
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewScheduler(NewRedisLocker(nil), zap.NewNop(), time.Minute)
	job := &countingJob{name: "tick", schedule: "@every 1s", ran: make(chan struct{}, 1)}
	require.NoError(t, s.Register(job))

	s.Start()
	select {
	case <-job.ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.GreaterOrEqual(t, job.runs.Load(), int32(1))
}

func TestRegister(t *testing.T) {
	s := NewScheduler(NewRedisLocker(nil), zap.NewNop(), time.Minute)

	require.NoError(t, s.Register(&countingJob{name: "a", schedule: "@hourly"}))
	assert.Error(t, s.Register(&countingJob{name: "a"}), "names are unique")
	assert.Error(t, s.Register(&countingJob{name: "b", schedule: "every other tuesday"}))
	require.NoError(t, s.Register(&countingJob{name: "manual"}), "empty schedule is on-demand")

	_, err := s.RunByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb)

	release, ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(LockKey("sweep")))

	_, ok, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock is refused")

	release()
	assert.False(t, mr.Exists(LockKey("sweep")))

	release, ok, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("expired lock can be retaken and the old holder cannot drop it", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)

		again, ok, err := l.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		release()
		assert.True(t, mr.Exists(LockKey("sweep")))
		again()
		assert.False(t, mr.Exists(LockKey("sweep")))
	})
}

func TestRunSkipsWhenLockedElsewhere(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)

	first := NewScheduler(NewRedisLocker(rdb), zap.NewNop(), time.Minute)
	second := NewScheduler(NewRedisLocker(rdb), zap.NewNop(), time.Minute)

	job := &countingJob{name: "sweep", block: make(chan struct{}), ran: make(chan struct{}, 1)}
	done := make(chan error, 1)
	go func() {
		_, err := first.Run(ctx, job)
		done <- err
	}()
	<-job.ran

	ran, err := second.Run(ctx, job)
	require.NoError(t, err)
	assert.False(t, ran)

	close(job.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), job.runs.Load())

	ran, err = second.Run(ctx, job)
	require.NoError(t, err)
	assert.True(t, ran, "lock is released after the run")
}

func TestRunReportsJobErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewScheduler(NewRedisLocker(nil), zap.NewNop(), time.Minute)
	require.NoError(t, s.Register(&countingJob{name: "bad", err: boom}))

	ran, err := s.RunByName(context.Background(), "bad")
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}

type fakeUnlocker struct{ n int }

func (f *fakeUnlocker) UnlockDue(ctx context.Context) (int, error) { return f.n, nil }

func TestUnlockJob(t *testing.T) {
	job := NewUnlockJob(&fakeUnlocker{n: 4}, "@hourly", zap.NewNop())
	assert.Equal(t, UnlockJobName, job.Name())
	assert.Equal(t, "@hourly", job.Schedule())
	assert.NoError(t, job.Execute(context.Background()))
}
