package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// farFuture never fires within a test run, so only the initial burst runs.
const farFuture = "0 0 0 1 1 * 2099"

var errFlaky = errors.New("flaky")

func newTestScheduler[T any](t *testing.T, reg *Registry[T], jobs ...Job) *Scheduler[T] {
	t.Helper()

	tasks, err := BuildTasks(jobs, reg)
	require.NoError(t, err)

	return New(tasks,
		WithLogger(zerolog.Nop()),
		WithBackoff(FlatBackoff(time.Millisecond)),
		WithLocation(time.UTC),
	)
}

// start runs s in the background and returns a func that stops it and waits
// for every firing.
func start[T any](t *testing.T, s *Scheduler[T], results chan Result[T]) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, results)
	}()

	return func() {
		cancel()
		require.NoError(t, <-errc)

		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Wait(waitCtx))
	}
}

func receive[T any](t *testing.T, results chan Result[T]) Result[T] {
	t.Helper()

	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	return Result[T]{}
}

func TestSchedulerRetriesUntilExhausted(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("fail", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return "", errFlaky
	})

	s := newTestScheduler(t, reg, NewJob("fail", farFuture, "fail", "", 3))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, "fail", res.Name)
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, errFlaky.Error(), res.Err)
	assert.Nil(t, res.Payload)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
	assert.Empty(t, results)
}

func TestSchedulerStopsRetryingOnSuccess(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("flaky", func(ctx context.Context, arg string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errFlaky
		}

		return arg, nil
	})

	s := newTestScheduler(t, reg, NewJob("flaky", farFuture, "flaky", "payload", 5))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, 3, res.Attempts)
	require.NotNil(t, res.Payload)
	assert.Equal(t, "payload", *res.Payload)
}

func TestSchedulerWaitsBetweenAttemptsOnly(t *testing.T) {
	var (
		mu    sync.Mutex
		waits []int
	)
	backoff := func(attempt int) time.Duration {
		mu.Lock()
		defer mu.Unlock()

		waits = append(waits, attempt)

		return time.Millisecond
	}

	reg := NewRegistry[string]()
	reg.MustRegister("fail", func(ctx context.Context, arg string) (string, error) {
		return "", errFlaky
	})

	tasks, err := BuildTasks([]Job{NewJob("fail", farFuture, "fail", "", 3)}, reg)
	require.NoError(t, err)

	s := New(tasks, WithLogger(zerolog.Nop()), WithBackoff(backoff), WithLocation(time.UTC))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, 4, res.Attempts)

	mu.Lock()
	defer mu.Unlock()
	// One wait after each failed attempt except the last.
	assert.Equal(t, []int{0, 1, 2}, waits)
}

func TestSchedulerZeroRetries(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("fail", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return "", errFlaky
	})

	s := newTestScheduler(t, reg, NewJob("fail", farFuture, "fail", "", 0))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, res.Attempts)
}

func TestSchedulerInitialBurst(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	s := newTestScheduler(t, reg,
		NewJob("a", farFuture, "echo", "1", 0),
		NewJob("b", farFuture, "echo", "2", 0),
		NewJob("c", farFuture, "echo", "3", 0),
	)
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	got := make(map[string]string)
	for range 3 {
		res := receive(t, results)
		require.Equal(t, Success, res.Status)
		got[res.Name] = *res.Payload
	}
	stop()

	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, got)
}

func TestSchedulerFiresOnSchedule(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("count", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return arg, nil
	})

	s := newTestScheduler(t, reg, NewJob("tick", "* * * * * *", "count", "", 0))
	stop := start(t, s, nil)

	time.Sleep(2500 * time.Millisecond)
	stop()

	// The initial burst plus at least two scheduled firings.
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestSchedulerFullResultChannelDoesNotStall(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("count", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return arg, nil
	})

	s := newTestScheduler(t, reg, NewJob("tick", "* * * * * *", "count", "", 0))

	// Nobody reads until the end; every firing after the first blocks on send.
	results := make(chan Result[string], 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, results)
	}()

	time.Sleep(2500 * time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	cancel()
	require.NoError(t, <-errc)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-results:
			case <-done:
				return
			}
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, s.Wait(waitCtx))
}

func TestSchedulerNoFiringAfterShutdown(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("count", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return arg, nil
	})

	s := newTestScheduler(t, reg, NewJob("tick", "* * * * * *", "count", "", 0))
	stop := start(t, s, nil)

	time.Sleep(1200 * time.Millisecond)
	stop()

	fired := calls.Load()
	require.GreaterOrEqual(t, fired, int32(1))

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, fired, calls.Load())
}

func TestSchedulerUnknownCmd(t *testing.T) {
	s := newTestScheduler(t, NewRegistry[string](), NewJob("missing", farFuture, "missing", "arg", 1))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.Err, ErrActionNotFound.Error())
}

func TestSchedulerRecoversPanic(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("panic", func(ctx context.Context, arg string) (string, error) {
		panic("boom")
	})

	s := newTestScheduler(t, reg, NewJob("panic", farFuture, "panic", "", 0))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	res := receive(t, results)
	stop()

	assert.Equal(t, Failed, res.Status)
	assert.Contains(t, res.Err, "boom")
}

func TestSchedulerNoTasks(t *testing.T) {
	s := New[string](nil)

	err := s.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTasks)
}

func TestSchedulerAlreadyRunning(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	s := newTestScheduler(t, reg, NewJob("a", farFuture, "echo", "", 0))
	results := NewResultChannel[string](0)
	stop := start(t, s, results)

	receive(t, results)
	assert.ErrorIs(t, s.Run(context.Background(), results), ErrRunning)

	stop()
}

func TestSchedulerCancelledBeforeStart(t *testing.T) {
	var calls atomic.Int32

	reg := NewRegistry[string]()
	reg.MustRegister("count", func(ctx context.Context, arg string) (string, error) {
		calls.Add(1)

		return "", nil
	})

	s := newTestScheduler(t, reg, NewJob("a", "* * * * * *", "count", "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx, nil))
	require.NoError(t, s.Wait(context.Background()))
	assert.Zero(t, calls.Load())
}

func TestSchedulerStopsWithoutFutureFirings(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	s := newTestScheduler(t, reg, NewJob("past", "0 0 0 * * * 2020", "echo", "once", 0))
	results := NewResultChannel[string](0)

	require.NoError(t, s.Run(context.Background(), results))
	require.NoError(t, s.Wait(context.Background()))

	res := receive(t, results)
	assert.Equal(t, "once", *res.Payload)
}

func TestSchedulerShutdownKeepsInFlightFirings(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	reg := NewRegistry[string]()
	reg.MustRegister("block", func(ctx context.Context, arg string) (string, error) {
		close(started)
		<-release

		// The firing context is detached from the scheduler context.
		return arg, ctx.Err()
	})

	s := newTestScheduler(t, reg, NewJob("block", farFuture, "block", "done", 0))
	results := NewResultChannel[string](0)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, results)
	}()

	<-started
	cancel()
	require.NoError(t, <-errc)

	entries := s.Entries(time.Now())
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Running)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer shortCancel()
	assert.ErrorIs(t, s.Wait(shortCtx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(context.Background()))

	res := receive(t, results)
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, "done", *res.Payload)
}

func TestSchedulerEarliest(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	now := time.Date(2024, time.March, 10, 10, 0, 0, 500_000_000, time.UTC)
	hour := time.Date(2024, time.March, 10, 10, 0, 0, 0, time.UTC)

	s := newTestScheduler(t, reg,
		NewJob("b", "0 0 * * * *", "echo", "", 0),
		NewJob("a", "0 0 * * * *", "echo", "", 0),
		NewJob("c", "0 30 * * * *", "echo", "", 0),
	)

	t.Run("tie goes to lower name", func(t *testing.T) {
		cursors := []time.Time{hour, hour, hour}

		i, at, ok := s.earliest(cursors, now)
		require.True(t, ok)
		assert.Equal(t, "c", s.tasks[i].Name())
		assert.True(t, hour.Add(30*time.Minute).Equal(at))

		cursors[2] = hour.Add(30 * time.Minute)
		i, at, ok = s.earliest(cursors, now)
		require.True(t, ok)
		assert.Equal(t, "a", s.tasks[i].Name())
		assert.True(t, hour.Add(time.Hour).Equal(at))
	})

	t.Run("due within grace fires late", func(t *testing.T) {
		stale := now.Add(-2 * time.Hour)
		cursors := []time.Time{stale, hour, hour}

		i, at, ok := s.earliest(cursors, now)
		require.True(t, ok)
		assert.Equal(t, "b", s.tasks[i].Name())
		assert.True(t, hour.Equal(at))
	})

	t.Run("older misses are skipped", func(t *testing.T) {
		later := now.Add(10 * time.Second)
		stale := later.Add(-2 * time.Hour)
		cursors := []time.Time{stale, stale, stale}

		i, at, ok := s.earliest(cursors, later)
		require.True(t, ok)
		assert.Equal(t, "c", s.tasks[i].Name())
		assert.True(t, hour.Add(30*time.Minute).Equal(at))
	})
}

func TestSchedulerEntries(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	s := newTestScheduler(t, reg,
		NewJob("hourly", "0 0 * * * *", "echo", "", 0),
		NewJob("past", "0 0 0 * * * 2020", "echo", "", 0),
		NewJob("half", "0 30 * * * *", "missing", "", 0),
	)

	now := time.Date(2024, time.March, 10, 10, 10, 0, 0, time.UTC)
	entries := s.Entries(now)
	require.Len(t, entries, 3)

	assert.Equal(t, "half", entries[0].Name)
	assert.False(t, entries[0].Resolved)
	assert.Equal(t, "20m0s", entries[0].Left)

	assert.Equal(t, "hourly", entries[1].Name)
	assert.True(t, entries[1].Resolved)
	assert.True(t, now.Add(50*time.Minute).Equal(entries[1].Next))

	assert.Equal(t, "past", entries[2].Name)
	assert.True(t, entries[2].Next.IsZero())
	assert.Empty(t, entries[2].Left)
}
