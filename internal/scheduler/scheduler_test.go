package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterTask(name string, interval time.Duration, gate Gate, calls *atomic.Int64) Task {
	return Task{
		Name:     name,
		Interval: Every(interval),
		Gate:     gate,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	}
}

func TestGateOpenArmsWithImmediateTick(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var calls atomic.Int64
	require.NoError(t, s.Add(counterTask("detections", time.Hour, WhenStreaming, &calls)))
	assert.Empty(t, s.Active())

	s.Update(Conditions{Connected: true, Running: true})
	assert.Equal(t, []string{"detections"}, s.Active())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestClosedGateStopsFurtherCalls(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var calls atomic.Int64
	interval := 20 * time.Millisecond
	require.NoError(t, s.Add(counterTask("metrics", interval, WhenStreaming, &calls)))

	s.Update(Conditions{Connected: true, Running: true})
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	s.Update(Conditions{Connected: true, Running: false})
	after := calls.Load()
	time.Sleep(3 * interval)
	assert.Equal(t, after, calls.Load())
	assert.Empty(t, s.Active())

	s.Update(Conditions{Connected: true, Running: true})
	require.Eventually(t, func() bool { return calls.Load() > after }, time.Second, time.Millisecond)
}

func TestCancelAbortsInFlightRun(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	started := make(chan struct{})
	aborted := make(chan struct{})
	require.NoError(t, s.Add(Task{
		Name:     "history",
		Interval: Every(time.Hour),
		Gate:     WhenConnected,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(aborted)
			return ctx.Err()
		},
	}))

	s.Update(Conditions{Connected: true})
	<-started
	s.Update(Conditions{Connected: false})

	select {
	case <-aborted:
	default:
		t.Fatal("in-flight run was not cancelled before Update returned")
	}
}

func TestPanicsAndErrorsDoNotStopLoop(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var calls atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "flaky",
		Interval: Every(5 * time.Millisecond),
		Run: func(ctx context.Context) error {
			n := calls.Add(1)
			if n == 1 {
				panic("first tick")
			}
			return errors.New("always failing")
		},
	}))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestIntervalChangeRearms(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var calls atomic.Int64
	require.NoError(t, s.Add(Task{
		Name: "current",
		Interval: func(c Conditions) time.Duration {
			if c.Live {
				return 200 * time.Millisecond
			}
			return time.Hour
		},
		Gate: WhenStreaming,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	}))

	s.Update(Conditions{Connected: true, Running: true})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	s.Update(Conditions{Connected: true, Running: true, Live: true})
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestZeroIntervalDisables(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var calls atomic.Int64
	require.NoError(t, s.Add(counterTask("logs", 0, WhenConnected, &calls)))
	s.Update(Conditions{Connected: true})
	assert.Empty(t, s.Active())
}

func TestCloseWaitsForTasks(t *testing.T) {
	s := New(context.Background())
	var running atomic.Bool
	require.NoError(t, s.Add(Task{
		Name:     "health",
		Interval: Every(time.Millisecond),
		Run: func(ctx context.Context) error {
			running.Store(true)
			defer running.Store(false)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Millisecond):
			}
			return nil
		},
	}))
	time.Sleep(10 * time.Millisecond)
	s.Close()
	assert.False(t, running.Load())
	assert.Empty(t, s.Active())

	assert.Error(t, s.Add(Task{Name: "health", Interval: Every(time.Second), Run: func(context.Context) error { return nil }}))
}
