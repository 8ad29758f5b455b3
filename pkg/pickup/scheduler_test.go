package pickup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	var calls int32
	s := NewScheduler(10*time.Millisecond, func(context.Context) { atomic.AddInt32(&calls, 1) })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning())
}

func TestSchedulerStop(t *testing.T) {
	var calls int32
	s := NewScheduler(5*time.Millisecond, func(context.Context) { atomic.AddInt32(&calls, 1) })

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, after, atomic.LoadInt32(&calls))
	assert.False(t, s.IsRunning())

	// Stopping twice is harmless.
	s.Stop()
}

func TestSchedulerStartTwice(t *testing.T) {
	s := NewScheduler(time.Hour, func(context.Context) {})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerRunning)
}

func TestSchedulerSurvivesPanickingCycle(t *testing.T) {
	var calls int32
	s := NewScheduler(5*time.Millisecond, func(context.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("first tick")
		}
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(5*time.Millisecond, func(context.Context) {})

	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSchedulerRunOnce(t *testing.T) {
	var calls int32
	s := NewScheduler(0, func(context.Context) { atomic.AddInt32(&calls, 1) })

	s.RunOnce(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, s.IsRunning())
	assert.Equal(t, defaultInterval, s.interval)
}

func TestSchedulerDrivesPicker(t *testing.T) {
	store := &fakeStore{rows: []map[string]interface{}{pendingRow(1)}}
	requester := newFakeRequester()
	picker := newTestPicker(store, requester)
	s := NewScheduler(10*time.Millisecond, picker.Trigger)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(requester.Sent()) >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	for _, id := range requester.SentIDs() {
		assert.Equal(t, int64(1), id)
	}
}
