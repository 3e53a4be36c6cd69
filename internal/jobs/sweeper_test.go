package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// seedJobs creates a completed, a failed and a processing job at the clock's current time
func seedJobs(t *testing.T, s *Store) (completed, failed, processing string) {
	t.Helper()

	completed = s.Create(pipeline.CleaningPolicy{})
	_, err := s.Update(completed, UpdateRequest{Status: Ptr(pipeline.StatusProcessing)})
	require.NoError(t, err)
	_, err = s.Update(completed, completion())
	require.NoError(t, err)

	failed = s.Create(pipeline.CleaningPolicy{})
	_, err = s.Update(failed, UpdateRequest{Status: Ptr(pipeline.StatusFailed)})
	require.NoError(t, err)

	processing = s.Create(pipeline.CleaningPolicy{})
	_, err = s.Update(processing, UpdateRequest{Status: Ptr(pipeline.StatusProcessing)})
	require.NoError(t, err)
	return
}

func TestSweepOnceRemovesExpiredTerminalJobs(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	completed, failed, processing := seedJobs(t, s)

	var cleaned []string
	sw := NewSweeper(s, SweeperConfig{
		Retention: 24 * time.Hour,
		OnExpire: func(job pipeline.Job) error {
			cleaned = append(cleaned, job.ID)
			return nil
		},
	}, logging.Nop())

	removed, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed, "nothing is old enough yet")

	clock.Advance(25 * time.Hour)
	fresh := s.Create(pipeline.CleaningPolicy{})
	_, err = s.Update(fresh, UpdateRequest{Status: Ptr(pipeline.StatusFailed)})
	require.NoError(t, err)

	removed, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{completed, failed}, cleaned)

	_, ok := s.Get(processing)
	assert.True(t, ok, "running jobs are never swept")
	_, ok = s.Get(fresh)
	assert.True(t, ok, "recent terminal jobs are kept")
}

func TestSweeperTreatsNonPositiveDurationsAsDefaults(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	_, failed, _ := seedJobs(t, s)

	sw := NewSweeper(s, SweeperConfig{
		Interval:      -time.Hour,
		Retention:     -time.Hour,
		RetryInterval: -5 * time.Minute,
	}, logging.Nop())
	assert.Equal(t, time.Hour, sw.cfg.Interval)
	assert.Equal(t, 24*time.Hour, sw.cfg.Retention)
	assert.Equal(t, 5*time.Minute, sw.cfg.RetryInterval)

	removed, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, ok := s.Get(failed)
	assert.True(t, ok, "fresh terminal jobs survive")
}

func TestSweepOnceKeepsJobsWhoseCleanupFails(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	completed, failed, _ := seedJobs(t, s)
	clock.Advance(48 * time.Hour)

	sw := NewSweeper(s, SweeperConfig{
		OnExpire: func(job pipeline.Job) error {
			if job.ID == completed {
				return errors.New("disk busy")
			}
			return nil
		},
	}, logging.Nop())

	removed, err := sw.SweepOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.Get(completed)
	assert.True(t, ok)
	_, ok = s.Get(failed)
	assert.False(t, ok)
}

func TestSweepOnceRecoversPanics(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	seedJobs(t, s)
	clock.Advance(48 * time.Hour)

	sw := NewSweeper(s, SweeperConfig{
		OnExpire: func(pipeline.Job) error { panic("boom") },
	}, logging.Nop())

	assert.NotPanics(t, func() {
		_, err := sw.SweepOnce(context.Background())
		assert.ErrorContains(t, err, "boom")
	})
}

func TestRunSweepsPeriodicallyAndStops(t *testing.T) {
	s := NewStore()
	id := s.Create(pipeline.CleaningPolicy{})
	_, err := s.Update(id, UpdateRequest{Status: Ptr(pipeline.StatusFailed)})
	require.NoError(t, err)

	var swept atomic.Int32
	sw := NewSweeper(s, SweeperConfig{
		Interval:      10 * time.Millisecond,
		Retention:     time.Nanosecond,
		RetryInterval: time.Millisecond,
		OnSwept:       func(n int) { swept.Add(int32(n)) },
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), swept.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunKeepsGoingAfterFailures(t *testing.T) {
	s := NewStore()
	id := s.Create(pipeline.CleaningPolicy{})
	_, err := s.Update(id, UpdateRequest{Status: Ptr(pipeline.StatusFailed)})
	require.NoError(t, err)

	var attempts atomic.Int32
	sw := NewSweeper(s, SweeperConfig{
		Interval:      20 * time.Millisecond,
		Retention:     time.Nanosecond,
		RetryInterval: time.Millisecond,
		OnExpire: func(pipeline.Job) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Run(ctx)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}
