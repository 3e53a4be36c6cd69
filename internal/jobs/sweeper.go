package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// SweeperConfig controls retention of finished jobs
type SweeperConfig struct {
	Interval      time.Duration
	Retention     time.Duration
	RetryInterval time.Duration

	// OnExpire releases a job's files before it is forgotten. A job whose
	// cleanup fails is kept for the next cycle.
	OnExpire func(job pipeline.Job) error

	// OnSwept receives the number of jobs removed by each cycle
	OnSwept func(removed int)
}

// WithDefaults fills in default values for optional fields. Non-positive
// durations count as unset.
func (c *SweeperConfig) WithDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Minute
	}
	if c.RetryInterval > c.Interval {
		c.RetryInterval = c.Interval
	}
}

// Sweeper periodically drops terminal jobs past their retention
type Sweeper struct {
	store *Store
	cfg   SweeperConfig
	log   logging.Logger
}

// NewSweeper creates a Sweeper for store
func NewSweeper(store *Store, cfg SweeperConfig, log logging.Logger) *Sweeper {
	cfg.WithDefaults()
	return &Sweeper{store: store, cfg: cfg, log: log}
}

// SweepOnce runs a single cycle. Panics are returned as errors.
func (s *Sweeper) SweepOnce(ctx context.Context) (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	cutoff := s.store.now().Add(-s.cfg.Retention)
	var errs []error
	for _, job := range s.store.Expired(cutoff) {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if s.cfg.OnExpire != nil {
			if err := s.cfg.OnExpire(job); err != nil {
				s.log.Warn("Failed to clean up expired job", logging.F("job_id", job.ID), logging.Err(err))
				errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
				continue
			}
		}
		if s.store.Remove(job.ID) {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Run sweeps every Interval until ctx is done. After a failed cycle the next
// one is scheduled with exponential backoff from RetryInterval up to Interval.
func (s *Sweeper) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxInterval = s.cfg.Interval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	s.log.Info("Job sweeper started",
		logging.F("interval", s.cfg.Interval.String()),
		logging.F("retention", s.cfg.Retention.String()))

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Job sweeper stopped")
			return
		case <-timer.C:
		}

		next := s.cfg.Interval
		removed, err := s.SweepOnce(ctx)
		if err != nil {
			next = b.NextBackOff()
			s.log.Error("Job sweep failed", logging.Err(err), logging.F("retry_in", next.String()))
		} else {
			b.Reset()
			if removed > 0 {
				s.log.Info("Expired jobs removed", logging.F("count", removed))
			}
		}
		if removed > 0 && s.cfg.OnSwept != nil {
			s.cfg.OnSwept(removed)
		}
		timer.Reset(next)
	}
}
