// Package jobs keeps the in-memory job table and enforces the job lifecycle.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// Initial message of every job
const MessageCreated = "Job created, ready for processing"

// UpdateRequest carries the fields to change; nil fields are left alone
type UpdateRequest struct {
	Status            *pipeline.JobStatus
	Progress          *float64
	Message           *string
	Summary           *pipeline.DatasetSummary
	Result            *pipeline.CleaningResult
	ResultArchivePath *string
}

// Ptr returns a pointer to v, for building UpdateRequests
func Ptr[T any](v T) *T {
	return &v
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a concurrency-safe job table. Every read returns a copy.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*pipeline.Job
	now  func() time.Time
}

// NewStore creates an empty Store
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*pipeline.Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new uploaded job and returns its id
func (s *Store) Create(policy pipeline.CleaningPolicy) string {
	now := s.now()
	job := &pipeline.Job{
		ID:        uuid.New().String(),
		Status:    pipeline.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
		Policy:    policy.Clone(),
		Message:   MessageCreated,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job.ID
}

// Get returns a snapshot of the job
func (s *Store) Get(id string) (pipeline.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return pipeline.Job{}, false
	}
	return job.Clone(), true
}

// Update applies req atomically and returns the updated snapshot.
//
// Progress never goes down, is clamped to [0,100], stays below 100 until the
// job completes and is set to 100 by the completing update. Completing
// requires a Result, and a Summary either in req or already on the job.
func (s *Store) Update(id string, req UpdateRequest) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return pipeline.Job{}, fmt.Errorf("%w: %s", pipeline.ErrJobNotFound, id)
	}

	target := job.Status
	if req.Status != nil {
		target = *req.Status
	}
	if err := ValidateTransition(job.Status, target); err != nil {
		return pipeline.Job{}, err
	}

	completing := target == pipeline.StatusCompleted
	if completing && (req.Result == nil || (req.Summary == nil && job.Summary == nil)) {
		return pipeline.Job{}, ErrIncompleteResult
	}

	progress := job.Progress
	if req.Progress != nil {
		progress = max(progress, min(max(*req.Progress, 0), 100))
	}
	if completing {
		progress = 100
	} else if progress >= 100 {
		progress = 99
	}

	job.Status = target
	job.Progress = progress
	if req.Message != nil {
		job.Message = *req.Message
	}
	if req.Summary != nil {
		job.Summary = req.Summary.Clone()
	}
	if req.Result != nil {
		result := *req.Result
		job.Result = &result
	}
	if req.ResultArchivePath != nil {
		job.ResultArchivePath = *req.ResultArchivePath
	}
	job.UpdatedAt = s.now()

	return job.Clone(), nil
}

// List returns jobs ordered by creation time, optionally filtered by status
func (s *Store) List(filter *pipeline.JobStatus) []pipeline.Job {
	s.mu.RLock()
	out := make([]pipeline.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter != nil && job.Status != *filter {
			continue
		}
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sortJobs(out)
	return out
}

// Counts returns the number of jobs per status
func (s *Store) Counts() map[pipeline.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[pipeline.JobStatus]int{
		pipeline.StatusUploaded:   0,
		pipeline.StatusProcessing: 0,
		pipeline.StatusCompleted:  0,
		pipeline.StatusFailed:     0,
	}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Remove forgets a job and reports whether it existed
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Expired returns terminal jobs created before cutoff
func (s *Store) Expired(cutoff time.Time) []pipeline.Job {
	s.mu.RLock()
	var out []pipeline.Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sortJobs(out)
	return out
}

// Len returns the number of jobs held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func sortJobs(jobs []pipeline.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
