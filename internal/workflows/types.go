package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/ingest"
	"github.com/tendant/simple-dataset-cleaner/internal/jobs"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/internal/metrics"
	"github.com/tendant/simple-dataset-cleaner/internal/policy"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// Job messages set by the runner
const (
	MessageQueued    = "Queued, waiting for a worker slot"
	MessageStarted   = "Processing started"
	MessageCancelled = "Job cancelled by user"
	MessageShutdown  = "Job cancelled: service shutting down"
)

// Upload is the caller's file and the policy to clean it with
type Upload struct {
	Filename string
	Payload  []byte
	Policy   pipeline.CleaningPolicy
}

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx    context.Context
	Upload Upload
	RunID  string

	// Update applies a change to the running job's record
	Update func(req jobs.UpdateRequest) error
}

// Report records progress and a status message for the running job
func (w *WorkflowContext) Report(progress float64, message string) error {
	return w.Update(jobs.UpdateRequest{Progress: &progress, Message: &message})
}

// WorkflowResult contains the result of workflow execution
type WorkflowResult struct {
	Result      pipeline.CleaningResult
	Summary     pipeline.DatasetSummary
	ArchivePath string
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// Cleaner removes the files a job left on disk
type Cleaner interface {
	Cleanup(jobID string) error
}

// RunnerConfig bounds what the runner accepts and how much runs at once
type RunnerConfig struct {
	MaxUploadBytes    int64
	MaxConcurrentJobs int

	// JobTimeout bounds a running job; zero means no limit
	JobTimeout time.Duration
}

// WithDefaults fills in default values for optional fields
func (c *RunnerConfig) WithDefaults() {
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 1024 * 1024 * 1024
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 3
	}
}

// WorkflowRunner executes a workflow per submitted job on a bounded pool
type WorkflowRunner struct {
	workflow Workflow
	store    *jobs.Store
	cleaner  Cleaner
	metrics  *metrics.Metrics
	log      logging.Logger
	cfg      RunnerConfig

	sem     *semaphore.Weighted
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewWorkflowRunner creates a new workflow runner
func NewWorkflowRunner(workflow Workflow, store *jobs.Store, cleaner Cleaner, m *metrics.Metrics, log logging.Logger, cfg RunnerConfig) *WorkflowRunner {
	cfg.WithDefaults()
	baseCtx, stop := context.WithCancel(context.Background())
	return &WorkflowRunner{
		workflow: workflow,
		store:    store,
		cleaner:  cleaner,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		baseCtx:  baseCtx,
		stop:     stop,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates the upload, creates a job and schedules it. Validation
// failures return an error wrapping pipeline.ErrValidation and create nothing.
func (r *WorkflowRunner) Submit(filename string, payload []byte, p pipeline.CleaningPolicy) (string, error) {
	if err := r.validate(filename, payload, p); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	id := r.store.Create(p)
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.cancels[id] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.JobsSubmitted.Inc()
	r.metrics.JobsQueued.Inc()
	r.log.Info("Job submitted",
		logging.F("job_id", id),
		logging.F("filename", filename),
		logging.F("size", humanize.Bytes(uint64(len(payload)))),
		logging.F("mode", string(p.Mode)))

	go r.run(ctx, id, Upload{Filename: filename, Payload: payload, Policy: p.Clone()})
	return id, nil
}

func (r *WorkflowRunner) validate(filename string, payload []byte, p pipeline.CleaningPolicy) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: no file provided", pipeline.ErrValidation)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: uploaded file is empty", pipeline.ErrValidation)
	}
	if int64(len(payload)) > r.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: file too large, maximum size is %s",
			pipeline.ErrValidation, humanize.IBytes(uint64(r.cfg.MaxUploadBytes)))
	}
	if !imagefmt.IsArchive(filename) && !imagefmt.IsSupported(filename) {
		return ingest.ErrUnsupportedType
	}
	return policy.Validate(p)
}

func (r *WorkflowRunner) run(ctx context.Context, id string, upload Upload) {
	defer r.wg.Done()
	log := r.log.With(logging.F("job_id", id))

	if !r.sem.TryAcquire(1) {
		if _, err := r.store.Update(id, jobs.UpdateRequest{Message: jobs.Ptr(MessageQueued)}); err != nil {
			log.Debug("Could not mark job queued", logging.Err(err))
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.metrics.JobsQueued.Dec()
			r.finish(ctx, id, nil, stageError(StageUpload, err))
			return
		}
	}
	defer r.sem.Release(1)

	r.metrics.JobsQueued.Dec()
	r.metrics.JobsActive.Inc()
	defer r.metrics.JobsActive.Dec()

	runCtx := ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	_, err := r.store.Update(id, jobs.UpdateRequest{
		Status:   jobs.Ptr(pipeline.StatusProcessing),
		Progress: jobs.Ptr(1.0),
		Message:  jobs.Ptr(MessageStarted),
	})
	if err != nil {
		r.finish(ctx, id, nil, stageError(StageUpload, err))
		return
	}

	log.Info("Starting workflow", logging.F("workflow", r.workflow.Name()))
	res, err := r.workflow.Execute(&WorkflowContext{
		Ctx:    runCtx,
		Upload: upload,
		RunID:  id,
		Update: r.updater(id),
	})
	if err == nil && runCtx.Err() != nil {
		err = stageError(StageFinalize, runCtx.Err())
	}
	r.finish(ctx, id, res, err)
}

func (r *WorkflowRunner) updater(id string) func(jobs.UpdateRequest) error {
	return func(req jobs.UpdateRequest) error {
		_, err := r.store.Update(id, req)
		return err
	}
}

// finish records the outcome. Completion happens under r.mu so a concurrent
// Delete either sees a terminal job or cancels before completion.
func (r *WorkflowRunner) finish(ctx context.Context, id string, res *WorkflowResult, err error) {
	log := r.log.With(logging.F("job_id", id))

	r.mu.Lock()
	if cancel, ok := r.cancels[id]; ok {
		delete(r.cancels, id)
		defer cancel()
	}

	if err == nil && ctx.Err() != nil {
		err = stageError(StageFinalize, ctx.Err())
	}
	if err == nil {
		_, err = r.store.Update(id, jobs.UpdateRequest{
			Status:            jobs.Ptr(pipeline.StatusCompleted),
			Progress:          jobs.Ptr(100.0),
			Message:           jobs.Ptr(completionMessage(res.Result)),
			Summary:           &res.Summary,
			Result:            &res.Result,
			ResultArchivePath: jobs.Ptr(res.ArchivePath),
		})
		if err == nil {
			r.mu.Unlock()
			r.recordCompletion(res)
			log.Info("Job completed",
				logging.F("final_count", res.Result.FinalCount),
				logging.F("retention_rate", res.Result.RetentionRate))
			return
		}
		err = stageError(StageFinalize, err)
	}

	message := "Processing failed: " + failureCause(err)
	if errors.Is(err, context.Canceled) {
		message = MessageCancelled
		if r.baseCtx.Err() != nil {
			message = MessageShutdown
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		message = fmt.Sprintf("Processing failed: job exceeded timeout of %s", r.cfg.JobTimeout)
	}
	if _, uerr := r.store.Update(id, jobs.UpdateRequest{
		Status:  jobs.Ptr(pipeline.StatusFailed),
		Message: jobs.Ptr(message),
	}); uerr != nil {
		log.Debug("Job not marked failed", logging.Err(uerr))
	}
	r.mu.Unlock()

	r.metrics.JobsFinished.WithLabelValues(string(pipeline.StatusFailed)).Inc()
	if errors.Is(err, context.Canceled) {
		log.Info("Job stopped", logging.Err(err))
	} else {
		log.Error("Job failed", logging.Err(err))
	}

	if cerr := r.cleaner.Cleanup(id); cerr != nil {
		log.Error("Failed to clean up job files", logging.Err(cerr))
	}
}

func (r *WorkflowRunner) recordCompletion(res *WorkflowResult) {
	r.metrics.JobsFinished.WithLabelValues(string(pipeline.StatusCompleted)).Inc()
	r.metrics.ImagesRemoved.WithLabelValues(metrics.ReasonDuplicate).Add(float64(res.Result.DuplicatesRemoved))
	r.metrics.ImagesRemoved.WithLabelValues(metrics.ReasonLowQuality).Add(float64(res.Result.LowQualityRemoved))
	r.metrics.ImagesRetained.Add(float64(res.Result.FinalCount))
}

func completionMessage(res pipeline.CleaningResult) string {
	return fmt.Sprintf("Dataset cleaned successfully using %s mode! Retained %d/%d images (%.1f%% retention rate)",
		res.QualityMode, res.FinalCount, res.OriginalCount, res.RetentionRate)
}

// Delete cancels the job if it is still queued or running, then forgets it.
// Files of an active job are removed by its goroutine once it stops; files
// of a finished job are removed here.
func (r *WorkflowRunner) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrJobNotFound, id)
	}

	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
		if _, err := r.store.Update(id, jobs.UpdateRequest{
			Status:  jobs.Ptr(pipeline.StatusFailed),
			Message: jobs.Ptr(MessageCancelled),
		}); err != nil {
			r.log.Debug("Cancelled job not marked failed", logging.F("job_id", id), logging.Err(err))
		}
		r.store.Remove(id)
		r.log.Info("Job cancelled", logging.F("job_id", id))
		return nil
	}

	if err := r.cleaner.Cleanup(id); err != nil {
		return fmt.Errorf("failed to delete job files: %w", err)
	}
	r.store.Remove(id)
	r.log.Info("Job deleted", logging.F("job_id", id))
	return nil
}

// Active returns the number of jobs queued or running
func (r *WorkflowRunner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown stops accepting jobs and waits for the ones in flight. When ctx
// expires first the remaining jobs are cancelled and ctx's error returned.
func (r *WorkflowRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.log.Warn("Shutdown deadline reached, cancelling jobs", logging.F("active", r.Active()))
		r.stop()
		<-done
		return ctx.Err()
	}
}
