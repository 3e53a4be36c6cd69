package workflows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-dataset-cleaner/internal/ingest"
	"github.com/tendant/simple-dataset-cleaner/internal/jobs"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/internal/metrics"
	"github.com/tendant/simple-dataset-cleaner/internal/policy"
	"github.com/tendant/simple-dataset-cleaner/internal/storage"
	"github.com/tendant/simple-dataset-cleaner/internal/testsupport"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

type harness struct {
	runner  *WorkflowRunner
	store   *jobs.Store
	ws      *storage.Workspace
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, cfg RunnerConfig) *harness {
	t.Helper()

	base := t.TempDir()
	ws, err := storage.NewWorkspace(filepath.Join(base, "uploads"), filepath.Join(base, "processed"))
	require.NoError(t, err)

	log := logging.Nop()
	m := metrics.New(nil)
	store := jobs.NewStore()
	wf := NewCleaningWorkflow(ws, ingest.New(ingest.Config{MaxUploadBytes: cfg.MaxUploadBytes}, log), m, log)
	r := NewWorkflowRunner(wf, store, ws, m, log, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return &harness{runner: r, store: store, ws: ws, metrics: m}
}

func resolve(t *testing.T, mutate func(*pipeline.CleaningOptions)) pipeline.CleaningPolicy {
	t.Helper()
	opts := policy.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	p, err := policy.Resolve(opts)
	require.NoError(t, err)
	return p
}

func waitTerminal(t *testing.T, store *jobs.Store, id string) pipeline.Job {
	t.Helper()
	var job pipeline.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = store.Get(id)
		return ok && job.Status.IsTerminal()
	}, 10*time.Second, 5*time.Millisecond)
	return job
}

func TestDuplicateArchiveLenient(t *testing.T) {
	h := newHarness(t, RunnerConfig{})
	payload := testsupport.Zip(t,
		testsupport.ZipEntry{Name: "a.png", Data: testsupport.NoisePNG(t, 64, 64, 1)},
		testsupport.ZipEntry{Name: "b.png", Data: testsupport.NoisePNG(t, 64, 64, 2)},
		testsupport.ZipEntry{Name: "c.png", Data: testsupport.NoisePNG(t, 64, 64, 1)},
	)
	p := resolve(t, func(o *pipeline.CleaningOptions) {
		o.Mode = "lenient"
		o.CheckBlur = false
		o.CheckBrightness = false
	})

	id, err := h.runner.Submit("dataset.zip", payload, p)
	require.NoError(t, err)

	job := waitTerminal(t, h.store, id)
	require.Equal(t, pipeline.StatusCompleted, job.Status, job.Message)
	require.NotNil(t, job.Result)
	require.NotNil(t, job.Summary)

	assert.Equal(t, 3, job.Result.OriginalCount)
	assert.Equal(t, 1, job.Result.DuplicatesRemoved)
	assert.Equal(t, 0, job.Result.LowQualityRemoved)
	assert.Equal(t, 2, job.Result.FinalCount)
	assert.Equal(t, 66.7, job.Result.RetentionRate)
	assert.Equal(t, 33.3, job.Result.CleaningRate)
	assert.Equal(t, pipeline.ModeLenient, job.Result.QualityMode)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, "Dataset cleaned successfully using lenient mode! Retained 2/3 images (66.7% retention rate)", job.Message)

	assert.Equal(t, h.ws.ArchivePath(id), job.ResultArchivePath)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, testsupport.ZipNames(t, job.ResultArchivePath))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ImagesRemoved.WithLabelValues(metrics.ReasonDuplicate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ImagesRetained))
}

func TestSingleTinyImage(t *testing.T) {
	h := newHarness(t, RunnerConfig{})

	id, err := h.runner.Submit("tiny.png", testsupport.NoisePNG(t, 32, 32, 1), resolve(t, nil))
	require.NoError(t, err)

	job := waitTerminal(t, h.store, id)
	require.Equal(t, pipeline.StatusCompleted, job.Status, job.Message)
	assert.Equal(t, 1, job.Result.OriginalCount)
	assert.Equal(t, 1, job.Result.LowQualityRemoved)
	assert.Equal(t, 0, job.Result.FinalCount)
	assert.Equal(t, 0.0, job.Result.RetentionRate)
	assert.Empty(t, testsupport.ZipNames(t, job.ResultArchivePath))
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, RunnerConfig{MaxUploadBytes: 64})
	valid := resolve(t, nil)
	invalid := valid
	invalid.BlurThreshold = 0

	tests := []struct {
		name     string
		filename string
		payload  []byte
		policy   pipeline.CleaningPolicy
	}{
		{"unsupported type", "notes.txt", []byte("hello"), valid},
		{"no filename", " ", []byte("hello"), valid},
		{"empty payload", "a.zip", nil, valid},
		{"too large", "a.zip", make([]byte, 65), valid},
		{"invalid policy", "a.png", []byte("x"), invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.runner.Submit(tt.filename, tt.payload, tt.policy)
			assert.ErrorIs(t, err, pipeline.ErrValidation)
		})
	}

	assert.Zero(t, h.store.Len(), "no job created")
	entries, err := os.ReadDir(filepath.Dir(h.ws.JobDir("x")))
	require.NoError(t, err)
	assert.Empty(t, entries, "no working directory created")
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, RunnerConfig{})
	var entries []testsupport.ZipEntry
	for i := 0; i < 12; i++ {
		entries = append(entries, testsupport.ZipEntry{
			Name: filepath.ToSlash(filepath.Join("set", string(rune('a'+i))+".png")),
			Data: testsupport.NoisePNG(t, 80, 80, int64(i%8)),
		})
	}

	id, err := h.runner.Submit("set.zip", testsupport.Zip(t, entries...), resolve(t, nil))
	require.NoError(t, err)

	last := 0.0
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := h.store.Get(id)
		require.True(t, ok)
		require.GreaterOrEqual(t, job.Progress, last)
		if job.Status != pipeline.StatusCompleted {
			require.Less(t, job.Progress, 100.0)
		}
		last = job.Progress
		if job.Status.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	job, _ := h.store.Get(id)
	require.Equal(t, pipeline.StatusCompleted, job.Status, job.Message)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 4, job.Result.DuplicatesRemoved)
}

func TestFailedJobIsCleanedUp(t *testing.T) {
	h := newHarness(t, RunnerConfig{})

	id, err := h.runner.Submit("broken.zip", []byte("this is not a zip"), resolve(t, nil))
	require.NoError(t, err)

	job := waitTerminal(t, h.store, id)
	assert.Equal(t, pipeline.StatusFailed, job.Status)
	assert.True(t, strings.HasPrefix(job.Message, "Processing failed: corrupted or invalid ZIP file"), job.Message)
	assert.Less(t, job.Progress, 100.0)
	assert.Nil(t, job.Result)

	require.Eventually(t, func() bool {
		exists, err := h.ws.Exists(id)
		return err == nil && !exists
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsFinished.WithLabelValues("failed")))
}

func TestDeleteFinishedJob(t *testing.T) {
	h := newHarness(t, RunnerConfig{})

	id, err := h.runner.Submit("one.png", testsupport.NoisePNG(t, 96, 96, 1), resolve(t, nil))
	require.NoError(t, err)
	job := waitTerminal(t, h.store, id)
	require.Equal(t, pipeline.StatusCompleted, job.Status, job.Message)
	assert.FileExists(t, job.ResultArchivePath)

	require.NoError(t, h.runner.Delete(id))
	_, ok := h.store.Get(id)
	assert.False(t, ok)
	assert.NoFileExists(t, job.ResultArchivePath)

	assert.ErrorIs(t, h.runner.Delete(id), pipeline.ErrJobNotFound)
}

// blockingWorkflow parks every job until released or cancelled
type blockingWorkflow struct {
	started   chan string
	release   chan struct{}
	cancelled atomic.Int32
}

func newBlockingWorkflow() *blockingWorkflow {
	return &blockingWorkflow{started: make(chan string, 16), release: make(chan struct{})}
}

func (w *blockingWorkflow) Name() string { return "blocking" }

func (w *blockingWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	w.started <- wctx.RunID
	select {
	case <-wctx.Ctx.Done():
		w.cancelled.Add(1)
		return nil, stageError(StageQuality, wctx.Ctx.Err())
	case <-w.release:
	}
	return &WorkflowResult{
		Result:      pipeline.CleaningResult{OriginalCount: 1, FinalCount: 1, RetentionRate: 100, QualityMode: pipeline.ModeBalanced},
		Summary:     pipeline.DatasetSummary{TotalImages: 1},
		ArchivePath: "/nowhere.zip",
	}, nil
}

type recordingCleaner struct {
	mu  sync.Mutex
	ids []string
}

func (c *recordingCleaner) Cleanup(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return nil
}

func (c *recordingCleaner) cleaned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.ids {
		if got == id {
			return true
		}
	}
	return false
}

func newBlockingRunner(t *testing.T, cfg RunnerConfig) (*WorkflowRunner, *blockingWorkflow, *recordingCleaner, *jobs.Store) {
	t.Helper()
	wf := newBlockingWorkflow()
	cleaner := &recordingCleaner{}
	store := jobs.NewStore()
	r := NewWorkflowRunner(wf, store, cleaner, metrics.New(nil), logging.Nop(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, wf, cleaner, store
}

func waitStarted(t *testing.T, wf *blockingWorkflow) string {
	t.Helper()
	select {
	case id := <-wf.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not start")
		return ""
	}
}

func TestDeleteCancelsRunningJob(t *testing.T) {
	r, wf, cleaner, store := newBlockingRunner(t, RunnerConfig{})

	id, err := r.Submit("a.png", []byte("x"), resolve(t, nil))
	require.NoError(t, err)
	require.Equal(t, id, waitStarted(t, wf))

	job, _ := store.Get(id)
	assert.Equal(t, pipeline.StatusProcessing, job.Status)

	require.NoError(t, r.Delete(id))
	_, ok := store.Get(id)
	assert.False(t, ok, "deleted job is gone immediately")

	require.Eventually(t, func() bool { return cleaner.cleaned(id) }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), wf.cancelled.Load())
	assert.Zero(t, r.Active())
}

func TestConcurrencyIsBounded(t *testing.T) {
	r, wf, _, store := newBlockingRunner(t, RunnerConfig{MaxConcurrentJobs: 1})
	p := resolve(t, nil)

	first, err := r.Submit("a.png", []byte("x"), p)
	require.NoError(t, err)
	require.Equal(t, first, waitStarted(t, wf))

	second, err := r.Submit("b.png", []byte("x"), p)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, _ := store.Get(second)
		return job.Message == MessageQueued
	}, 5*time.Second, 5*time.Millisecond)
	job, _ := store.Get(second)
	assert.Equal(t, pipeline.StatusUploaded, job.Status)

	wf.release <- struct{}{}
	assert.Equal(t, second, waitStarted(t, wf))
	done := waitTerminal(t, store, first)
	assert.Equal(t, pipeline.StatusCompleted, done.Status)

	wf.release <- struct{}{}
	done = waitTerminal(t, store, second)
	assert.Equal(t, pipeline.StatusCompleted, done.Status)
}

func TestDeleteQueuedJob(t *testing.T) {
	r, wf, cleaner, store := newBlockingRunner(t, RunnerConfig{MaxConcurrentJobs: 1})
	p := resolve(t, nil)

	_, err := r.Submit("a.png", []byte("x"), p)
	require.NoError(t, err)
	waitStarted(t, wf)

	queued, err := r.Submit("b.png", []byte("x"), p)
	require.NoError(t, err)
	require.NoError(t, r.Delete(queued))

	require.Eventually(t, func() bool { return cleaner.cleaned(queued) }, 5*time.Second, 5*time.Millisecond)
	_, ok := store.Get(queued)
	assert.False(t, ok)
}

func TestShutdownCancelsAfterDeadline(t *testing.T) {
	r, wf, _, store := newBlockingRunner(t, RunnerConfig{})

	id, err := r.Submit("a.png", []byte("x"), resolve(t, nil))
	require.NoError(t, err)
	waitStarted(t, wf)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)

	job, _ := store.Get(id)
	assert.Equal(t, pipeline.StatusFailed, job.Status)

	_, err = r.Submit("b.png", []byte("x"), resolve(t, nil))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestJobTimeout(t *testing.T) {
	r, wf, cleaner, store := newBlockingRunner(t, RunnerConfig{JobTimeout: 20 * time.Millisecond})

	id, err := r.Submit("a.png", []byte("x"), resolve(t, nil))
	require.NoError(t, err)
	waitStarted(t, wf)

	job := waitTerminal(t, store, id)
	assert.Equal(t, pipeline.StatusFailed, job.Status)
	assert.Contains(t, job.Message, "timeout")
	require.Eventually(t, func() bool { return cleaner.cleaned(id) }, 5*time.Second, 5*time.Millisecond)
}

func TestStageErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ingest.ErrUnsupportedType, KindValidation},
		{ingest.ErrCorruptArchive, KindIngestion},
		{ingest.ErrNoValidImages, KindIngestion},
		{context.Canceled, KindLifecycle},
		{pipeline.ErrJobNotFound, KindLifecycle},
		{jobs.ErrInvalidTransition, KindLifecycle},
		{os.ErrPermission, KindProcessing},
	}
	for _, tt := range tests {
		err := stageError(StageIngest, tt.err)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, tt.want, se.Kind, tt.err.Error())
		assert.ErrorIs(t, err, tt.err)
	}

	assert.Nil(t, stageError(StageIngest, nil))
	wrapped := stageError(StageDedupe, stageError(StageIngest, os.ErrPermission))
	assert.Equal(t, StageIngest, wrapped.(*StageError).Stage)
	assert.Equal(t, "permission denied", failureCause(wrapped))
}
