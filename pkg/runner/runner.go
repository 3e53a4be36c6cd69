package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-dataset-cleaner/internal/config"
	"github.com/tendant/simple-dataset-cleaner/internal/ingest"
	"github.com/tendant/simple-dataset-cleaner/internal/jobs"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/internal/metrics"
	"github.com/tendant/simple-dataset-cleaner/internal/policy"
	"github.com/tendant/simple-dataset-cleaner/internal/storage"
	"github.com/tendant/simple-dataset-cleaner/internal/workflows"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// List limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

var (
	// ErrJobNotCompleted is returned when asking for the archive of an unfinished job
	ErrJobNotCompleted = errors.New("job is not completed yet")

	// ErrArchiveMissing is returned when a completed job's archive is gone from disk
	ErrArchiveMissing = errors.New("cleaned dataset file not found")
)

// Config holds the configuration for initializing the cleaning runner
type Config struct {
	UploadDir          string        // Per-job working directories
	ProcessedDir       string        // Standardized outputs and result archives
	MaxUploadBytes     int64         // Upload size ceiling
	MaxArchiveEntries  int           // Entry ceiling for zip uploads
	ExpansionFactor    int64         // Uncompressed size ceiling as a multiple of MaxUploadBytes
	MaxConcurrentJobs  int           // Pipelines running at once
	JobRetention       time.Duration // How long finished jobs are kept
	SweepInterval      time.Duration // Delay between retention sweeps
	SweepRetryInterval time.Duration // First retry delay after a failed sweep
	JobTimeout         time.Duration // Optional: bound on one pipeline run
	LogLevel           string        // debug, info, warn or error
	LogFormat          string        // console or json

	LogOutput         io.Writer             // Optional: defaults to stderr
	MetricsRegisterer prometheus.Registerer // Optional: collectors stay unregistered when nil
	DisableSweeper    bool                  // Optional: for short-lived processes such as the CLI
}

// ConfigFromEnv loads .env and the process environment
func ConfigFromEnv() (Config, error) {
	c, err := config.Load()
	if err != nil {
		return Config{}, err
	}
	return Config{
		UploadDir:          c.UploadDir,
		ProcessedDir:       c.ProcessedDir,
		MaxUploadBytes:     c.MaxUploadBytes,
		MaxArchiveEntries:  c.MaxArchiveEntries,
		ExpansionFactor:    c.ExpansionFactor,
		MaxConcurrentJobs:  c.MaxConcurrentJobs,
		JobRetention:       c.JobRetention,
		SweepInterval:      c.SweepInterval,
		SweepRetryInterval: c.SweepRetryInterval,
		JobTimeout:         c.JobTimeout,
		LogLevel:           c.LogLevel,
		LogFormat:          c.LogFormat,
	}, nil
}

func (c Config) internal() config.Config {
	ic := config.Config{
		UploadDir:          c.UploadDir,
		ProcessedDir:       c.ProcessedDir,
		MaxUploadBytes:     c.MaxUploadBytes,
		MaxArchiveEntries:  c.MaxArchiveEntries,
		ExpansionFactor:    c.ExpansionFactor,
		MaxConcurrentJobs:  c.MaxConcurrentJobs,
		JobRetention:       c.JobRetention,
		SweepInterval:      c.SweepInterval,
		SweepRetryInterval: c.SweepRetryInterval,
		JobTimeout:         c.JobTimeout,
		LogLevel:           c.LogLevel,
		LogFormat:          c.LogFormat,
	}
	ic.WithDefaults()
	return ic
}

// Preset describes one quality mode
type Preset struct {
	Mode              pipeline.QualityMode `json:"mode"`
	Description       string               `json:"description"`
	BlurThreshold     float64              `json:"blur_threshold,omitempty"`
	MinBrightness     float64              `json:"min_brightness,omitempty"`
	MaxBrightness     float64              `json:"max_brightness,omitempty"`
	ExpectedRetention string               `json:"expected_retention"`
}

// JobList is one page of jobs plus totals over all jobs
type JobList struct {
	Jobs     []pipeline.Job             `json:"jobs"`
	Total    int                        `json:"total_jobs"`
	Filtered int                        `json:"filtered_jobs"`
	Counts   map[pipeline.JobStatus]int `json:"summary"`
}

// StorageUsage is disk space held by job data, in MB
type StorageUsage struct {
	UploadMB    float64 `json:"upload_storage_mb"`
	ProcessedMB float64 `json:"processed_storage_mb"`
	TotalMB     float64 `json:"total_storage_mb"`
}

// Stats summarizes jobs, storage and configuration
type Stats struct {
	TotalJobs        int                          `json:"total_jobs"`
	Counts           map[pipeline.JobStatus]int   `json:"job_statistics"`
	QualityModeUsage map[pipeline.QualityMode]int `json:"quality_mode_usage"`
	Storage          StorageUsage                 `json:"storage_usage"`
	MaxFileSizeMB    float64                      `json:"max_file_size_mb"`
	MaxConcurrent    int                          `json:"max_concurrent_jobs"`
	JobRetention     time.Duration                `json:"job_retention"`
	SweepInterval    time.Duration                `json:"sweep_interval"`
}

// Runner provides a high-level API for cleaning image datasets
type Runner struct {
	cfg       config.Config
	store     *jobs.Store
	workspace *storage.Workspace
	runner    *workflows.WorkflowRunner
	log       logging.Logger

	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// New creates and starts a runner
func New(cfg Config) (*Runner, error) {
	ic := cfg.internal()
	if err := ic.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(ic.LogLevel)
	logCfg.JSONFormat = ic.LogFormat == "json"
	if cfg.LogOutput != nil {
		logCfg.Output = cfg.LogOutput
	}
	log := logging.NewLogger(logCfg)

	// Setup storage
	workspace, err := storage.NewWorkspace(ic.UploadDir, ic.ProcessedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New(cfg.MetricsRegisterer)
	store := jobs.NewStore()

	// Register cleaning workflow
	ingestor := ingest.New(ingest.Config{
		MaxUploadBytes:  ic.MaxUploadBytes,
		MaxEntries:      ic.MaxArchiveEntries,
		ExpansionFactor: ic.ExpansionFactor,
	}, log)
	workflow := workflows.NewCleaningWorkflow(workspace, ingestor, m, log)
	workflowRunner := workflows.NewWorkflowRunner(workflow, store, workspace, m, log, workflows.RunnerConfig{
		MaxUploadBytes:    ic.MaxUploadBytes,
		MaxConcurrentJobs: ic.MaxConcurrentJobs,
		JobTimeout:        ic.JobTimeout,
	})

	r := &Runner{
		cfg:       ic,
		store:     store,
		workspace: workspace,
		runner:    workflowRunner,
		log:       log,
	}

	if !cfg.DisableSweeper {
		sweeper := jobs.NewSweeper(store, jobs.SweeperConfig{
			Interval:      ic.SweepInterval,
			Retention:     ic.JobRetention,
			RetryInterval: ic.SweepRetryInterval,
			OnExpire: func(job pipeline.Job) error {
				return workspace.Cleanup(job.ID)
			},
			OnSwept: func(n int) {
				m.JobsSwept.Add(float64(n))
			},
		}, log)

		ctx, cancel := context.WithCancel(context.Background())
		r.stopSweeper = cancel
		r.sweeperDone = make(chan struct{})
		go func() {
			defer close(r.sweeperDone)
			sweeper.Run(ctx)
		}()
	}

	log.Info("Dataset cleaner ready",
		logging.F("upload_dir", ic.UploadDir),
		logging.F("processed_dir", ic.ProcessedDir),
		logging.F("max_concurrent_jobs", ic.MaxConcurrentJobs))
	return r, nil
}

// Submit validates the upload and starts a cleaning job. Errors wrapping
// pipeline.ErrValidation mean nothing was created.
func (r *Runner) Submit(ctx context.Context, filename string, payload []byte, opts pipeline.CleaningOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := policy.Resolve(opts)
	if err != nil {
		return "", err
	}
	return r.runner.Submit(filename, payload, p)
}

// Job returns a snapshot of one job
func (r *Runner) Job(id string) (pipeline.Job, error) {
	job, ok := r.store.Get(id)
	if !ok {
		return pipeline.Job{}, fmt.Errorf("%w: %s", pipeline.ErrJobNotFound, id)
	}
	return job, nil
}

// Jobs lists jobs in creation order. A limit of zero or less means 50 and
// larger limits are capped at 100.
func (r *Runner) Jobs(filter *pipeline.JobStatus, limit int) JobList {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	filtered := r.store.List(filter)
	list := JobList{
		Total:    r.store.Len(),
		Filtered: len(filtered),
		Counts:   r.store.Counts(),
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	list.Jobs = filtered
	return list
}

// Delete cancels a queued or running job, or removes a finished one, along
// with its files
func (r *Runner) Delete(id string) error {
	return r.runner.Delete(id)
}

// ArchivePath returns the result archive of a completed job
func (r *Runner) ArchivePath(id string) (string, error) {
	job, err := r.Job(id)
	if err != nil {
		return "", err
	}
	if job.Status != pipeline.StatusCompleted {
		return "", fmt.Errorf("%w: current status is %s", ErrJobNotCompleted, job.Status)
	}
	if _, err := os.Stat(job.ResultArchivePath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveMissing, err)
	}
	return job.ResultArchivePath, nil
}

// Stats reports job counts, quality mode usage, storage usage and limits
func (r *Runner) Stats() (Stats, error) {
	all := r.store.List(nil)
	usage, err := r.workspace.Usage()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to measure storage: %w", err)
	}

	stats := Stats{
		TotalJobs:        len(all),
		Counts:           r.store.Counts(),
		QualityModeUsage: make(map[pipeline.QualityMode]int),
		Storage: StorageUsage{
			UploadMB:    toMB(usage.UploadBytes),
			ProcessedMB: toMB(usage.ProcessedBytes),
			TotalMB:     toMB(usage.UploadBytes + usage.ProcessedBytes),
		},
		MaxFileSizeMB: float64(r.cfg.MaxUploadBytes) / (1024 * 1024),
		MaxConcurrent: r.cfg.MaxConcurrentJobs,
		JobRetention:  r.cfg.JobRetention,
		SweepInterval: r.cfg.SweepInterval,
	}
	for _, job := range all {
		stats.QualityModeUsage[job.Policy.Mode]++
	}
	return stats, nil
}

// Presets returns the quality mode catalogue
func (r *Runner) Presets() []Preset {
	return Presets()
}

// Presets returns the quality mode catalogue without a running Runner
func Presets() []Preset {
	catalogue := policy.Presets()
	out := make([]Preset, 0, len(catalogue))
	for _, p := range catalogue {
		out = append(out, Preset{
			Mode:              p.Mode,
			Description:       p.Description,
			BlurThreshold:     p.BlurThreshold,
			MinBrightness:     p.MinBrightness,
			MaxBrightness:     p.MaxBrightness,
			ExpectedRetention: p.ExpectedRetention,
		})
	}
	return out
}

// Shutdown gracefully shuts down the runner, waiting for running jobs until
// ctx is done
func (r *Runner) Shutdown(ctx context.Context) error {
	if r.stopSweeper != nil {
		r.stopSweeper()
		<-r.sweeperDone
	}
	err := r.runner.Shutdown(ctx)
	r.log.Info("Dataset cleaner stopped")
	return err
}

func toMB(n int64) float64 {
	return math.Round(float64(n)/(1024*1024)*100) / 100
}
