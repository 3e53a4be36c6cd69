package workflows

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tendant/simple-dataset-cleaner/internal/dedupe"
	"github.com/tendant/simple-dataset-cleaner/internal/ingest"
	"github.com/tendant/simple-dataset-cleaner/internal/jobs"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/internal/metrics"
	"github.com/tendant/simple-dataset-cleaner/internal/packager"
	"github.com/tendant/simple-dataset-cleaner/internal/quality"
	"github.com/tendant/simple-dataset-cleaner/internal/standardize"
	"github.com/tendant/simple-dataset-cleaner/internal/storage"
)

// JobFiles is where a job keeps its upload, working tree and result
type JobFiles interface {
	storage.Layout
	SaveUpload(jobID, filename string, data []byte) (string, error)
}

// CleaningWorkflow turns an uploaded dataset into a cleaned result archive
type CleaningWorkflow struct {
	files    JobFiles
	ingestor *ingest.Ingestor
	deduper  *dedupe.Deduplicator
	packager *packager.Packager
	metrics  *metrics.Metrics
	log      logging.Logger
}

// NewCleaningWorkflow creates a new dataset cleaning workflow
func NewCleaningWorkflow(files JobFiles, ingestor *ingest.Ingestor, m *metrics.Metrics, log logging.Logger) *CleaningWorkflow {
	return &CleaningWorkflow{
		files:    files,
		ingestor: ingestor,
		deduper:  dedupe.New(log),
		packager: packager.New(log),
		metrics:  m,
		log:      log,
	}
}

// Name returns the workflow name
func (w *CleaningWorkflow) Name() string {
	return "CleaningWorkflow"
}

// Execute runs ingestion, deduplication, quality filtering, standardization
// and packaging, reporting progress from 3 to 95 along the way.
func (w *CleaningWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx := wctx.Ctx
	jobID := wctx.RunID
	p := wctx.Upload.Policy
	log := w.log.With(logging.F("job_id", jobID))

	step := func(stage string, progress float64, message string) error {
		if err := ctx.Err(); err != nil {
			return stageError(stage, err)
		}
		return stageError(stage, wctx.Report(progress, message))
	}
	// itemProgress spreads per-image progress over [start, start+span]
	itemProgress := func(start, span float64, label string) func(done, total int) {
		return func(done, total int) {
			progress := start + span*float64(done)/float64(total)
			if err := wctx.Report(progress, fmt.Sprintf("%s... %d/%d", label, done, total)); err != nil {
				log.Debug("Progress not recorded", logging.Err(err))
			}
		}
	}

	// Step 1: Save upload
	if err := step(StageUpload, 3, "Saving uploaded file..."); err != nil {
		return nil, err
	}
	payloadPath, err := w.files.SaveUpload(jobID, wctx.Upload.Filename, wctx.Upload.Payload)
	if err != nil {
		return nil, stageError(StageUpload, err)
	}

	// Step 2: Extract and analyze
	if err := step(StageIngest, 10, "Extracting files..."); err != nil {
		return nil, err
	}
	start := time.Now()
	ds, err := w.ingestor.Ingest(ctx, payloadPath, w.files.ExtractDir(jobID))
	if err != nil {
		return nil, stageError(StageIngest, err)
	}
	w.metrics.ObserveStage(StageIngest, start)
	w.metrics.ImagesIngested.Add(float64(ds.Summary.TotalImages))

	summary := ds.Summary
	if err := wctx.Update(jobs.UpdateRequest{
		Progress: jobs.Ptr(15.0),
		Message: jobs.Ptr(fmt.Sprintf("Found %s images (%s)",
			humanize.Comma(int64(summary.TotalImages)),
			humanize.IBytes(uint64(summary.TotalSizeMB*1024*1024)))),
		Summary: &summary,
	}); err != nil {
		return nil, stageError(StageIngest, err)
	}
	log.Info("Dataset ingested",
		logging.F("images", summary.TotalImages),
		logging.F("size_mb", summary.TotalSizeMB),
		logging.F("formats", summary.Formats))

	if err := step(StageDedupe, 20, fmt.Sprintf("Starting %s cleaning...", p.Mode)); err != nil {
		return nil, err
	}

	// Step 3: Remove duplicates
	images := ds.Images
	duplicates := 0
	if p.RemoveDuplicates {
		if err := step(StageDedupe, 25, "Removing duplicates..."); err != nil {
			return nil, err
		}
		start = time.Now()
		res, err := w.deduper.Run(ctx, images, itemProgress(25, 20, "Removing duplicates"))
		if err != nil {
			return nil, stageError(StageDedupe, err)
		}
		w.metrics.ObserveStage(StageDedupe, start)
		images, duplicates = res.Unique, res.DuplicatesRemoved
	}

	// Step 4: Quality filtering
	if err := step(StageQuality, 50, fmt.Sprintf("Quality check (%s mode)...", p.Mode)); err != nil {
		return nil, err
	}
	start = time.Now()
	qres, err := quality.New(p, log).Run(ctx, images, itemProgress(50, 20, "Quality check"))
	if err != nil {
		return nil, stageError(StageQuality, err)
	}
	w.metrics.ObserveStage(StageQuality, start)
	images = qres.Kept

	// Step 5: Standardize
	if err := step(StageStandardize, 75, "Standardizing images..."); err != nil {
		return nil, err
	}
	start = time.Now()
	outputDir := w.files.OutputDir(jobID)
	sres, err := standardize.New(p, log).Run(ctx, images, outputDir, itemProgress(75, 10, "Processing"))
	if err != nil {
		return nil, stageError(StageStandardize, err)
	}
	w.metrics.ObserveStage(StageStandardize, start)

	// Step 6: Package
	if err := step(StagePackage, 90, "Creating download package..."); err != nil {
		return nil, err
	}
	start = time.Now()
	archivePath := w.files.ArchivePath(jobID)
	finalCount, err := w.packager.Package(ctx, outputDir, archivePath)
	if err != nil {
		return nil, stageError(StagePackage, err)
	}
	w.metrics.ObserveStage(StagePackage, start)

	// Step 7: Finalize
	if err := step(StageFinalize, 95, "Finalizing..."); err != nil {
		return nil, err
	}
	if summary.TotalImages == 0 {
		return nil, stageError(StageFinalize, fmt.Errorf("%w: dataset has no images", ErrStepFailed))
	}

	original := summary.TotalImages
	result := &WorkflowResult{
		Summary:     summary,
		ArchivePath: archivePath,
	}
	result.Result.OriginalCount = original
	result.Result.DuplicatesRemoved = duplicates
	result.Result.LowQualityRemoved = qres.LowQualityRemoved
	result.Result.FinalCount = finalCount
	result.Result.RetentionRate = roundRate(float64(finalCount) / float64(original) * 100)
	result.Result.CleaningRate = roundRate(float64(original-finalCount) / float64(original) * 100)
	result.Result.QualityMode = p.Mode

	log.Info("Cleaning workflow completed",
		logging.F("original", original),
		logging.F("duplicates_removed", duplicates),
		logging.F("low_quality_removed", qres.LowQualityRemoved),
		logging.F("standardize_failures", len(sres.Failures)),
		logging.F("final_count", finalCount))
	return result, nil
}

// roundRate rounds a percentage to one decimal
func roundRate(v float64) float64 {
	return math.Round(v*10) / 10
}
