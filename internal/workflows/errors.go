package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-dataset-cleaner/internal/ingest"
	"github.com/tendant/simple-dataset-cleaner/internal/jobs"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

var (
	// ErrShuttingDown is returned by Submit once Shutdown has been called
	ErrShuttingDown = errors.New("runner is shutting down")

	// ErrStepFailed is returned when a workflow step fails without a more specific cause
	ErrStepFailed = errors.New("workflow step failed")
)

// Stage names
const (
	StageUpload      = "upload"
	StageIngest      = "ingest"
	StageDedupe      = "dedupe"
	StageQuality     = "quality"
	StageStandardize = "standardize"
	StagePackage     = "package"
	StageFinalize    = "finalize"
)

// ErrorKind classifies why a stage failed
type ErrorKind string

// ErrorKind constants
const (
	KindValidation ErrorKind = "validation"
	KindIngestion  ErrorKind = "ingestion"
	KindProcessing ErrorKind = "processing"
	KindLifecycle  ErrorKind = "lifecycle"
)

// StageError is a fatal failure of one pipeline stage
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var ingestionErrors = []error{
	ingest.ErrEmptyPayload,
	ingest.ErrCorruptArchive,
	ingest.ErrArchiveTooLarge,
	ingest.ErrTooManyEntries,
	ingest.ErrEmptyExtraction,
	ingest.ErrNoValidImages,
}

// stageError wraps err with its stage and kind. nil stays nil.
func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return KindValidation
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, pipeline.ErrJobNotFound),
		errors.Is(err, jobs.ErrInvalidTransition):
		return KindLifecycle
	}
	for _, target := range ingestionErrors {
		if errors.Is(err, target) {
			return KindIngestion
		}
	}
	return KindProcessing
}

// failureCause is the user facing part of a job failure
func failureCause(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
