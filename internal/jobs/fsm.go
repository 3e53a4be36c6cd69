package jobs

import (
	"fmt"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

var transitions = map[pipeline.JobStatus][]pipeline.JobStatus{
	pipeline.StatusUploaded:   {pipeline.StatusProcessing, pipeline.StatusFailed},
	pipeline.StatusProcessing: {pipeline.StatusCompleted, pipeline.StatusFailed},
}

// ValidateTransition reports whether a job may move from one status to
// another. Staying in a non-terminal status is allowed.
func ValidateTransition(from, to pipeline.JobStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: job is already %s", ErrInvalidTransition, from)
	}
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
