package jobs

import "errors"

var (
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrIncompleteResult is returned when completing a job without its result and summary
	ErrIncompleteResult = errors.New("completed job requires result and dataset summary")
)
