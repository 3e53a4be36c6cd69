package pipeline

import "errors"

var (
	// ErrValidation is returned when a request is rejected before any job work starts
	ErrValidation = errors.New("validation failed")

	// ErrJobNotFound is returned when a job id is not known to the store
	ErrJobNotFound = errors.New("job not found")
)
