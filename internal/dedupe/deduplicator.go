// Package dedupe drops perceptual duplicates from a dataset, keeping the
// first image seen for each fingerprint.
package dedupe

import (
	"context"
	"fmt"

	"github.com/corona10/goimagehash"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
)

// Hash grid size; 16x16 gives a 256-bit fingerprint
const hashSize = 16

// ProgressFunc is called after each image with the number processed so far
type ProgressFunc func(done, total int)

// Result of a deduplication pass
type Result struct {
	Unique            []string
	DuplicatesRemoved int
	Failures          []imagefmt.ItemError
}

// Deduplicator removes perceptual duplicates
type Deduplicator struct {
	log logging.Logger
}

// New creates a Deduplicator
func New(log logging.Logger) *Deduplicator {
	return &Deduplicator{log: log}
}

// Fingerprint computes the perceptual hash of the image at path
func Fingerprint(path string) (string, error) {
	img, err := imagefmt.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	hash, err := goimagehash.ExtPerceptionHash(img, hashSize, hashSize)
	if err != nil {
		return "", fmt.Errorf("failed to hash image: %w", err)
	}
	return hash.ToString(), nil
}

// Run keeps the first occurrence of every fingerprint in input order.
// Unreadable images are dropped, counted as duplicates and reported in
// Failures.
func (d *Deduplicator) Run(ctx context.Context, images []string, progress ProgressFunc) (*Result, error) {
	tracker := NewTracker()
	res := &Result{Unique: make([]string, 0, len(images))}

	for i, path := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fp, err := Fingerprint(path)
		if err != nil {
			d.log.Warn("Could not fingerprint image", logging.F("path", path), logging.Err(err))
			res.Failures = append(res.Failures, imagefmt.ItemError{Path: path, Err: err})
			res.DuplicatesRemoved++
		} else if first, seen := tracker.Record(fp, path); seen == 1 {
			res.Unique = append(res.Unique, path)
		} else {
			d.log.Debug("Duplicate image",
				logging.F("path", path),
				logging.F("duplicate_of", first),
				logging.F("fingerprint", fp))
			res.DuplicatesRemoved++
		}

		if progress != nil {
			progress(i+1, len(images))
		}
	}

	d.log.Info("Deduplication complete",
		logging.F("unique", len(res.Unique)),
		logging.F("distinct_fingerprints", tracker.Len()),
		logging.F("removed", res.DuplicatesRemoved))
	return res, nil
}
