// Package quality rejects images that are too small, stretched, blurry, or
// badly exposed.
package quality

import (
	"context"
	"fmt"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// Fixed geometry limits
const (
	MinSide        = 64
	MaxAspectRatio = 10.0
)

// Reason names why an image was rejected
type Reason string

// Reason constants
const (
	ReasonTiny       Reason = "tiny"
	ReasonStretched  Reason = "stretched"
	ReasonBlurry     Reason = "blurry"
	ReasonDark       Reason = "too_dark"
	ReasonBright     Reason = "too_bright"
	ReasonUnreadable Reason = "unreadable"
)

// ProgressFunc is called after each image with the number processed so far
type ProgressFunc func(done, total int)

// Result of a filtering pass
type Result struct {
	Kept              []string
	LowQualityRemoved int
	Reasons           map[Reason]int
	Failures          []imagefmt.ItemError
}

// Filter applies a cleaning policy's quality checks
type Filter struct {
	policy pipeline.CleaningPolicy
	log    logging.Logger
}

// New creates a Filter for policy
func New(policy pipeline.CleaningPolicy, log logging.Logger) *Filter {
	return &Filter{policy: policy, log: log}
}

// Evaluate runs the checks in order and returns the first failing reason,
// or "" when the image is kept. A non-nil error always comes with
// ReasonUnreadable.
func (f *Filter) Evaluate(path string) (Reason, error) {
	cfg, _, err := imagefmt.DecodeConfig(path)
	if err != nil {
		return ReasonUnreadable, err
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		return ReasonUnreadable, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}

	if f.policy.RemoveTiny && (w < MinSide || h < MinSide) {
		return ReasonTiny, nil
	}
	if f.policy.RemoveStretched {
		long, short := max(w, h), min(w, h)
		if float64(long)/float64(short) > MaxAspectRatio {
			return ReasonStretched, nil
		}
	}

	if !f.policy.CheckBlur && !f.policy.CheckBrightness {
		return "", nil
	}

	img, err := imagefmt.Open(path)
	if err != nil {
		return ReasonUnreadable, err
	}
	luma := ToLuma(img)

	if f.policy.CheckBlur && LaplacianVariance(luma) < f.policy.BlurThreshold {
		return ReasonBlurry, nil
	}
	if f.policy.CheckBrightness {
		mean := MeanBrightness(luma)
		if mean < f.policy.MinBrightness {
			return ReasonDark, nil
		}
		if mean > f.policy.MaxBrightness {
			return ReasonBright, nil
		}
	}
	return "", nil
}

// Run filters images in order
func (f *Filter) Run(ctx context.Context, images []string, progress ProgressFunc) (*Result, error) {
	res := &Result{
		Kept:    make([]string, 0, len(images)),
		Reasons: make(map[Reason]int),
	}

	for i, path := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reason, err := f.Evaluate(path)
		switch {
		case err != nil:
			f.log.Warn("Could not analyze image", logging.F("path", path), logging.Err(err))
			res.Failures = append(res.Failures, imagefmt.ItemError{Path: path, Err: err})
			fallthrough
		case reason != "":
			res.LowQualityRemoved++
			res.Reasons[reason]++
		default:
			res.Kept = append(res.Kept, path)
		}

		if progress != nil {
			progress(i+1, len(images))
		}
	}

	f.log.Info("Quality filtering complete",
		logging.F("kept", len(res.Kept)),
		logging.F("removed", res.LowQualityRemoved),
		logging.F("mode", string(f.policy.Mode)))
	return res, nil
}
