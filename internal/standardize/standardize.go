// Package standardize rewrites kept images as opaque RGB files, optionally
// resized and converted to a single output format.
package standardize

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// ProgressFunc is called after each image with the number processed so far
type ProgressFunc func(done, total int)

// Result of a standardization pass
type Result struct {
	// Written holds output paths in input order
	Written  []string
	Failures []imagefmt.ItemError
}

// Standardizer applies the output part of a cleaning policy
type Standardizer struct {
	policy pipeline.CleaningPolicy
	log    logging.Logger
}

// New creates a Standardizer for policy
func New(policy pipeline.CleaningPolicy, log logging.Logger) *Standardizer {
	return &Standardizer{policy: policy, log: log}
}

// Run writes every image into outputDir. Images that fail are skipped.
func (s *Standardizer) Run(ctx context.Context, images []string, outputDir string, progress ProgressFunc) (*Result, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res := &Result{Written: make([]string, 0, len(images))}
	used := make(map[string]struct{}, len(images))

	for i, path := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := s.processImage(path, outputDir, used)
		if err != nil {
			s.log.Warn("Failed to standardize image", logging.F("path", path), logging.Err(err))
			res.Failures = append(res.Failures, imagefmt.ItemError{Path: path, Err: err})
		} else {
			res.Written = append(res.Written, out)
		}

		if progress != nil {
			progress(i+1, len(images))
		}
	}

	s.log.Info("Standardization complete",
		logging.F("written", len(res.Written)),
		logging.F("failed", len(res.Failures)))
	return res, nil
}

func (s *Standardizer) processImage(path, outputDir string, used map[string]struct{}) (string, error) {
	format, ext, err := s.outputFormat(path)
	if err != nil {
		return "", err
	}

	src, err := imagefmt.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	var img image.Image = Opaque(src)
	if size := s.policy.ResizeTarget; size != nil {
		img = imaging.Resize(img, size.Width, size.Height, imaging.Lanczos)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := uniqueName(stem, ext, used)
	dest := filepath.Join(outputDir, name)
	if err := writeAtomic(dest, img, format); err != nil {
		return "", err
	}
	used[name] = struct{}{}
	return dest, nil
}

// outputFormat picks the encoder and file extension for path
func (s *Standardizer) outputFormat(path string) (pipeline.ImageFormat, string, error) {
	if s.policy.NormalizeFormat {
		return s.policy.TargetFormat, imagefmt.ExtensionFor(s.policy.TargetFormat), nil
	}
	format, ok := imagefmt.FormatForExt(path)
	if !ok {
		return "", "", fmt.Errorf("unsupported source format %q", filepath.Ext(path))
	}
	return format, filepath.Ext(path), nil
}

// Opaque copies img into an NRGBA image with every alpha set to 255. Color
// channels are kept as stored, not composited over a background.
func Opaque(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// uniqueName returns stem+ext, or stem_N+ext for the smallest N not yet used
func uniqueName(stem, ext string, used map[string]struct{}) string {
	name := stem + ext
	for n := 1; ; n++ {
		if _, taken := used[name]; !taken {
			return name
		}
		name = stem + "_" + strconv.Itoa(n) + ext
	}
}

func writeAtomic(dest string, img image.Image, format pipeline.ImageFormat) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".standardize-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := imagefmt.Encode(tmp, img, format); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish image: %w", err)
	}
	return nil
}
