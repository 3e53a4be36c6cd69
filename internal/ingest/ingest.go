// Package ingest validates an uploaded payload, unpacks it into a job's
// working directory and summarizes the images it contains.
package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// Config bounds what an upload may expand into
type Config struct {
	MaxUploadBytes  int64
	MaxEntries      int
	ExpansionFactor int64
}

// WithDefaults fills in default values for optional fields
func (c *Config) WithDefaults() {
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 1024 * 1024 * 1024
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 10000
	}
	if c.ExpansionFactor == 0 {
		c.ExpansionFactor = 10
	}
}

// Dataset is the validated image set of one job
type Dataset struct {
	Summary pipeline.DatasetSummary

	// Images in traversal order; later stages keep this order
	Images []string

	// Skipped lists candidate files that did not decode
	Skipped []imagefmt.ItemError
}

// Ingestor unpacks and analyzes uploads
type Ingestor struct {
	cfg Config
	log logging.Logger
}

// New creates an Ingestor
func New(cfg Config, log logging.Logger) *Ingestor {
	cfg.WithDefaults()
	return &Ingestor{cfg: cfg, log: log}
}

// Ingest extracts payloadPath into extractDir and analyzes the result
func (in *Ingestor) Ingest(ctx context.Context, payloadPath, extractDir string) (*Dataset, error) {
	if err := in.Extract(ctx, payloadPath, extractDir); err != nil {
		return nil, err
	}
	return in.Analyze(ctx, extractDir)
}

// Extract unpacks an archive, or copies a single image, into extractDir
func (in *Ingestor) Extract(ctx context.Context, payloadPath, extractDir string) error {
	info, err := os.Stat(payloadPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyPayload, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return ErrEmptyPayload
	}
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	switch {
	case imagefmt.IsArchive(payloadPath):
		return in.extractZip(ctx, payloadPath, extractDir)
	case imagefmt.IsSupported(payloadPath):
		dest := filepath.Join(extractDir, filepath.Base(payloadPath))
		if err := copyFile(payloadPath, dest); err != nil {
			return fmt.Errorf("failed to copy image: %w", err)
		}
		return nil
	default:
		return ErrUnsupportedType
	}
}

// Analyze walks dir in lexical order and keeps files that decode to a
// positive width and height
func (in *Ingestor) Analyze(ctx context.Context, dir string) (*Dataset, error) {
	var (
		ds         Dataset
		formats    = make(map[string]struct{})
		totalBytes int64
		sumW, sumH int64
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !imagefmt.IsSupported(d.Name()) {
			return nil
		}

		skip := func(cause error) error {
			in.log.Warn("Skipping invalid image", logging.F("path", path), logging.Err(cause))
			ds.Skipped = append(ds.Skipped, imagefmt.ItemError{Path: path, Err: cause})
			return nil
		}

		if !d.Type().IsRegular() {
			return skip(fmt.Errorf("not a regular file"))
		}
		cfg, _, err := imagefmt.DecodeConfig(path)
		if err != nil {
			return skip(err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return skip(fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
		}
		info, err := d.Info()
		if err != nil {
			return skip(err)
		}

		ds.Images = append(ds.Images, path)
		formats[imagefmt.Ext(path)] = struct{}{}
		totalBytes += info.Size()
		sumW += int64(cfg.Width)
		sumH += int64(cfg.Height)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze dataset: %w", err)
	}

	if len(ds.Images) == 0 {
		return nil, ErrNoValidImages
	}

	n := float64(len(ds.Images))
	ds.Summary = pipeline.DatasetSummary{
		TotalImages: len(ds.Images),
		TotalSizeMB: math.Round(float64(totalBytes)/(1024*1024)*100) / 100,
		Formats:     make([]string, 0, len(formats)),
		AvgResolution: &pipeline.Size{
			Width:  int(math.Round(float64(sumW) / n)),
			Height: int(math.Round(float64(sumH) / n)),
		},
	}
	for ext := range formats {
		ds.Summary.Formats = append(ds.Summary.Formats, ext)
	}
	sort.Strings(ds.Summary.Formats)

	in.log.Debug("Dataset analyzed",
		logging.F("images", ds.Summary.TotalImages),
		logging.F("skipped", len(ds.Skipped)),
		logging.F("size_mb", ds.Summary.TotalSizeMB))
	return &ds, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
