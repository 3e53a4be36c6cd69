package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
	"github.com/tendant/simple-dataset-cleaner/pkg/runner"
)

func newCleanCommand(g *globalFlags) *cobra.Command {
	var (
		f            cleanFlags
		output       string
		workDir      string
		metricsFile  string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clean <file>",
		Short: "Clean a zip archive or single image and save the cleaned archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			opts, err := f.toOptions(cmd.Flags().Changed)
			if err != nil {
				return err
			}

			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", path)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			payload, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			if output == "" {
				stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				output = stem + "_cleaned.zip"
			}

			if workDir == "" {
				tmp, err := os.MkdirTemp("", "dataset-cleaner-*")
				if err != nil {
					return fmt.Errorf("create work dir: %w", err)
				}
				defer os.RemoveAll(tmp)
				workDir = tmp
			}

			reg := prometheus.NewRegistry()
			if metricsFile != "" {
				defer func() {
					if werr := prometheus.WriteToTextfile(metricsFile, reg); werr != nil {
						err = errors.Join(err, fmt.Errorf("write metrics: %w", werr))
					}
				}()
			}

			cfg, err := runner.ConfigFromEnv()
			if err != nil {
				return err
			}
			cfg.UploadDir = filepath.Join(workDir, "uploads")
			cfg.ProcessedDir = filepath.Join(workDir, "processed")
			cfg.LogLevel = g.logLevel
			cfg.LogFormat = g.logFormat
			cfg.LogOutput = cmd.ErrOrStderr()
			cfg.MetricsRegisterer = reg
			cfg.DisableSweeper = true

			r, err := runner.New(cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = r.Shutdown(ctx)
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cleaning %s (%s) in %s mode\n", filepath.Base(path), humanize.IBytes(uint64(len(payload))), opts.Mode)

			id, err := r.Submit(cmd.Context(), filepath.Base(path), payload, opts)
			if err != nil {
				return err
			}

			job, err := waitForJob(cmd.Context(), r, id, pollInterval, out)
			if err != nil {
				return err
			}
			if job.Status == pipeline.StatusFailed {
				return fmt.Errorf("cleaning failed: %s", job.Message)
			}

			fmt.Fprintln(out, renderResult(job))

			archive, err := r.ArchivePath(id)
			if err != nil {
				return err
			}
			written, err := copyFile(archive, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved cleaned dataset to %s (%s)\n", output, humanize.IBytes(uint64(written)))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.mode, "mode", string(pipeline.ModeBalanced), "Quality mode (strict, balanced, lenient, custom)")
	flags.Float64Var(&f.blurThreshold, "blur-threshold", 0, "Custom mode: minimum Laplacian variance (10-1000)")
	flags.Float64Var(&f.minBrightness, "min-brightness", 0, "Custom mode: minimum mean brightness (0-50)")
	flags.Float64Var(&f.maxBrightness, "max-brightness", 0, "Custom mode: maximum mean brightness (200-255)")
	flags.BoolVar(&f.noDedupe, "no-dedupe", false, "Keep perceptual duplicates")
	flags.BoolVar(&f.keepTiny, "keep-tiny", false, "Keep images smaller than 64px on a side")
	flags.BoolVar(&f.keepStretched, "keep-stretched", false, "Keep images with an aspect ratio above 10:1")
	flags.BoolVar(&f.noBlurCheck, "no-blur-check", false, "Skip the blur check")
	flags.BoolVar(&f.noBrightnessCheck, "no-brightness-check", false, "Skip the brightness check")
	flags.StringVar(&f.resize, "resize", "", "Resize every image to WIDTHxHEIGHT")
	flags.StringVar(&f.format, "format", string(pipeline.FormatJPEG), "Output format (JPEG, PNG, WebP, BMP, TIFF)")
	flags.BoolVar(&f.keepFormat, "keep-format", false, "Keep each image's original format")
	flags.StringVarP(&output, "output", "o", "", "Where to save the cleaned archive (default <name>_cleaned.zip)")
	flags.StringVar(&workDir, "work-dir", "", "Directory for intermediate files (default a temporary directory)")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write prometheus metrics in text format to this file on exit")
	flags.DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "How often to check job progress")

	return cmd
}

// waitForJob polls until the job is terminal, printing each new message. If
// ctx ends first the job is cancelled.
func waitForJob(ctx context.Context, r *runner.Runner, id string, interval time.Duration, out io.Writer) (pipeline.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		job, err := r.Job(id)
		if err != nil {
			return pipeline.Job{}, err
		}
		if job.Message != last {
			fmt.Fprintf(out, "[%3.0f%%] %s\n", job.Progress, job.Message)
			last = job.Message
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			if err := r.Delete(id); err != nil && !errors.Is(err, pipeline.ErrJobNotFound) {
				return pipeline.Job{}, errors.Join(ctx.Err(), err)
			}
			return pipeline.Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func renderResult(job pipeline.Job) string {
	res := job.Result
	rows := [][]string{
		{"Quality mode", string(res.QualityMode)},
		{"Original images", humanize.Comma(int64(res.OriginalCount))},
		{"Duplicates removed", humanize.Comma(int64(res.DuplicatesRemoved))},
		{"Low quality removed", humanize.Comma(int64(res.LowQualityRemoved))},
		{"Final images", humanize.Comma(int64(res.FinalCount))},
		{"Retention rate", fmt.Sprintf("%.1f%%", res.RetentionRate)},
		{"Cleaning rate", fmt.Sprintf("%.1f%%", res.CleaningRate)},
	}
	if s := job.Summary; s != nil {
		rows = append(rows,
			[]string{"Input size", humanize.IBytes(uint64(s.TotalSizeMB * 1024 * 1024))},
			[]string{"Input formats", strings.Join(s.Formats, ", ")},
		)
		if s.AvgResolution != nil {
			rows = append(rows, []string{"Average resolution", s.AvgResolution.String()})
		}
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("copy archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close output: %w", err)
	}
	return n, nil
}
