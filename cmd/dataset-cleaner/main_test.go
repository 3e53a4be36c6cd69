package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-dataset-cleaner/internal/testsupport"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    pipeline.Size
		wantErr bool
	}{
		{in: "224x224", want: pipeline.Size{Width: 224, Height: 224}},
		{in: "640X480", want: pipeline.Size{Width: 640, Height: 480}},
		{in: " 32x16 ", want: pipeline.Size{Width: 32, Height: 16}},
		{in: "224", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "axb", wantErr: true},
		{in: "-5x5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToOptions(t *testing.T) {
	none := func(string) bool { return false }
	all := func(string) bool { return true }

	opts, err := cleanFlags{mode: "strict", format: "png", noDedupe: true, keepFormat: true, resize: "10x20"}.toOptions(none)
	require.NoError(t, err)
	assert.Equal(t, "strict", opts.Mode)
	assert.False(t, opts.RemoveDuplicates)
	assert.True(t, opts.RemoveTiny)
	assert.False(t, opts.NormalizeFormat)
	assert.Equal(t, "png", opts.TargetFormat)
	assert.Equal(t, &pipeline.Size{Width: 10, Height: 20}, opts.Resize)
	assert.Nil(t, opts.CustomBlurThreshold)

	_, err = cleanFlags{mode: "balanced"}.toOptions(all)
	assert.ErrorContains(t, err, "requires --mode custom")

	opts, err = cleanFlags{mode: "Custom", blurThreshold: 50, minBrightness: 10, maxBrightness: 240}.toOptions(all)
	require.NoError(t, err)
	require.NotNil(t, opts.CustomBlurThreshold)
	assert.Equal(t, 50.0, *opts.CustomBlurThreshold)
	assert.Equal(t, 10.0, *opts.CustomMinBrightness)
	assert.Equal(t, 240.0, *opts.CustomMaxBrightness)

	_, err = cleanFlags{mode: "balanced", resize: "big"}.toOptions(none)
	assert.Error(t, err)
}

func TestModesCommand(t *testing.T) {
	out, err := execute(t, "modes")
	require.NoError(t, err)
	for _, want := range []string{"strict", "balanced", "lenient", "custom", "Variable"} {
		assert.Contains(t, out, want)
	}
}

func TestCleanCommand(t *testing.T) {
	dir := t.TempDir()
	input := testsupport.WriteFile(t, dir, "set.zip", testsupport.Zip(t,
		testsupport.ZipEntry{Name: "a.png", Data: testsupport.NoisePNG(t, 64, 64, 1)},
		testsupport.ZipEntry{Name: "b.png", Data: testsupport.NoisePNG(t, 64, 64, 1)},
		testsupport.ZipEntry{Name: "c.png", Data: testsupport.NoisePNG(t, 64, 64, 2)},
	))
	output := filepath.Join(dir, "out.zip")
	metricsFile := filepath.Join(dir, "metrics.prom")

	out, err := execute(t, "clean", input,
		"--mode", "lenient",
		"--no-blur-check",
		"--no-brightness-check",
		"--format", "png",
		"--output", output,
		"--work-dir", filepath.Join(dir, "work"),
		"--metrics-file", metricsFile,
		"--poll-interval", "5ms",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Dataset cleaned successfully using lenient mode")
	assert.Contains(t, out, "66.7%")
	assert.Equal(t, []string{"a.png", "c.png"}, testsupport.ZipNames(t, output))

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "dataset_cleaner_jobs_finished_total")
}

func TestCleanCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "clean", filepath.Join(dir, "missing.zip"))
	assert.ErrorContains(t, err, "does not exist")

	_, err = execute(t, "clean", dir)
	assert.ErrorContains(t, err, "is a directory")

	bad := testsupport.WriteFile(t, dir, "bad.zip", []byte("not a zip"))
	_, err = execute(t, "clean", bad, "--work-dir", filepath.Join(dir, "work"), "--output", filepath.Join(dir, "o.zip"), "--poll-interval", "5ms")
	assert.ErrorContains(t, err, "cleaning failed")
	assert.NoFileExists(t, filepath.Join(dir, "o.zip"))

	_, err = execute(t, "clean", bad, "--min-brightness", "10")
	assert.ErrorContains(t, err, "requires --mode custom")

	_, err = execute(t, "clean", bad, "--mode", "custom",
		"--blur-threshold", "NaN", "--min-brightness", "5", "--max-brightness", "250",
		"--work-dir", filepath.Join(dir, "work"))
	assert.ErrorIs(t, err, pipeline.ErrValidation)
	assert.ErrorContains(t, err, "blur threshold")

	_, err = execute(t, "clean", bad, "--resize", "100000x100000", "--work-dir", filepath.Join(dir, "work"))
	assert.ErrorIs(t, err, pipeline.ErrValidation)
	assert.ErrorContains(t, err, "resize target")
}
