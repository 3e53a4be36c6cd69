package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tendant/simple-dataset-cleaner/internal/policy"
	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// cleanFlags are the clean command's cleaning options as typed on the command line
type cleanFlags struct {
	mode          string
	blurThreshold float64
	minBrightness float64
	maxBrightness float64

	noDedupe          bool
	keepTiny          bool
	keepStretched     bool
	noBlurCheck       bool
	noBrightnessCheck bool

	resize     string
	format     string
	keepFormat bool
}

var customFlags = []string{"blur-threshold", "min-brightness", "max-brightness"}

// toOptions maps the flags onto cleaning options. changed reports whether a
// flag was set explicitly.
func (f cleanFlags) toOptions(changed func(string) bool) (pipeline.CleaningOptions, error) {
	opts := policy.DefaultOptions()
	opts.Mode = f.mode
	opts.RemoveDuplicates = !f.noDedupe
	opts.RemoveTiny = !f.keepTiny
	opts.RemoveStretched = !f.keepStretched
	opts.CheckBlur = !f.noBlurCheck
	opts.CheckBrightness = !f.noBrightnessCheck
	opts.NormalizeFormat = !f.keepFormat
	opts.TargetFormat = f.format

	custom := strings.EqualFold(strings.TrimSpace(f.mode), string(pipeline.ModeCustom))
	for _, name := range customFlags {
		if changed(name) && !custom {
			return pipeline.CleaningOptions{}, fmt.Errorf("--%s requires --mode custom", name)
		}
	}
	if custom {
		if changed("blur-threshold") {
			opts.CustomBlurThreshold = &f.blurThreshold
		}
		if changed("min-brightness") {
			opts.CustomMinBrightness = &f.minBrightness
		}
		if changed("max-brightness") {
			opts.CustomMaxBrightness = &f.maxBrightness
		}
	}

	if f.resize != "" {
		size, err := parseSize(f.resize)
		if err != nil {
			return pipeline.CleaningOptions{}, err
		}
		opts.Resize = &size
	}
	return opts, nil
}

// parseSize parses WIDTHxHEIGHT, e.g. 224x224
func parseSize(s string) (pipeline.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return pipeline.Size{}, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return pipeline.Size{}, fmt.Errorf("invalid size %q, expected positive WIDTHxHEIGHT", s)
	}
	return pipeline.Size{Width: width, Height: height}, nil
}
