// Package policy turns caller cleaning options into concrete quality thresholds.
package policy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// ErrInvalidPolicy is returned for options that cannot be resolved
var ErrInvalidPolicy = fmt.Errorf("%w: invalid cleaning policy", pipeline.ErrValidation)

// Allowed threshold ranges
const (
	MinBlurThreshold = 10.0
	MaxBlurThreshold = 1000.0

	MinBrightnessFloor = 0.0
	MinBrightnessCeil  = 50.0
	MaxBrightnessFloor = 200.0
	MaxBrightnessCeil  = 255.0

	MaxResizeSide = 10000
)

// Preset describes one named strictness level
type Preset struct {
	Mode              pipeline.QualityMode
	BlurThreshold     float64
	MinBrightness     float64
	MaxBrightness     float64
	Description       string
	ExpectedRetention string
}

var presets = map[pipeline.QualityMode]Preset{
	pipeline.ModeStrict: {
		Mode:              pipeline.ModeStrict,
		BlurThreshold:     500,
		MinBrightness:     10,
		MaxBrightness:     245,
		Description:       "High-precision cleaning for medical/scientific imaging",
		ExpectedRetention: "75-85%",
	},
	pipeline.ModeBalanced: {
		Mode:              pipeline.ModeBalanced,
		BlurThreshold:     100,
		MinBrightness:     5,
		MaxBrightness:     250,
		Description:       "Balanced approach for general machine learning datasets",
		ExpectedRetention: "85-95%",
	},
	pipeline.ModeLenient: {
		Mode:              pipeline.ModeLenient,
		BlurThreshold:     50,
		MinBrightness:     2,
		MaxBrightness:     253,
		Description:       "Preserve maximum data, remove only clearly corrupted images",
		ExpectedRetention: "95-99%",
	},
}

var customPreset = Preset{
	Mode:              pipeline.ModeCustom,
	Description:       "Uses your custom quality parameters for fine-tuned control",
	ExpectedRetention: "Variable",
}

// Presets returns the catalogue in strictness order, custom last
func Presets() []Preset {
	return []Preset{
		presets[pipeline.ModeStrict],
		presets[pipeline.ModeBalanced],
		presets[pipeline.ModeLenient],
		customPreset,
	}
}

// Lookup returns the catalogue entry for mode
func Lookup(mode pipeline.QualityMode) (Preset, bool) {
	if mode == pipeline.ModeCustom {
		return customPreset, true
	}
	p, ok := presets[mode]
	return p, ok
}

// DefaultOptions returns the options used when a caller does not override anything
func DefaultOptions() pipeline.CleaningOptions {
	return pipeline.CleaningOptions{
		Mode:             string(pipeline.ModeBalanced),
		RemoveDuplicates: true,
		RemoveTiny:       true,
		RemoveStretched:  true,
		CheckBlur:        true,
		CheckBrightness:  true,
		NormalizeFormat:  true,
		TargetFormat:     string(pipeline.FormatJPEG),
	}
}

// Resolve maps options onto a validated policy
func Resolve(opts pipeline.CleaningOptions) (pipeline.CleaningPolicy, error) {
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return pipeline.CleaningPolicy{}, err
	}
	format, err := ParseFormat(opts.TargetFormat)
	if err != nil {
		return pipeline.CleaningPolicy{}, err
	}

	p := pipeline.CleaningPolicy{
		Mode:             mode,
		RemoveDuplicates: opts.RemoveDuplicates,
		RemoveTiny:       opts.RemoveTiny,
		RemoveStretched:  opts.RemoveStretched,
		CheckBlur:        opts.CheckBlur,
		CheckBrightness:  opts.CheckBrightness,
		NormalizeFormat:  opts.NormalizeFormat,
		TargetFormat:     format,
	}
	if opts.Resize != nil {
		size := *opts.Resize
		p.ResizeTarget = &size
	}

	if mode == pipeline.ModeCustom {
		if opts.CustomBlurThreshold == nil || opts.CustomMinBrightness == nil || opts.CustomMaxBrightness == nil {
			return pipeline.CleaningPolicy{}, fmt.Errorf("%w: custom mode requires blur threshold, min brightness and max brightness", ErrInvalidPolicy)
		}
		p.BlurThreshold = *opts.CustomBlurThreshold
		p.MinBrightness = *opts.CustomMinBrightness
		p.MaxBrightness = *opts.CustomMaxBrightness
	} else {
		preset := presets[mode]
		p.BlurThreshold = preset.BlurThreshold
		p.MinBrightness = preset.MinBrightness
		p.MaxBrightness = preset.MaxBrightness
	}

	if err := Validate(p); err != nil {
		return pipeline.CleaningPolicy{}, err
	}
	return p, nil
}

// Validate checks the policy invariants
func Validate(p pipeline.CleaningPolicy) error {
	var errs []error
	if !inRange(p.BlurThreshold, MinBlurThreshold, MaxBlurThreshold) {
		errs = append(errs, fmt.Errorf("blur threshold %.1f outside [%.0f,%.0f]", p.BlurThreshold, MinBlurThreshold, MaxBlurThreshold))
	}
	if !inRange(p.MinBrightness, MinBrightnessFloor, MinBrightnessCeil) {
		errs = append(errs, fmt.Errorf("min brightness %.1f outside [%.0f,%.0f]", p.MinBrightness, MinBrightnessFloor, MinBrightnessCeil))
	}
	if !inRange(p.MaxBrightness, MaxBrightnessFloor, MaxBrightnessCeil) {
		errs = append(errs, fmt.Errorf("max brightness %.1f outside [%.0f,%.0f]", p.MaxBrightness, MaxBrightnessFloor, MaxBrightnessCeil))
	}
	if !(p.MinBrightness < p.MaxBrightness) {
		errs = append(errs, errors.New("min brightness must be less than max brightness"))
	}
	if r := p.ResizeTarget; r != nil && (r.Width <= 0 || r.Height <= 0 || r.Width > MaxResizeSide || r.Height > MaxResizeSide) {
		errs = append(errs, fmt.Errorf("resize target %s must be within 1..%d on each side", r, MaxResizeSide))
	}
	if _, err := ParseFormat(string(p.TargetFormat)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

// ParseMode accepts a case-insensitive mode name; empty means balanced
func ParseMode(s string) (pipeline.QualityMode, error) {
	if s == "" {
		return pipeline.ModeBalanced, nil
	}
	mode := pipeline.QualityMode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(mode); !ok {
		return "", fmt.Errorf("%w: unknown quality mode %q", ErrInvalidPolicy, s)
	}
	return mode, nil
}

// ParseFormat accepts a case-insensitive format name; empty means JPEG
func ParseFormat(s string) (pipeline.ImageFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "JPEG", "JPG":
		return pipeline.FormatJPEG, nil
	case "PNG":
		return pipeline.FormatPNG, nil
	case "WEBP":
		return pipeline.FormatWebP, nil
	case "BMP":
		return pipeline.FormatBMP, nil
	case "TIFF", "TIF":
		return pipeline.FormatTIFF, nil
	}
	return "", fmt.Errorf("%w: unsupported target format %q (supported: JPEG, PNG, WebP, BMP, TIFF)", ErrInvalidPolicy, s)
}

// inRange is false for NaN and infinities
func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}
