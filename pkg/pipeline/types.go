package pipeline

import (
	"fmt"
	"time"
)

// QualityMode selects the strictness preset used by quality filtering
type QualityMode string

// QualityMode constants
const (
	ModeStrict   QualityMode = "strict"
	ModeBalanced QualityMode = "balanced"
	ModeLenient  QualityMode = "lenient"
	ModeCustom   QualityMode = "custom"
)

// ImageFormat is an output container format
type ImageFormat string

// ImageFormat constants (match the names accepted on the wire)
const (
	FormatJPEG ImageFormat = "JPEG"
	FormatPNG  ImageFormat = "PNG"
	FormatWebP ImageFormat = "WebP"
	FormatBMP  ImageFormat = "BMP"
	FormatTIFF ImageFormat = "TIFF"
)

// Size is a width/height pair in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// CleaningOptions is what a caller asks for. It is resolved into a CleaningPolicy
// before a job is created.
type CleaningOptions struct {
	Mode string `json:"quality_mode"`

	// Only read when Mode is "custom"
	CustomBlurThreshold *float64 `json:"custom_blur_threshold,omitempty"`
	CustomMinBrightness *float64 `json:"custom_min_brightness,omitempty"`
	CustomMaxBrightness *float64 `json:"custom_max_brightness,omitempty"`

	RemoveDuplicates bool `json:"remove_duplicates"`
	RemoveTiny       bool `json:"remove_tiny_images"`
	RemoveStretched  bool `json:"remove_stretched_images"`
	CheckBlur        bool `json:"check_blur"`
	CheckBrightness  bool `json:"check_brightness"`

	Resize          *Size  `json:"target_size,omitempty"`
	NormalizeFormat bool   `json:"normalize_format"`
	TargetFormat    string `json:"target_format"`
}

// CleaningPolicy holds the concrete thresholds a job runs with
type CleaningPolicy struct {
	Mode             QualityMode `json:"quality_mode"`
	BlurThreshold    float64     `json:"blur_threshold"`
	MinBrightness    float64     `json:"min_brightness"`
	MaxBrightness    float64     `json:"max_brightness"`
	RemoveDuplicates bool        `json:"remove_duplicates"`
	RemoveTiny       bool        `json:"remove_tiny_images"`
	RemoveStretched  bool        `json:"remove_stretched_images"`
	CheckBlur        bool        `json:"check_blur"`
	CheckBrightness  bool        `json:"check_brightness"`
	ResizeTarget     *Size       `json:"target_size,omitempty"`
	NormalizeFormat  bool        `json:"normalize_format"`
	TargetFormat     ImageFormat `json:"target_format"`
}

// Clone returns a copy that shares no memory with p
func (p CleaningPolicy) Clone() CleaningPolicy {
	if p.ResizeTarget != nil {
		size := *p.ResizeTarget
		p.ResizeTarget = &size
	}
	return p
}

// DatasetSummary describes the ingested dataset
type DatasetSummary struct {
	TotalImages   int      `json:"total_images"`
	TotalSizeMB   float64  `json:"total_size_mb"`
	Formats       []string `json:"formats"`
	AvgResolution *Size    `json:"avg_resolution,omitempty"`
}

// Clone returns a deep copy of s
func (s *DatasetSummary) Clone() *DatasetSummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Formats = append([]string(nil), s.Formats...)
	if s.AvgResolution != nil {
		size := *s.AvgResolution
		out.AvgResolution = &size
	}
	return &out
}

// CleaningResult contains the outcome counters of a completed job
type CleaningResult struct {
	OriginalCount     int         `json:"original_count"`
	DuplicatesRemoved int         `json:"duplicates_removed"`
	LowQualityRemoved int         `json:"low_quality_removed"`
	FinalCount        int         `json:"final_count"`
	RetentionRate     float64     `json:"retention_rate"`
	CleaningRate      float64     `json:"cleaning_rate"`
	QualityMode       QualityMode `json:"quality_mode"`
}

// JobStatus is the lifecycle state of a job
type JobStatus string

// JobStatus constants
const (
	StatusUploaded   JobStatus = "uploaded"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of a cleaning job
type Job struct {
	ID                string          `json:"job_id"`
	Status            JobStatus       `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Policy            CleaningPolicy  `json:"cleaning_options"`
	Progress          float64         `json:"progress"`
	Message           string          `json:"message"`
	Summary           *DatasetSummary `json:"dataset_info,omitempty"`
	Result            *CleaningResult `json:"result,omitempty"`
	ResultArchivePath string          `json:"result_archive_path,omitempty"`
}

// Clone returns a deep copy of j
func (j *Job) Clone() Job {
	out := *j
	out.Policy = j.Policy.Clone()
	out.Summary = j.Summary.Clone()
	if j.Result != nil {
		result := *j.Result
		out.Result = &result
	}
	return out
}
