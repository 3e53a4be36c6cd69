package ingest

import (
	"errors"
	"fmt"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

var (
	// ErrEmptyPayload is returned when the upload is missing, empty or unreadable
	ErrEmptyPayload = errors.New("uploaded file is empty or unreadable")

	// ErrUnsupportedType is returned for uploads that are neither a zip nor a supported image
	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type, upload a ZIP archive or a JPEG, PNG, BMP, TIFF or WebP image", pipeline.ErrValidation)

	// ErrCorruptArchive is returned when the zip central directory cannot be read
	ErrCorruptArchive = errors.New("corrupted or invalid ZIP file")

	// ErrUnsafePath marks an entry skipped because it would escape the extraction root
	ErrUnsafePath = errors.New("unsafe archive entry path")

	// ErrArchiveTooLarge is returned when uncompressed content exceeds the expansion budget
	ErrArchiveTooLarge = errors.New("ZIP archive too large when uncompressed (potential zip bomb)")

	// ErrTooManyEntries is returned when an archive has more entries than allowed
	ErrTooManyEntries = errors.New("ZIP archive contains too many files")

	// ErrEmptyExtraction is returned when no supported image was extracted
	ErrEmptyExtraction = errors.New("no supported image files found in ZIP archive")

	// ErrNoValidImages is returned when no extracted file decodes as an image
	ErrNoValidImages = errors.New("no valid images found in dataset")
)
