package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxStemRunes = 100

// ErrPathTraversal is returned when a key would resolve outside its base directory
var ErrPathTraversal = errors.New("invalid key: path traversal detected")

// Layout names the per-job locations on disk
type Layout interface {
	// JobDir holds the raw upload and the extracted tree
	JobDir(jobID string) string

	// ExtractDir is where archive contents are unpacked
	ExtractDir(jobID string) string

	// OutputDir receives standardized images
	OutputDir(jobID string) string

	// ArchivePath is the result archive for the job
	ArchivePath(jobID string) string
}

// Usage is the disk space taken by job data
type Usage struct {
	UploadBytes    int64
	ProcessedBytes int64
}

// SafeJoin joins key onto base and fails if the result escapes base
func SafeJoin(base, key string) (string, error) {
	cleanBase := filepath.Clean(base)
	path := filepath.Join(cleanBase, filepath.FromSlash(key))
	rel, err := filepath.Rel(cleanBase, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return path, nil
}

// SanitizeFilename strips directories and shell-hostile characters from an
// uploaded file name
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if utf8.RuneCountInString(stem) > maxStemRunes {
		stem = string([]rune(stem)[:maxStemRunes])
	}
	if stem == "" {
		stem = "upload"
	}
	return stem + ext
}
