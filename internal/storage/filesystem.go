package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Workspace implements Layout on the local filesystem
type Workspace struct {
	uploadDir    string
	processedDir string
}

// NewWorkspace creates the upload and processed roots if needed
func NewWorkspace(uploadDir, processedDir string) (*Workspace, error) {
	for _, dir := range []string{uploadDir, processedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Workspace{
		uploadDir:    uploadDir,
		processedDir: processedDir,
	}, nil
}

func (w *Workspace) JobDir(jobID string) string {
	return filepath.Join(w.uploadDir, jobID)
}

func (w *Workspace) ExtractDir(jobID string) string {
	return filepath.Join(w.JobDir(jobID), "extracted")
}

func (w *Workspace) OutputDir(jobID string) string {
	return filepath.Join(w.processedDir, jobID)
}

func (w *Workspace) ArchivePath(jobID string) string {
	return filepath.Join(w.processedDir, jobID+"_cleaned.zip")
}

// SaveUpload writes the raw payload into the job directory under a sanitized name
func (w *Workspace) SaveUpload(jobID, filename string, data []byte) (string, error) {
	if err := validJobID(jobID); err != nil {
		return "", err
	}
	jobDir := w.JobDir(jobID)
	if err := os.MkdirAll(w.ExtractDir(jobID), 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	path, err := SafeJoin(jobDir, SanitizeFilename(filename))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

// Cleanup removes every file the job owns. Missing paths are not an error.
func (w *Workspace) Cleanup(jobID string) error {
	if err := validJobID(jobID); err != nil {
		return err
	}

	var errs []error
	for _, dir := range []string{w.JobDir(jobID), w.OutputDir(jobID)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", dir, err))
		}
	}
	archive := w.ArchivePath(jobID)
	for _, path := range []string{archive, archive + ".tmp"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether the job has anything left on disk
func (w *Workspace) Exists(jobID string) (bool, error) {
	for _, path := range []string{w.JobDir(jobID), w.OutputDir(jobID), w.ArchivePath(jobID)} {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to stat file: %w", err)
		}
	}
	return false, nil
}

// Usage sums file sizes under both roots
func (w *Workspace) Usage() (Usage, error) {
	upload, err := dirSize(w.uploadDir)
	if err != nil {
		return Usage{}, err
	}
	processed, err := dirSize(w.processedDir)
	if err != nil {
		return Usage{}, err
	}
	return Usage{UploadBytes: upload, ProcessedBytes: processed}, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Jobs may be removed while we walk
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", root, err)
	}
	return total, nil
}

// Job ids become directory names, so anything path-like is refused
func validJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || filepath.Base(jobID) != jobID {
		return fmt.Errorf("%w: job id %q", ErrPathTraversal, jobID)
	}
	return nil
}
