// Package packager bundles a job's standardized images into its result archive.
package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
)

// Packager writes deterministic zip archives
type Packager struct {
	log logging.Logger
}

// New creates a Packager
func New(log logging.Logger) *Packager {
	return &Packager{log: log}
}

// Package archives every non-zip file under dir into archivePath and returns
// the number of entries. Entries are sorted by relative path and carry no
// timestamps, so equal inputs give byte-identical archives. The archive only
// appears at archivePath once it is complete.
func (p *Packager) Package(ctx context.Context, dir, archivePath string) (int, error) {
	files, err := collect(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list output directory: %w", err)
	}

	tmpPath := archivePath + ".tmp"
	if err := p.write(ctx, dir, files, tmpPath); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to publish archive: %w", err)
	}

	p.log.Info("Result archive written",
		logging.F("path", archivePath),
		logging.F("entries", len(files)))
	return len(files), nil
}

// collect returns slash-separated relative paths in sorted order
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || imagefmt.IsArchive(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (p *Packager) write(ctx context.Context, dir string, files []string, dest string) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, dir, name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &zip.FileHeader{
		Name:   strings.TrimPrefix(name, "/"),
		Method: zip.Deflate,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
