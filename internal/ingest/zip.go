package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-dataset-cleaner/internal/imagefmt"
	"github.com/tendant/simple-dataset-cleaner/internal/logging"
	"github.com/tendant/simple-dataset-cleaner/internal/storage"
)

// extractZip runs every size, count and path check on the central directory
// before the first byte is written, then extracts directories and images only.
func (in *Ingestor) extractZip(ctx context.Context, path, extractDir string) error {
	zr, err := zip.OpenReader(path)
	if zr == nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer zr.Close()
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	budget := in.cfg.ExpansionFactor * in.cfg.MaxUploadBytes

	var (
		declared uint64
		entries  []*zip.File
	)
	for _, f := range zr.File {
		if err := checkEntryName(f.Name); err != nil {
			in.log.Warn("Skipping unsafe path", logging.F("entry", f.Name), logging.Err(err))
			continue
		}
		declared += f.UncompressedSize64
		if declared > uint64(budget) {
			return ErrArchiveTooLarge
		}
		entries = append(entries, f)
		if len(entries) > in.cfg.MaxEntries {
			return ErrTooManyEntries
		}
	}

	remaining := budget
	extracted := 0
	for _, f := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		isDir := f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/")
		if !isDir && !imagefmt.IsSupported(f.Name) {
			continue
		}

		dest, err := storage.SafeJoin(extractDir, f.Name)
		if err != nil {
			in.log.Warn("Skipping unsafe path", logging.F("entry", f.Name), logging.Err(err))
			continue
		}

		if isDir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				in.log.Warn("Failed to create directory", logging.F("entry", f.Name), logging.Err(err))
			}
			continue
		}

		n, err := writeEntry(f, dest, remaining)
		remaining -= n
		if errors.Is(err, ErrArchiveTooLarge) {
			return err
		}
		if err != nil {
			in.log.Warn("Failed to extract entry", logging.F("entry", f.Name), logging.Err(err))
			continue
		}
		extracted++
	}

	if extracted == 0 {
		return ErrEmptyExtraction
	}
	in.log.Debug("Extracted archive", logging.F("files", extracted))
	return nil
}

// writeEntry copies at most limit bytes; headers can lie about sizes
func writeEntry(f *zip.File, dest string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	closeErr := out.Close()
	if n > limit {
		os.Remove(dest)
		return n, ErrArchiveTooLarge
	}
	if err != nil {
		os.Remove(dest)
		return n, err
	}
	return n, closeErr
}

// checkEntryName rejects absolute names, drive prefixes and ".." segments
func checkEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path", ErrUnsafePath)
	}
	if len(name) >= 2 && name[1] == ':' {
		return fmt.Errorf("%w: volume name", ErrUnsafePath)
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("%w: parent directory segment", ErrUnsafePath)
		}
	}
	return nil
}
