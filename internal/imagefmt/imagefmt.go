// Package imagefmt knows which image files the cleaner accepts and how to
// decode and encode them.
package imagefmt

import (
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
)

// Encoding quality for lossy targets
const (
	JPEGQuality = 95
	WebPQuality = 95
)

var supportedExtensions = map[string]pipeline.ImageFormat{
	".jpg":  pipeline.FormatJPEG,
	".jpeg": pipeline.FormatJPEG,
	".png":  pipeline.FormatPNG,
	".bmp":  pipeline.FormatBMP,
	".tiff": pipeline.FormatTIFF,
	".webp": pipeline.FormatWebP,
}

// SupportedExtensions lists the accepted input extensions
func SupportedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"}
}

// Ext returns the lower-cased extension of name
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsSupported reports whether name has an accepted image extension
func IsSupported(name string) bool {
	_, ok := supportedExtensions[Ext(name)]
	return ok
}

// IsArchive reports whether name looks like a zip container
func IsArchive(name string) bool {
	return Ext(name) == ".zip"
}

// FormatForExt returns the container format implied by a file extension
func FormatForExt(name string) (pipeline.ImageFormat, bool) {
	f, ok := supportedExtensions[Ext(name)]
	return f, ok
}

// ExtensionFor returns the canonical file extension for an output format
func ExtensionFor(f pipeline.ImageFormat) string {
	switch f {
	case pipeline.FormatPNG:
		return ".png"
	case pipeline.FormatWebP:
		return ".webp"
	case pipeline.FormatBMP:
		return ".bmp"
	case pipeline.FormatTIFF:
		return ".tiff"
	default:
		return ".jpg"
	}
}

// Open decodes the image at path
func Open(path string) (image.Image, error) {
	return imaging.Open(path)
}

// DecodeConfig reads only the header of the image at path
func DecodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	return image.DecodeConfig(f)
}

// Encode writes img to w in the requested container format
func Encode(w io.Writer, img image.Image, f pipeline.ImageFormat) error {
	switch f {
	case pipeline.FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
	case pipeline.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case pipeline.FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case pipeline.FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case pipeline.FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: WebPQuality})
	}
	return fmt.Errorf("unsupported output format %q", f)
}

// ItemError records a single image that a stage had to drop
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}
