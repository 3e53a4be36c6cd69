// Package testsupport builds deterministic images and archives for tests.
package testsupport

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// NoiseImage returns a w×h RGB noise image. The same seed always yields the
// same pixels; noise is sharp enough to pass any blur threshold and averages
// to mid brightness.
func NoiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

// UniformImage returns a w×h image filled with a single gray level.
func UniformImage(w, h int, level uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	c := color.NRGBA{R: level, G: level, B: level, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// PNG encodes img.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// NoisePNG is shorthand for PNG(NoiseImage(w, h, seed)).
func NoisePNG(t testing.TB, w, h int, seed int64) []byte {
	t.Helper()
	return PNG(t, NoiseImage(w, h, seed))
}

// ZipEntry is one file inside a generated archive. A name ending in "/" is a
// directory entry.
type ZipEntry struct {
	Name string
	Data []byte
}

// Zip builds an archive in memory, preserving entry order.
func Zip(t testing.TB, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if len(e.Data) > 0 {
			if _, err := w.Write(e.Data); err != nil {
				t.Fatalf("write zip entry %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name, creating parent directories.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ZipNames lists the entry names of the archive at path in stored order.
func ZipNames(t testing.TB, path string) []string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip %s: %v", path, err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}
