package quality

import (
	"image"

	"github.com/disintegration/imaging"
)

// Luma is an 8-bit grayscale plane in row-major order
type Luma struct {
	Width, Height int
	Pix           []uint8
}

// ToLuma converts img to ITU-R 601 luma
func ToLuma(img image.Image) *Luma {
	gray := imaging.Grayscale(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	l := &Luma{Width: w, Height: h, Pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			l.Pix[y*w+x] = row[x*4]
		}
	}
	return l
}

func (l *Luma) at(x, y int) float64 {
	return float64(l.Pix[reflect101(y, l.Height)*l.Width+reflect101(x, l.Width)])
}

// MeanBrightness is the mean luma value in [0,255]
func MeanBrightness(l *Luma) float64 {
	if len(l.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, p := range l.Pix {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(l.Pix))
}

// LaplacianVariance is the population variance of the 4-neighbour Laplacian
// [[0,1,0],[1,-4,1],[0,1,0]] with reflect-101 borders. Higher is sharper.
func LaplacianVariance(l *Luma) float64 {
	n := len(l.Pix)
	if n == 0 {
		return 0
	}

	var sum, sumSq float64
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			v := l.at(x, y-1) + l.at(x, y+1) + l.at(x-1, y) + l.at(x+1, y) - 4*l.at(x, y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// reflect101 mirrors i into [0,n) without repeating the edge: -1 -> 1, n -> n-2
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
