// Package matcher implements grayscale template matching with normalized
// cross-correlation scoring, the pixel-level core of the screen locator.
package matcher

import (
	"image"
	"math"
)

// Gray is a single-channel intensity plane. Pixel values are float64 in
// [0,255], row-major.
type Gray struct {
	Width  int
	Height int
	Pix    []float64
}

// FromImage converts any image to an intensity plane using the standard
// luma weights.
func FromImage(img image.Image) *Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	g := &Gray{Width: w, Height: h, Pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, gr, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA returns 16-bit channels.
			g.Pix[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(gr>>8) + 0.114*float64(b>>8)
		}
	}
	return g
}

// Search scans src for tpl and returns the first position, in row-major
// order, whose normalized cross-correlation score meets or exceeds
// threshold. The returned bool is false when no position qualifies; that is
// the expected "not yet visible" state, not an error. Templates larger than
// the source or with zero variance never match.
func Search(src, tpl *Gray, threshold float64) (image.Point, float64, bool) {
	if tpl.Width > src.Width || tpl.Height > src.Height || tpl.Width == 0 || tpl.Height == 0 {
		return image.Point{}, 0, false
	}

	tplMean, tplNorm := tpl.stats()
	if tplNorm == 0 {
		// A flat template correlates with everything and nothing.
		return image.Point{}, 0, false
	}

	sum, sqSum := src.integrals()
	area := float64(tpl.Width * tpl.Height)

	for oy := 0; oy <= src.Height-tpl.Height; oy++ {
		for ox := 0; ox <= src.Width-tpl.Width; ox++ {
			winSum := windowSum(sum, src.Width, ox, oy, tpl.Width, tpl.Height)
			winSqSum := windowSum(sqSum, src.Width, ox, oy, tpl.Width, tpl.Height)
			winMean := winSum / area
			winVar := winSqSum - winSum*winSum/area
			if winVar <= 1e-9 {
				continue
			}

			var dot float64
			for ty := 0; ty < tpl.Height; ty++ {
				srow := (oy+ty)*src.Width + ox
				trow := ty * tpl.Width
				for tx := 0; tx < tpl.Width; tx++ {
					dot += (src.Pix[srow+tx] - winMean) * (tpl.Pix[trow+tx] - tplMean)
				}
			}

			score := dot / (math.Sqrt(winVar) * tplNorm)
			if score >= threshold {
				return image.Point{X: ox, Y: oy}, score, true
			}
		}
	}
	return image.Point{}, 0, false
}

// stats returns the mean and the L2 norm of the zero-mean template.
func (g *Gray) stats() (mean, norm float64) {
	for _, v := range g.Pix {
		mean += v
	}
	mean /= float64(len(g.Pix))
	for _, v := range g.Pix {
		d := v - mean
		norm += d * d
	}
	return mean, math.Sqrt(norm)
}

// integrals builds summed-area tables of the plane and its squares, with a
// one-cell zero border so windowSum needs no edge checks.
func (g *Gray) integrals() (sum, sqSum []float64) {
	w, h := g.Width+1, g.Height+1
	sum = make([]float64, w*h)
	sqSum = make([]float64, w*h)
	for y := 1; y < h; y++ {
		var rowSum, rowSqSum float64
		for x := 1; x < w; x++ {
			v := g.Pix[(y-1)*g.Width+(x-1)]
			rowSum += v
			rowSqSum += v * v
			sum[y*w+x] = sum[(y-1)*w+x] + rowSum
			sqSum[y*w+x] = sqSum[(y-1)*w+x] + rowSqSum
		}
	}
	return sum, sqSum
}

// windowSum reads a w×h window sum at (x,y) from an integral image built for
// a plane of width srcW.
func windowSum(integral []float64, srcW, x, y, w, h int) float64 {
	iw := srcW + 1
	return integral[(y+h)*iw+(x+w)] - integral[y*iw+(x+w)] - integral[(y+h)*iw+x] + integral[y*iw+x]
}
