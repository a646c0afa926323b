// Package perception implements the screen recognition primitives: exact
// template matching, binary feature matching, multi-instance localization
// and text recognition matching. Every primitive captures the screen first
// and fails closed.
package perception

import (
	"fmt"
	"image"
	"image/draw"
)

// Region is a rectangle in screen pixels.
type Region struct {
	X, Y, W, H int
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H)
}

// Rect converts r to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Extract returns the part of img covered by r. The region must lie
// entirely inside the image bounds.
func Extract(img image.Image, r Region) (image.Image, error) {
	b := img.Bounds()
	rect := r.Rect().Add(b.Min)
	if r.W <= 0 || r.H <= 0 || r.X < 0 || r.Y < 0 || !rect.In(b) {
		return nil, &Failure{Op: "extract", Kind: ErrRegionOutOfBounds,
			Err: fmt.Errorf("region %s exceeds %dx%d screen", r, b.Dx(), b.Dy())}
	}

	out := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}

// Gray is a luminance matrix with values in [0, 255].
type Gray struct {
	W, H int
	Pix  []float64
}

// NewGray converts img to luminance using ITU-R BT.601 weights.
func NewGray(img image.Image) *Gray {
	b := img.Bounds()
	g := &Gray{W: b.Dx(), H: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Pix[y*g.W+x] = (0.299*float64(r) + 0.587*float64(gg) + 0.114*float64(bb)) / 257
		}
	}
	return g
}

func (g *Gray) At(x, y int) float64 {
	return g.Pix[y*g.W+x]
}

// integral returns summed-area tables of values and squared values with a
// leading zero row and column.
func (g *Gray) integral() (sum, sq []float64) {
	w := g.W + 1
	sum = make([]float64, w*(g.H+1))
	sq = make([]float64, w*(g.H+1))
	for y := 0; y < g.H; y++ {
		var rowSum, rowSq float64
		for x := 0; x < g.W; x++ {
			v := g.Pix[y*g.W+x]
			rowSum += v
			rowSq += v * v
			sum[(y+1)*w+x+1] = sum[y*w+x+1] + rowSum
			sq[(y+1)*w+x+1] = sq[y*w+x+1] + rowSq
		}
	}
	return sum, sq
}

func boxSum(table []float64, stride, x, y, w, h int) float64 {
	return table[(y+h)*stride+x+w] - table[y*stride+x+w] - table[(y+h)*stride+x] + table[y*stride+x]
}
