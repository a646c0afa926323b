// Package ocr reads text from screen regions. The deterministic backend
// binarizes the region and hands it to tesseract; the learned backend asks a
// vision model. Recognizers are created lazily per backend and language.
package ocr

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/transform"
)

// PreprocessOptions tunes the deterministic pipeline.
type PreprocessOptions struct {
	Upscale   int
	ClipLimit float64
	TileGrid  int
}

func (o PreprocessOptions) withDefaults() PreprocessOptions {
	if o.Upscale < 1 {
		o.Upscale = 3
	}
	if o.ClipLimit <= 0 {
		o.ClipLimit = 2
	}
	if o.TileGrid < 1 {
		o.TileGrid = 8
	}
	return o
}

// Preprocess upscales, converts to grayscale, equalizes local contrast,
// binarizes with Otsu's threshold and closes small gaps in the glyphs. The
// result has dark text on a white background whatever the input polarity.
func Preprocess(img image.Image, opts PreprocessOptions) *image.Gray {
	opts = opts.withDefaults()
	b := img.Bounds()

	scaled := transform.Resize(img, b.Dx()*opts.Upscale, b.Dy()*opts.Upscale, transform.Lanczos)
	gray := toGray(effect.Grayscale(scaled))
	equalized := CLAHE(gray, opts.ClipLimit, opts.TileGrid)
	binary := segment.Threshold(equalized, OtsuThreshold(equalized))

	// Glyphs must be the white foreground before closing.
	if !mostlyDark(binary) {
		binary = toGray(effect.Invert(binary))
	}
	// Closing (dilate then erode) bridges breaks in the strokes.
	closed := effect.Erode(effect.Dilate(binary, 1), 1)
	return toGray(effect.Invert(closed))
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}

func mostlyDark(g *image.Gray) bool {
	dark := 0
	for _, v := range g.Pix {
		if v < 128 {
			dark++
		}
	}
	return dark*2 > len(g.Pix)
}

// OtsuThreshold returns the level that maximizes between-class variance.
// Pixels at or above the level belong to the foreground.
func OtsuThreshold(g *image.Gray) uint8 {
	var hist [256]float64
	for _, v := range g.Pix {
		hist[v]++
	}
	total := float64(len(g.Pix))
	if total == 0 {
		return 128
	}

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var sumB, wB, best float64
	level := 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	// Threshold keeps values >= level; Otsu's class boundary is "> t".
	return uint8(min(level+1, 255))
}

// CLAHE applies contrast limited adaptive histogram equalization on a
// grid x grid tiling with bilinear blending between tile mappings.
func CLAHE(g *image.Gray, clipLimit float64, grid int) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	gx, gy := min(grid, w), min(grid, h)
	tileW := int(math.Ceil(float64(w) / float64(gx)))
	tileH := int(math.Ceil(float64(h) / float64(gy)))

	luts := make([][256]uint8, gx*gy)
	for ty := 0; ty < gy; ty++ {
		for tx := 0; tx < gx; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)
			luts[ty*gx+tx] = tileMapping(g, b.Min, x0, y0, x1, y1, clipLimit)
		}
	}

	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := clampInt(int(math.Floor(fy)), 0, gy-1)
		ty1 := clampInt(ty0+1, 0, gy-1)
		wy := clampFloat(fy-float64(ty0), 0, 1)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := clampInt(int(math.Floor(fx)), 0, gx-1)
			tx1 := clampInt(tx0+1, 0, gx-1)
			wx := clampFloat(fx-float64(tx0), 0, 1)

			v := g.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			top := (1-wx)*float64(luts[ty0*gx+tx0][v]) + wx*float64(luts[ty0*gx+tx1][v])
			bottom := (1-wx)*float64(luts[ty1*gx+tx0][v]) + wx*float64(luts[ty1*gx+tx1][v])
			out.Pix[y*out.Stride+x] = uint8(math.Round((1-wy)*top + wy*bottom))
		}
	}
	return out
}

func tileMapping(g *image.Gray, origin image.Point, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[g.GrayAt(origin.X+x, origin.Y+y).Y]++
		}
	}
	n := float64((x1 - x0) * (y1 - y0))

	var lut [256]uint8
	if n == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	limit := math.Max(clipLimit*n/256, 1)
	var excess float64
	for i, c := range hist {
		if c > limit {
			excess += c - limit
			hist[i] = limit
		}
	}
	bonus := excess / 256
	for i := range hist {
		hist[i] += bonus
	}

	var cdf float64
	for i, c := range hist {
		cdf += c
		lut[i] = uint8(math.Round(math.Min(255, cdf*255/n)))
	}
	return lut
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
