package perception

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const flatEpsilon = 1e-6

// surface holds one correlation score per template placement.
type surface struct {
	W, H  int
	Score []float64
}

func (s *surface) at(x, y int) float64 {
	return s.Score[y*s.W+x]
}

func (s *surface) max() (float64, image.Point) {
	best, at := math.Inf(-1), image.Point{}
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			if v := s.at(x, y); v > best {
				best, at = v, image.Pt(x, y)
			}
		}
	}
	return best, at
}

// correlate is the correlation routine used by the template primitives.
var correlate = normalizedCrossCorrelation

// normalizedCrossCorrelation computes the mean-subtracted normalized
// correlation of tmpl at every placement inside img. Rows are scored in
// parallel.
func normalizedCrossCorrelation(ctx context.Context, img, tmpl *Gray) (*surface, error) {
	if tmpl.W > img.W || tmpl.H > img.H {
		return nil, fmt.Errorf("template %dx%d does not fit %dx%d", tmpl.W, tmpl.H, img.W, img.H)
	}

	n := float64(tmpl.W * tmpl.H)
	var meanT float64
	for _, v := range tmpl.Pix {
		meanT += v
	}
	meanT /= n

	centered := make([]float64, len(tmpl.Pix))
	var sumT2 float64
	for i, v := range tmpl.Pix {
		centered[i] = v - meanT
		sumT2 += centered[i] * centered[i]
	}

	sum, sq := img.integral()
	stride := img.W + 1
	out := &surface{W: img.W - tmpl.W + 1, H: img.H - tmpl.H + 1}
	out.Score = make([]float64, out.W*out.H)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for y := 0; y < out.H; y++ {
		y := y
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := 0; x < out.W; x++ {
				var num float64
				for j := 0; j < tmpl.H; j++ {
					row := (y+j)*img.W + x
					trow := j * tmpl.W
					for i := 0; i < tmpl.W; i++ {
						num += img.Pix[row+i] * centered[trow+i]
					}
				}

				s := boxSum(sum, stride, x, y, tmpl.W, tmpl.H)
				s2 := boxSum(sq, stride, x, y, tmpl.W, tmpl.H)
				varI := math.Max(s2-s*s/n, 0)
				out.Score[y*out.W+x] = normalize(num, varI, sumT2, s/n, meanT)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalize(num, varI, varT, meanI, meanT float64) float64 {
	if varI < flatEpsilon || varT < flatEpsilon {
		// Flat window or template: only an equally flat, equally bright
		// counterpart counts as a match.
		if varI < flatEpsilon && varT < flatEpsilon && math.Abs(meanI-meanT) < 0.5 {
			return 1
		}
		return 0
	}
	score := num / math.Sqrt(varI*varT)
	return math.Max(-1, math.Min(1, score))
}

// checkFit rejects a template that cannot be placed inside the region.
func checkFit(op string, region, tmpl image.Image) error {
	rb, tb := region.Bounds(), tmpl.Bounds()
	if tb.Dx() > rb.Dx() || tb.Dy() > rb.Dy() {
		return fail(op, ErrTemplateLargerThanRegion,
			fmt.Errorf("template %dx%d, region %dx%d", tb.Dx(), tb.Dy(), rb.Dx(), rb.Dy()))
	}
	return nil
}
