package perception

import (
	"image"
	"math"
	"math/bits"
	"math/rand"
	"sort"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/transform"
)

const (
	fastThreshold = 20
	fastArc       = 9
	patchRadius   = 15
	// pairs are sampled inside this radius so that any rotation stays
	// within the patch.
	pairRadius  = 13
	edgeBorder  = patchRadius + 1
	scaleFactor = 1.2
	blurRadius  = 2
)

// fastCircle is the 16-pixel Bresenham circle of radius 3.
var fastCircle = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// Keypoint is a detected corner in level-0 image coordinates.
type Keypoint struct {
	X, Y  float64
	Angle float64
	Score float64
	Level int
}

// Descriptor is a 256-bit rotated BRIEF descriptor.
type Descriptor [4]uint64

// Features are the keypoints of an image and their descriptors.
type Features struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

type samplePair struct {
	ax, ay, bx, by float64
}

// briefPattern is fixed so that descriptors are comparable across runs.
var briefPattern = func() [256]samplePair {
	rng := rand.New(rand.NewSource(0x5eed))
	sigma := float64(2*patchRadius+1) / 5
	sample := func() (float64, float64) {
		for {
			x, y := rng.NormFloat64()*sigma, rng.NormFloat64()*sigma
			if x*x+y*y <= pairRadius*pairRadius {
				return x, y
			}
		}
	}
	var p [256]samplePair
	for i := range p {
		p[i].ax, p[i].ay = sample()
		p[i].bx, p[i].by = sample()
	}
	return p
}()

type featureParams struct {
	MaxKeypoints int
	Levels       int
}

// extractFeatures detects oriented FAST corners on an image pyramid and
// describes them with rotated BRIEF.
func extractFeatures(img image.Image, p featureParams) Features {
	levels := max(p.Levels, 1)
	perLevel := max(p.MaxKeypoints/levels, 1)

	var out Features
	b := img.Bounds()
	for level := 0; level < levels; level++ {
		scale := math.Pow(scaleFactor, float64(level))
		w, h := int(math.Round(float64(b.Dx())/scale)), int(math.Round(float64(b.Dy())/scale))
		if w <= 2*edgeBorder || h <= 2*edgeBorder {
			break
		}

		levelImg := img
		if level > 0 {
			levelImg = transform.Resize(img, w, h, transform.Linear)
		}
		gray := NewGray(levelImg)
		smooth := NewGray(blur.Gaussian(levelImg, blurRadius))

		for _, kp := range detectFAST(gray, perLevel) {
			kp.Angle = orientation(gray, int(kp.X), int(kp.Y))
			out.Descriptors = append(out.Descriptors, describe(smooth, int(kp.X), int(kp.Y), kp.Angle))
			kp.X *= scale
			kp.Y *= scale
			kp.Level = level
			out.Keypoints = append(out.Keypoints, kp)
		}
	}
	return out
}

// detectFAST returns up to limit FAST-9 corners, strongest first, after
// 3x3 non-maximum suppression.
func detectFAST(g *Gray, limit int) []Keypoint {
	scores := make([]float64, len(g.Pix))
	for y := edgeBorder; y < g.H-edgeBorder; y++ {
		for x := edgeBorder; x < g.W-edgeBorder; x++ {
			scores[y*g.W+x] = cornerScore(g, x, y)
		}
	}

	var kps []Keypoint
	for y := edgeBorder; y < g.H-edgeBorder; y++ {
		for x := edgeBorder; x < g.W-edgeBorder; x++ {
			idx := y*g.W + x
			s := scores[idx]
			if s == 0 || !localMax(scores, g.W, x, y) {
				continue
			}
			kps = append(kps, Keypoint{X: float64(x), Y: float64(y), Score: s})
		}
	}

	sort.SliceStable(kps, func(i, j int) bool { return kps[i].Score > kps[j].Score })
	if len(kps) > limit {
		kps = kps[:limit]
	}
	return kps
}

func localMax(scores []float64, w, x, y int) bool {
	idx := y*w + x
	s := scores[idx]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := (y+dy)*w + x + dx
			// Ties go to the earlier pixel in scan order.
			if scores[n] > s || (scores[n] == s && n < idx) {
				return false
			}
		}
	}
	return true
}

// cornerScore is zero for non-corners, otherwise the summed contrast of the
// circle pixels beyond the threshold.
func cornerScore(g *Gray, x, y int) float64 {
	p := g.At(x, y)
	var class [16]int
	var score float64
	for i, o := range fastCircle {
		v := g.At(x+o.X, y+o.Y)
		switch {
		case v > p+fastThreshold:
			class[i] = 1
			score += v - p - fastThreshold
		case v < p-fastThreshold:
			class[i] = -1
			score += p - v - fastThreshold
		}
	}

	for _, want := range []int{1, -1} {
		run := 0
		for i := 0; i < len(class)+fastArc-1; i++ {
			if class[i%16] == want {
				run++
				if run >= fastArc {
					return score
				}
			} else {
				run = 0
			}
		}
	}
	return 0
}

// orientation is the angle of the intensity centroid of the patch.
func orientation(g *Gray, cx, cy int) float64 {
	var m01, m10 float64
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > patchRadius*patchRadius {
				continue
			}
			v := g.At(cx+dx, cy+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

func describe(g *Gray, cx, cy int, angle float64) Descriptor {
	sin, cos := math.Sincos(angle)
	at := func(x, y float64) float64 {
		rx := int(math.Round(x*cos - y*sin))
		ry := int(math.Round(x*sin + y*cos))
		return g.At(cx+rx, cy+ry)
	}

	var d Descriptor
	for i, pair := range briefPattern {
		if at(pair.ax, pair.ay) < at(pair.bx, pair.by) {
			d[i/64] |= 1 << (i % 64)
		}
	}
	return d
}

func hamming(a, b Descriptor) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) + bits.OnesCount64(a[3]^b[3])
}
