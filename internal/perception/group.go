package perception

import (
	"image"
	"math"
	"sort"
)

// groupEps is the relative tolerance used to merge overlapping candidates.
const groupEps = 0.2

// maxCandidates bounds the placements handed to groupRectangles.
const maxCandidates = 512

// peaks returns the placements scoring at least threshold that are the
// strongest within half a template of themselves, best first, at most
// limit of them. On equal scores the first placement in scan order wins.
func peaks(s *surface, threshold float64, tw, th, limit int) []image.Point {
	rx, ry := max(tw/2, 1), max(th/2, 1)
	var pts []image.Point
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			if s.at(x, y) >= threshold && s.dominates(x, y, rx, ry) {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	sort.SliceStable(pts, func(i, j int) bool {
		return s.at(pts[i].X, pts[i].Y) > s.at(pts[j].X, pts[j].Y)
	})
	if len(pts) > limit {
		pts = pts[:limit]
	}
	return pts
}

// dominates reports whether (x, y) outscores every placement within rx, ry.
func (s *surface) dominates(x, y, rx, ry int) bool {
	v := s.at(x, y)
	for ny := max(y-ry, 0); ny <= min(y+ry, s.H-1); ny++ {
		for nx := max(x-rx, 0); nx <= min(x+rx, s.W-1); nx++ {
			n := s.at(nx, ny)
			if n > v || (n == v && (ny < y || (ny == y && nx < x))) {
				return false
			}
		}
	}
	return true
}

// groupRectangles merges similar rectangles into their average. Two
// rectangles are similar when every edge differs by at most
// eps * (min width + min height) / 2; similarity is closed transitively.
func groupRectangles(rects []image.Rectangle, eps float64) []image.Rectangle {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if similarRects(rects[i], rects[j], eps) {
				parent[find(j)] = find(i)
			}
		}
	}

	type acc struct {
		x0, y0, x1, y1 float64
		n              int
		first          int
	}
	groups := make(map[int]*acc)
	for i, r := range rects {
		root := find(i)
		a, ok := groups[root]
		if !ok {
			a = &acc{first: i}
			groups[root] = a
		}
		a.x0 += float64(r.Min.X)
		a.y0 += float64(r.Min.Y)
		a.x1 += float64(r.Max.X)
		a.y1 += float64(r.Max.Y)
		a.n++
	}

	ordered := make([]*acc, 0, len(groups))
	for _, a := range groups {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].first < ordered[j].first })

	out := make([]image.Rectangle, 0, len(ordered))
	for _, a := range ordered {
		n := float64(a.n)
		out = append(out, image.Rect(
			int(math.Round(a.x0/n)), int(math.Round(a.y0/n)),
			int(math.Round(a.x1/n)), int(math.Round(a.y1/n)),
		))
	}
	return out
}

func similarRects(a, b image.Rectangle, eps float64) bool {
	delta := eps * float64(min(a.Dx(), b.Dx())+min(a.Dy(), b.Dy())) * 0.5
	return math.Abs(float64(a.Min.X-b.Min.X)) <= delta &&
		math.Abs(float64(a.Min.Y-b.Min.Y)) <= delta &&
		math.Abs(float64(a.Max.X-b.Max.X)) <= delta &&
		math.Abs(float64(a.Max.Y-b.Max.Y)) <= delta
}

func center(r image.Rectangle) image.Point {
	return image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
}

// sortPoints orders points top-to-bottom, then left-to-right.
func sortPoints(pts []image.Point) {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Y != pts[j].Y {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})
}
