package perception

import "math"

type descriptorMatch struct {
	Query, Train int
	Distance     int
}

func nearest(d Descriptor, set []Descriptor) (best, bestDist, secondDist int) {
	best, bestDist, secondDist = -1, math.MaxInt, math.MaxInt
	for i, o := range set {
		dist := hamming(d, o)
		switch {
		case dist < bestDist:
			secondDist = bestDist
			best, bestDist = i, dist
		case dist < secondDist:
			secondDist = dist
		}
	}
	return best, bestDist, secondDist
}

// crossCheckMatches keeps only mutual nearest neighbours within maxDist.
func crossCheckMatches(query, train []Descriptor, maxDist int) []descriptorMatch {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}
	backward := make([]int, len(train))
	for j, t := range train {
		backward[j], _, _ = nearest(t, query)
	}

	var out []descriptorMatch
	for i, q := range query {
		j, dist, _ := nearest(q, train)
		if j >= 0 && backward[j] == i && dist <= maxDist {
			out = append(out, descriptorMatch{Query: i, Train: j, Distance: dist})
		}
	}
	return out
}

// ratioMatches keeps query descriptors whose nearest train descriptor is
// clearly closer than the second nearest. Several query descriptors may
// share a train descriptor, so repeated instances in the query image all
// survive.
func ratioMatches(query, train []Descriptor, ratio float64, maxDist int) []descriptorMatch {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}
	var out []descriptorMatch
	for i, q := range query {
		j, best, second := nearest(q, train)
		if j < 0 || best > maxDist {
			continue
		}
		if second != math.MaxInt && float64(best) >= ratio*float64(second) {
			continue
		}
		out = append(out, descriptorMatch{Query: i, Train: j, Distance: best})
	}
	return out
}
