package perception

type vec struct {
	X, Y float64
}

func (a vec) dist2(b vec) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// dbscan groups points that are density-connected within eps. A point is a
// core point when at least minSamples points, itself included, lie within
// eps. Noise is dropped. Clusters are returned as index lists in order of
// discovery.
func dbscan(points []vec, eps float64, minSamples int) [][]int {
	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, len(points))
	eps2 := eps * eps

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if points[i].dist2(points[j]) <= eps2 {
				out = append(out, j)
			}
		}
		return out
	}

	var clusters [][]int
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbours(i)
		if len(seeds) < minSamples {
			labels[i] = noise
			continue
		}

		id := len(clusters) + 1
		members := []int{i}
		labels[i] = id
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noise {
				labels[j] = id
				members = append(members, j)
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = id
			members = append(members, j)
			if n := neighbours(j); len(n) >= minSamples {
				seeds = append(seeds, n...)
			}
		}
		clusters = append(clusters, members)
	}
	return clusters
}

func centroid(points []vec, members []int) vec {
	var c vec
	for _, i := range members {
		c.X += points[i].X
		c.Y += points[i].Y
	}
	n := float64(len(members))
	return vec{X: c.X / n, Y: c.Y / n}
}
