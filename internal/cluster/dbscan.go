package cluster

// Noise marks points assigned to no cluster.
const Noise = -1

// DBSCAN clusters the points by density. eps is the maximum cosine
// distance between neighbours, minPts the density threshold for a core
// point. Returns one cluster label per point; Noise for outliers.
func DBSCAN(points [][]float64, eps float64, minPts int) []int {
	const unvisited = -2

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := func(p int) []int {
		var out []int
		for q := range points {
			if q != p && CosineDistance(points[p], points[q]) <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	clusterID := 0
	for p := range points {
		if labels[p] != unvisited {
			continue
		}
		nb := neighbours(p)
		if len(nb)+1 < minPts {
			labels[p] = Noise
			continue
		}

		labels[p] = clusterID
		// Expand the cluster through density-reachable points.
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]

			if labels[q] == Noise {
				labels[q] = clusterID // border point
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = clusterID

			qnb := neighbours(q)
			if len(qnb)+1 >= minPts {
				queue = append(queue, qnb...)
			}
		}
		clusterID++
	}

	return labels
}
