// Package cluster implements the batch semantic-neighbourhood analysis:
// dimensionality reduction by seeded Gaussian random projection followed
// by density-based clustering (DBSCAN). Outliers stay unassigned; the
// output is advisory and never gates retrieval.
package cluster

import (
	"math"
	"math/rand"
)

// projectionSeed fixes the random projection matrix so repeated runs over
// the same corpus produce the same reduced space.
const projectionSeed = 7349

// Project reduces each vector to targetDims dimensions with a Gaussian
// random projection. Vectors shorter than targetDims are returned as-is.
func Project(vectors [][]float32, targetDims int) [][]float64 {
	if len(vectors) == 0 {
		return nil
	}
	srcDims := len(vectors[0])

	out := make([][]float64, len(vectors))
	if srcDims <= targetDims {
		for i, v := range vectors {
			row := make([]float64, len(v))
			for j, x := range v {
				row[j] = float64(x)
			}
			out[i] = row
		}
		return out
	}

	rng := rand.New(rand.NewSource(projectionSeed))
	scale := 1 / math.Sqrt(float64(targetDims))
	matrix := make([][]float64, targetDims)
	for i := range matrix {
		matrix[i] = make([]float64, srcDims)
		for j := range matrix[i] {
			matrix[i][j] = rng.NormFloat64() * scale
		}
	}

	for i, v := range vectors {
		row := make([]float64, targetDims)
		for d := 0; d < targetDims; d++ {
			var sum float64
			m := matrix[d]
			for j, x := range v {
				sum += m[j] * float64(x)
			}
			row[d] = sum
		}
		out[i] = row
	}
	return out
}

// CosineDistance returns 1 - cosine similarity of two vectors.
func CosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
