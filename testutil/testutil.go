// Package testutil provides shared helpers for tests.
package testutil

import (
	"math"
	"math/rand"
	"slices"
)

// NewRNG returns a deterministic random number generator for tests.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// RandomVector generates a random vector with components drawn from a
// standard normal distribution.
func RandomVector(rng *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}

	return vec
}

// RandomVectors generates count random vectors of the given dimension.
func RandomVectors(rng *rand.Rand, count, dim int) [][]float32 {
	vectors := make([][]float32, count)
	for i := range vectors {
		vectors[i] = RandomVector(rng, dim)
	}

	return vectors
}

// CosineDistance computes 1 - cosine similarity between two vectors without
// requiring them to be pre-normalized.
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 1
	}

	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// BruteForceNearest returns the ids of the k nearest vectors to the query by
// exhaustive cosine distance, ties broken by ascending id.
func BruteForceNearest(vectors map[uint64][]float32, query []float32, k int) []uint64 {
	type scored struct {
		id   uint64
		dist float32
	}

	all := make([]scored, 0, len(vectors))
	for id, vec := range vectors {
		all = append(all, scored{id: id, dist: CosineDistance(vec, query)})
	}

	slices.SortFunc(all, func(a, b scored) int {
		if a.dist != b.dist {
			if a.dist < b.dist {
				return -1
			}

			return 1
		}

		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	if len(all) > k {
		all = all[:k]
	}

	ids := make([]uint64, len(all))
	for i, s := range all {
		ids[i] = s.id
	}

	return ids
}

// Recall computes |got ∩ want| / |want|.
func Recall(got, want []uint64) float64 {
	if len(want) == 0 {
		return 1
	}

	wantSet := make(map[uint64]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}

	hits := 0
	for _, id := range got {
		if _, ok := wantSet[id]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(want))
}
