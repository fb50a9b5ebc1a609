// Package match finds tentative correspondences between two point clouds by
// nearest-neighbour search in descriptor space. Descriptors themselves come
// from an upstream extractor; this package only consumes fixed-length
// feature vectors.
package match

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cloudalign/register"
)

// ErrInvalidFeatures indicates empty or dimension-mismatched feature sets.
var ErrInvalidFeatures = errors.New("match: invalid features")

// bruteForceThreshold is the target-set size below which a linear scan
// beats building a kd-tree.
const bruteForceThreshold = 32

// Options controls correspondence search.
type Options struct {
	// MutualFilter keeps only pairs (i, j) where j is the nearest target
	// to source i AND i is the nearest source to target j. Cuts false
	// positives at the cost of fewer correspondences.
	MutualFilter bool
}

// Match returns, for each source feature, a correspondence to its nearest
// target feature by Euclidean distance. All vectors in both sets must share
// one dimension. The output order follows the source enumeration order so
// downstream estimation is reproducible for a fixed seed.
func Match(src, dst [][]float64, opts Options) ([]register.Correspondence, error) {
	if err := validate(src, dst); err != nil {
		return nil, err
	}

	forward := nearestIndices(src, dst)

	if !opts.MutualFilter {
		corrs := make([]register.Correspondence, len(src))
		for i, j := range forward {
			corrs[i] = register.Correspondence{SourceIndex: i, TargetIndex: j}
		}
		return corrs, nil
	}

	backward := nearestIndices(dst, src)
	var corrs []register.Correspondence
	for i, j := range forward {
		if backward[j] == i {
			corrs = append(corrs, register.Correspondence{SourceIndex: i, TargetIndex: j})
		}
	}
	return corrs, nil
}

func validate(src, dst [][]float64) error {
	if len(src) == 0 || len(dst) == 0 {
		return fmt.Errorf("%w: empty feature set (src=%d, dst=%d)", ErrInvalidFeatures, len(src), len(dst))
	}
	dim := len(src[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimensional features", ErrInvalidFeatures)
	}
	for i, f := range src {
		if len(f) != dim {
			return fmt.Errorf("%w: src[%d] has dimension %d, want %d", ErrInvalidFeatures, i, len(f), dim)
		}
	}
	for i, f := range dst {
		if len(f) != dim {
			return fmt.Errorf("%w: dst[%d] has dimension %d, want %d", ErrInvalidFeatures, i, len(f), dim)
		}
	}
	return nil
}

// nearestIndices returns, for each query vector, the index of its nearest
// vector in ref.
func nearestIndices(queries, ref [][]float64) []int {
	if len(ref) < bruteForceThreshold {
		return bruteForceNearest(queries, ref)
	}
	return treeNearest(queries, ref)
}

func bruteForceNearest(queries, ref [][]float64) []int {
	out := make([]int, len(queries))
	for qi, q := range queries {
		bestIdx := 0
		bestDist := distSq(q, ref[0])
		for ri := 1; ri < len(ref); ri++ {
			if d := distSq(q, ref[ri]); d < bestDist {
				bestDist = d
				bestIdx = ri
			}
		}
		out[qi] = bestIdx
	}
	return out
}

func distSq(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
