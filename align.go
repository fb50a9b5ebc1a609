// Package cloudalign provides global registration of 3D point clouds: given
// two clouds and per-point feature descriptors, it finds tentative
// correspondences by nearest-neighbour matching in descriptor space and
// estimates the rigid transform aligning them with RANSAC.
//
// Descriptor computation, point cloud loading and downsampling are upstream
// concerns; this package consumes their outputs.
package cloudalign

import (
	"context"
	"fmt"

	"github.com/banshee-data/cloudalign/geom"
	"github.com/banshee-data/cloudalign/match"
	"github.com/banshee-data/cloudalign/register"
)

// Params bundles the knobs for a full alignment pass.
type Params struct {
	// MaxCorrespondenceDistance is the inlier distance threshold, in the
	// clouds' units. Typical choice: 1.5x the downsampling voxel size.
	MaxCorrespondenceDistance float64

	// Criteria controls RANSAC termination. Zero value means
	// register.DefaultCriteria().
	Criteria register.Criteria

	// MutualFilter keeps only mutual nearest-neighbour correspondences
	// before estimation.
	MutualFilter bool

	// Workers shards RANSAC iterations across goroutines. Zero means
	// single-threaded.
	Workers int

	// Seed fixes the random stream for reproducible runs. Nil seeds from
	// the clock.
	Seed *int64
}

// Align matches srcFeatures against dstFeatures and estimates the rigid
// transform mapping src onto dst. Feature slices must be index-aligned with
// their clouds: srcFeatures[i] describes src[i].
func Align(ctx context.Context, src, dst geom.Cloud, srcFeatures, dstFeatures [][]float64, params Params) (register.Result, error) {
	if len(srcFeatures) != len(src) {
		return register.Result{}, fmt.Errorf("%w: %d source features for %d points", register.ErrInvalidArgument, len(srcFeatures), len(src))
	}
	if len(dstFeatures) != len(dst) {
		return register.Result{}, fmt.Errorf("%w: %d target features for %d points", register.ErrInvalidArgument, len(dstFeatures), len(dst))
	}

	corrs, err := match.Match(srcFeatures, dstFeatures, match.Options{MutualFilter: params.MutualFilter})
	if err != nil {
		return register.Result{}, fmt.Errorf("feature matching: %w", err)
	}

	criteria := params.Criteria
	if criteria == (register.Criteria{}) {
		criteria = register.DefaultCriteria()
	}

	var opts []register.Option
	if params.Workers > 0 {
		opts = append(opts, register.WithWorkers(params.Workers))
	}
	if params.Seed != nil {
		opts = append(opts, register.WithSeed(*params.Seed))
	}

	return register.Estimate(ctx, src, dst, corrs, params.MaxCorrespondenceDistance, criteria, opts...)
}
