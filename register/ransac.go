package register

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/cloudalign/geom"
)

// sampleSize is the minimal number of correspondences needed to determine a
// rigid transform in 3D.
const sampleSize = 3

type options struct {
	workers int
	seed    int64
	seeded  bool
	verbose bool
}

// Option configures an Estimate call.
type Option func(*options)

// WithWorkers shards the iteration budget across n goroutines. Each worker
// samples from an independent seed-derived stream and keeps a local best;
// the results are merged after all workers finish.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithSeed fixes the pseudo-random seed. Re-running Estimate with the same
// seed, inputs and worker count yields bit-identical results.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithVerbose enables progress logging.
func WithVerbose() Option {
	return func(o *options) { o.verbose = true }
}

// Estimate finds the rigid transform aligning src to dst, given tentative
// correspondences, by random sample consensus. A correspondence is an
// inlier under a candidate transform when the transformed source point lies
// within maxCorrespondenceDistance of its target point.
//
// Estimate is synchronous and does no I/O. Cancellation via ctx is
// cooperative, checked once per iteration: on cancellation the best result
// found so far is returned together with ctx.Err(), and the Result remains
// usable.
//
// Poor data is not an error: when every hypothesis scores zero inliers the
// identity transform is returned with fitness 0 and a nil error. Only
// malformed inputs (ErrInvalidArgument) and degenerate-sample exhaustion
// (ErrNoValidModel) fail.
func Estimate(ctx context.Context, src, dst geom.Cloud, corrs []Correspondence, maxCorrespondenceDistance float64, criteria Criteria, opts ...Option) (Result, error) {
	if err := validateInputs(src, dst, corrs, maxCorrespondenceDistance, criteria); err != nil {
		return Result{}, err
	}

	o := options{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.workers > criteria.MaxIterations {
		o.workers = criteria.MaxIterations
	}
	seed := o.seed
	if !o.seeded {
		seed = time.Now().UnixNano()
	}

	if o.verbose {
		log.Printf("[Register] estimating: %d correspondences, max_distance=%g, max_iterations=%d, confidence=%g, workers=%d",
			len(corrs), maxCorrespondenceDistance, criteria.MaxIterations, criteria.Confidence, o.workers)
	}

	results := make([]workerResult, o.workers)
	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(deriveSeed(seed, w)))
			results[w] = runWorker(ctx, src, dst, corrs, maxCorrespondenceDistance, criteria.Confidence, iterationShare(criteria.MaxIterations, o.workers, w), rng)
		}(w)
	}
	wg.Wait()

	// Merge worker snapshots: highest inlier count wins, ties broken by
	// lowest RMSE, then by lowest worker index (strict improvement only)
	// to keep seeded runs deterministic.
	best := results[0]
	totalIterations := results[0].iterations
	sawValid := results[0].sawValid
	for _, r := range results[1:] {
		totalIterations += r.iterations
		sawValid = sawValid || r.sawValid
		if betterThan(r, best) {
			best = r
		}
	}

	if !sawValid {
		if err := ctx.Err(); err != nil {
			return Result{Transform: geom.Identity(), Iterations: totalIterations}, err
		}
		return Result{}, fmt.Errorf("%w: all %d samples degenerate", ErrNoValidModel, totalIterations)
	}

	result := Result{
		Transform:   geom.Identity(),
		Iterations:  totalIterations,
		InlierCount: best.count,
		Fitness:     float64(best.count) / float64(len(corrs)),
	}
	if best.count > 0 {
		result.Transform = best.transform
		result.InlierRMSE = refine(src, dst, corrs, maxCorrespondenceDistance, &result)
	}

	if o.verbose {
		log.Printf("[Register] done: %s", result)
	}
	return result, ctx.Err()
}

func validateInputs(src, dst geom.Cloud, corrs []Correspondence, maxDistance float64, criteria Criteria) error {
	if len(src) == 0 || len(dst) == 0 {
		return fmt.Errorf("%w: empty point set (src=%d, dst=%d)", ErrInvalidArgument, len(src), len(dst))
	}
	if len(corrs) < sampleSize {
		return fmt.Errorf("%w: need at least %d correspondences, got %d", ErrInvalidArgument, sampleSize, len(corrs))
	}
	for i, c := range corrs {
		if c.SourceIndex < 0 || c.SourceIndex >= len(src) || c.TargetIndex < 0 || c.TargetIndex >= len(dst) {
			return fmt.Errorf("%w: correspondence %d out of range: (%d, %d)", ErrInvalidArgument, i, c.SourceIndex, c.TargetIndex)
		}
	}
	if maxDistance <= 0 {
		return fmt.Errorf("%w: max correspondence distance must be positive, got %g", ErrInvalidArgument, maxDistance)
	}
	if criteria.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidArgument, criteria.MaxIterations)
	}
	if criteria.Confidence <= 0 || criteria.Confidence >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %g", ErrInvalidArgument, criteria.Confidence)
	}
	return nil
}

// workerResult is an immutable snapshot of one worker's best hypothesis.
type workerResult struct {
	transform  geom.Transform
	count      int
	rmse       float64
	iterations int
	sawValid   bool
}

func betterThan(a, b workerResult) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	return a.count > 0 && a.rmse < b.rmse
}

// runWorker executes up to share iterations of the hypothesise-and-score
// loop. The adaptive bound is computed from this worker's own best inlier
// ratio only: sharing the bound across workers would make the number of
// draws per stream timing-dependent and break seeded determinism.
func runWorker(ctx context.Context, src, dst geom.Cloud, corrs []Correspondence, maxDistance, confidence float64, share int, rng *rand.Rand) workerResult {
	res := workerResult{transform: geom.Identity()}
	thresholdSq := maxDistance * maxDistance

	smp := newSampler(len(corrs), rng)
	var sample [sampleSize]int
	var srcPts, dstPts [sampleSize]geom.Vec3

	bound := share
	for it := 0; it < bound; it++ {
		select {
		case <-ctx.Done():
			return res
		default:
		}
		res.iterations++

		smp.draw(sample[:])
		for k, ci := range sample {
			srcPts[k] = src[corrs[ci].SourceIndex]
			dstPts[k] = dst[corrs[ci].TargetIndex]
		}

		T, ok := fitRigid(srcPts[:], dstPts[:])
		if !ok {
			// Degenerate sample: discard and redraw on the next
			// iteration. Still consumes iteration budget.
			continue
		}
		res.sawValid = true

		count, rmse := score(src, dst, corrs, T, thresholdSq)
		if count > res.count || (count == res.count && count > 0 && rmse < res.rmse) {
			res.transform = T
			res.count = count
			res.rmse = rmse
			bound = adaptiveBound(confidence, float64(count)/float64(len(corrs)), share)
		}
	}
	return res
}

// score counts the correspondences whose transformed source point lies
// within the distance threshold of its target, and returns the RMSE over
// those inliers. Squared distances are used internally; the comparison is
// equivalent to a true-distance <= threshold test.
func score(src, dst geom.Cloud, corrs []Correspondence, T geom.Transform, thresholdSq float64) (int, float64) {
	var count int
	var sumSq float64
	for _, c := range corrs {
		d := T.Apply(src[c.SourceIndex]).DistanceSquared(dst[c.TargetIndex])
		if d <= thresholdSq {
			count++
			sumSq += d
		}
	}
	if count == 0 {
		return 0, 0
	}
	return count, math.Sqrt(sumSq / float64(count))
}

// adaptiveBound returns the number of iterations needed to have drawn at
// least one all-inlier minimal sample with the given confidence, assuming
// the current inlier ratio: k = log(1-confidence) / log(1-w^s), clamped to
// [0, maxIterations].
func adaptiveBound(confidence, inlierRatio float64, maxIterations int) int {
	if inlierRatio <= 0 {
		return maxIterations
	}
	if inlierRatio >= 1 {
		return 0
	}
	denom := math.Log(1 - math.Pow(inlierRatio, sampleSize))
	if denom >= 0 {
		return maxIterations
	}
	k := math.Log(1-confidence) / denom
	if k >= float64(maxIterations) {
		return maxIterations
	}
	if k < 0 {
		return 0
	}
	return int(math.Ceil(k))
}

// refine re-estimates the transform from all inliers of the current best
// hypothesis (least-squares refit). Inlier membership is fixed before the
// refit; only the transform and RMSE change. Returns the RMSE over the
// inlier set under the final transform.
func refine(src, dst geom.Cloud, corrs []Correspondence, maxDistance float64, result *Result) float64 {
	thresholdSq := maxDistance * maxDistance

	srcPts := make([]geom.Vec3, 0, result.InlierCount)
	dstPts := make([]geom.Vec3, 0, result.InlierCount)
	for _, c := range corrs {
		sp := src[c.SourceIndex]
		dp := dst[c.TargetIndex]
		if result.Transform.Apply(sp).DistanceSquared(dp) <= thresholdSq {
			srcPts = append(srcPts, sp)
			dstPts = append(dstPts, dp)
		}
	}

	if T, ok := fitRigid(srcPts, dstPts); ok {
		result.Transform = T
	}

	var sumSq float64
	for i := range srcPts {
		sumSq += result.Transform.Apply(srcPts[i]).DistanceSquared(dstPts[i])
	}
	if len(srcPts) == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(len(srcPts)))
}

// iterationShare splits the iteration budget evenly across workers, giving
// the remainder to the lowest-indexed ones.
func iterationShare(maxIterations, workers, w int) int {
	share := maxIterations / workers
	if w < maxIterations%workers {
		share++
	}
	return share
}

// deriveSeed mixes the base seed with the worker index (splitmix64 finaliser)
// so worker streams are uncorrelated.
func deriveSeed(seed int64, worker int) int64 {
	z := uint64(seed) + uint64(worker+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4B9B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}
