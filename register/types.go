package register

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cloudalign/geom"
)

// Error kinds surfaced by Estimate. Use errors.Is to classify.
var (
	// ErrInvalidArgument indicates malformed inputs: empty point sets,
	// out-of-range correspondence indices, or non-positive thresholds.
	ErrInvalidArgument = errors.New("register: invalid argument")

	// ErrNoValidModel indicates that no non-degenerate minimal sample was
	// found within the iteration budget.
	ErrNoValidModel = errors.New("register: no valid model found")
)

// Correspondence asserts that point SourceIndex in the source cloud
// tentatively matches point TargetIndex in the target cloud.
type Correspondence struct {
	SourceIndex int
	TargetIndex int
}

// Criteria controls RANSAC termination.
type Criteria struct {
	// MaxIterations is the hard cap on hypothesis draws. Must be > 0.
	MaxIterations int
	// Confidence in (0,1) drives adaptive early termination: iteration
	// stops once enough draws have been made that, given the current best
	// inlier ratio, an all-inlier sample has been seen with this
	// probability.
	Confidence float64
}

// DefaultCriteria matches the registration pipeline defaults.
func DefaultCriteria() Criteria {
	return Criteria{MaxIterations: 100000, Confidence: 0.999}
}

// Result is the outcome of a registration estimate. It is immutable once
// returned.
type Result struct {
	// Transform maps source points into the target frame.
	Transform geom.Transform
	// InlierCount is the number of correspondences within the distance
	// threshold under Transform.
	InlierCount int
	// Fitness is InlierCount divided by the total correspondence count.
	Fitness float64
	// InlierRMSE is the root mean square residual over the final inlier
	// set, in true distance units. Zero when there are no inliers.
	InlierRMSE float64
	// Iterations is the number of hypothesis draws actually performed,
	// summed across workers.
	Iterations int
}

func (r Result) String() string {
	return fmt.Sprintf("inliers=%d fitness=%.4f rmse=%.6f iterations=%d",
		r.InlierCount, r.Fitness, r.InlierRMSE, r.Iterations)
}
