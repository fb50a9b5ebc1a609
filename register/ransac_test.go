package register

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/cloudalign/geom"
)

// unitCube returns the 8 corners of the unit cube.
func unitCube() geom.Cloud {
	return geom.Cloud{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 0}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1},
	}
}

// identityPairs returns correspondences (i, i) for i in [0, n).
func identityPairs(n int) []Correspondence {
	corrs := make([]Correspondence, n)
	for i := range corrs {
		corrs[i] = Correspondence{SourceIndex: i, TargetIndex: i}
	}
	return corrs
}

func TestEstimate_IdentityCube(t *testing.T) {
	cube := unitCube()
	criteria := Criteria{MaxIterations: 100, Confidence: 0.99}

	result, err := Estimate(context.Background(), cube, cube, identityPairs(8), 0.01, criteria, WithSeed(1))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if result.InlierCount != 8 {
		t.Errorf("inlier count = %d, want 8", result.InlierCount)
	}
	if result.Fitness != 1.0 {
		t.Errorf("fitness = %v, want 1.0", result.Fitness)
	}
	if !transformsClose(result.Transform, geom.Identity(), 1e-9) {
		t.Errorf("transform not identity: %v", result.Transform)
	}
	if result.InlierRMSE > 1e-9 {
		t.Errorf("RMSE = %v, want ~0", result.InlierRMSE)
	}
}

func TestEstimate_CubeWithScrambledPairs(t *testing.T) {
	// Identity pairing for 6 of 8 corners; the last two swapped. The
	// scrambled pairs cannot be inliers of the identity transform.
	cube := unitCube()
	corrs := identityPairs(6)
	corrs = append(corrs,
		Correspondence{SourceIndex: 6, TargetIndex: 7},
		Correspondence{SourceIndex: 7, TargetIndex: 6},
	)

	criteria := Criteria{MaxIterations: 1000, Confidence: 0.999}
	result, err := Estimate(context.Background(), cube, cube, corrs, 0.01, criteria, WithSeed(2))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if result.InlierCount != 6 {
		t.Errorf("inlier count = %d, want 6", result.InlierCount)
	}
	if math.Abs(result.Fitness-0.75) > 1e-12 {
		t.Errorf("fitness = %v, want 0.75", result.Fitness)
	}
	if !transformsClose(result.Transform, geom.Identity(), 1e-6) {
		t.Errorf("transform not identity within 1e-6: %v", result.Transform)
	}
}

func TestEstimate_RecoverKnownTransform(t *testing.T) {
	// 30% of correspondences corrupted; the true rotation+translation must
	// still be recovered.
	truth := rotZ(math.Pi/6, geom.Vec3{X: 0.5, Y: -0.3, Z: 1.2})

	rng := rand.New(rand.NewSource(11))
	const n = 100
	src := make(geom.Cloud, n)
	dst := make(geom.Cloud, n)
	for i := 0; i < n; i++ {
		src[i] = geom.Vec3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		dst[i] = truth.Apply(src[i])
	}
	// Corrupt 30 targets: move them far outside the working volume so
	// they can never be inliers.
	for i := 0; i < 30; i++ {
		dst[i] = geom.Vec3{X: 5 + rng.Float64()*5, Y: 5 + rng.Float64()*5, Z: 5 + rng.Float64()*5}
	}

	criteria := Criteria{MaxIterations: 1000, Confidence: 0.999}
	result, err := Estimate(context.Background(), src, dst, identityPairs(n), 0.01, criteria, WithSeed(3))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if result.InlierCount != 70 {
		t.Errorf("inlier count = %d, want 70", result.InlierCount)
	}
	if !transformsClose(result.Transform, truth, 1e-6) {
		t.Errorf("recovered transform differs from ground truth")
	}
	if !result.Transform.IsRigid() {
		t.Error("recovered transform is not rigid")
	}
}

func TestEstimate_SeededRunsAreIdentical(t *testing.T) {
	truth := rotZ(0.4, geom.Vec3{X: 1, Y: 0, Z: 0})
	rng := rand.New(rand.NewSource(21))
	const n = 50
	src := make(geom.Cloud, n)
	dst := make(geom.Cloud, n)
	for i := 0; i < n; i++ {
		src[i] = geom.Vec3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		dst[i] = truth.Apply(src[i])
	}
	for i := 0; i < 10; i++ {
		dst[i] = geom.Vec3{X: 9, Y: 9, Z: 9 + float64(i)}
	}

	criteria := Criteria{MaxIterations: 500, Confidence: 0.999}
	for _, workers := range []int{1, 4} {
		a, err := Estimate(context.Background(), src, dst, identityPairs(n), 0.02, criteria, WithSeed(42), WithWorkers(workers))
		if err != nil {
			t.Fatalf("workers=%d first run failed: %v", workers, err)
		}
		b, err := Estimate(context.Background(), src, dst, identityPairs(n), 0.02, criteria, WithSeed(42), WithWorkers(workers))
		if err != nil {
			t.Fatalf("workers=%d second run failed: %v", workers, err)
		}
		if a != b {
			t.Errorf("workers=%d seeded runs differ:\na = %+v\nb = %+v", workers, a, b)
		}
	}
}

func TestEstimate_InvalidArguments(t *testing.T) {
	cube := unitCube()
	corrs := identityPairs(8)
	okCriteria := Criteria{MaxIterations: 100, Confidence: 0.99}

	tests := []struct {
		name     string
		src, dst geom.Cloud
		corrs    []Correspondence
		maxDist  float64
		criteria Criteria
	}{
		{"empty source", geom.Cloud{}, cube, corrs, 0.01, okCriteria},
		{"empty target", cube, geom.Cloud{}, corrs, 0.01, okCriteria},
		{"no correspondences", cube, cube, nil, 0.01, okCriteria},
		{"too few correspondences", cube, cube, identityPairs(2), 0.01, okCriteria},
		{"source index out of range", cube, cube, []Correspondence{{0, 0}, {1, 1}, {8, 2}}, 0.01, okCriteria},
		{"target index out of range", cube, cube, []Correspondence{{0, 0}, {1, 1}, {2, -1}}, 0.01, okCriteria},
		{"zero distance", cube, cube, corrs, 0, okCriteria},
		{"negative distance", cube, cube, corrs, -1, okCriteria},
		{"zero max iterations", cube, cube, corrs, 0.01, Criteria{MaxIterations: 0, Confidence: 0.99}},
		{"negative max iterations", cube, cube, corrs, 0.01, Criteria{MaxIterations: -5, Confidence: 0.99}},
		{"zero confidence", cube, cube, corrs, 0.01, Criteria{MaxIterations: 100, Confidence: 0}},
		{"confidence of one", cube, cube, corrs, 0.01, Criteria{MaxIterations: 100, Confidence: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Estimate(context.Background(), tt.src, tt.dst, tt.corrs, tt.maxDist, tt.criteria)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestEstimate_NoValidModel(t *testing.T) {
	// All points on a line: every minimal sample is collinear, so no
	// hypothesis can ever be fitted.
	line := geom.Cloud{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 3, Y: 0, Z: 0}, {X: 4, Y: 0, Z: 0}}
	criteria := Criteria{MaxIterations: 50, Confidence: 0.99}

	_, err := Estimate(context.Background(), line, line, identityPairs(5), 0.01, criteria, WithSeed(4))
	if !errors.Is(err, ErrNoValidModel) {
		t.Errorf("expected ErrNoValidModel, got %v", err)
	}
}

func TestEstimate_ZeroInliersIsNotAnError(t *testing.T) {
	// Target is a scaled copy: no rigid transform can bring any sampled
	// triangle within the threshold, but RANSAC must degrade gracefully.
	cube := unitCube()
	scaled := make(geom.Cloud, len(cube))
	for i, p := range cube {
		scaled[i] = p.Scale(3)
	}

	criteria := Criteria{MaxIterations: 200, Confidence: 0.99}
	result, err := Estimate(context.Background(), cube, scaled, identityPairs(8), 1e-6, criteria, WithSeed(5))
	if err != nil {
		t.Fatalf("expected graceful zero-inlier result, got error: %v", err)
	}

	if result.InlierCount != 0 {
		t.Errorf("inlier count = %d, want 0", result.InlierCount)
	}
	if result.Fitness != 0 {
		t.Errorf("fitness = %v, want 0", result.Fitness)
	}
	if result.Transform != geom.Identity() {
		t.Errorf("transform = %v, want identity", result.Transform)
	}
}

func TestEstimate_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cube := unitCube()
	criteria := Criteria{MaxIterations: 100000, Confidence: 0.999999}
	result, err := Estimate(ctx, cube, cube, identityPairs(8), 0.01, criteria, WithSeed(6))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Cancellation is not a failure: the partial result is still usable.
	if !result.Transform.IsRigid() {
		t.Errorf("partial result transform not usable: %v", result.Transform)
	}
}

func TestScore_ThresholdMonotonicity(t *testing.T) {
	// For a fixed transform, widening the distance threshold never loses
	// inliers.
	rng := rand.New(rand.NewSource(31))
	const n = 60
	src := make(geom.Cloud, n)
	dst := make(geom.Cloud, n)
	for i := 0; i < n; i++ {
		src[i] = geom.Vec3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		noise := geom.Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Scale(0.05)
		dst[i] = src[i].Add(noise)
	}
	corrs := identityPairs(n)

	prev := -1
	for _, threshold := range []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0} {
		count, _ := score(src, dst, corrs, geom.Identity(), threshold*threshold)
		if count < prev {
			t.Errorf("threshold %v: inlier count %d dropped below %d", threshold, count, prev)
		}
		prev = count
	}
	if prev != n {
		t.Errorf("largest threshold admitted %d inliers, want %d", prev, n)
	}
}

func TestEstimate_ThresholdMonotonicity(t *testing.T) {
	cube := unitCube()
	corrs := identityPairs(6)
	corrs = append(corrs,
		Correspondence{SourceIndex: 6, TargetIndex: 7},
		Correspondence{SourceIndex: 7, TargetIndex: 6},
	)
	criteria := Criteria{MaxIterations: 500, Confidence: 0.999}

	prev := -1
	for _, threshold := range []float64{0.001, 0.01, 0.1} {
		result, err := Estimate(context.Background(), cube, cube, corrs, threshold, criteria, WithSeed(7))
		if err != nil {
			t.Fatalf("threshold %v: %v", threshold, err)
		}
		if result.InlierCount < prev {
			t.Errorf("threshold %v: inlier count %d dropped below %d", threshold, result.InlierCount, prev)
		}
		prev = result.InlierCount
	}
}

func TestAdaptiveBound(t *testing.T) {
	tests := []struct {
		name        string
		confidence  float64
		inlierRatio float64
		max         int
		want        int
	}{
		{"no inliers keeps full budget", 0.99, 0, 1000, 1000},
		{"all inliers stops immediately", 0.99, 1, 1000, 0},
		{"tiny ratio clamps to max", 0.999, 0.01, 1000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adaptiveBound(tt.confidence, tt.inlierRatio, tt.max); got != tt.want {
				t.Errorf("adaptiveBound(%v, %v, %d) = %d, want %d", tt.confidence, tt.inlierRatio, tt.max, got, tt.want)
			}
		})
	}

	// Half inliers: k = log(0.01)/log(1-0.125) ≈ 34.5 → 35.
	got := adaptiveBound(0.99, 0.5, 1000)
	if got < 30 || got > 40 {
		t.Errorf("adaptiveBound(0.99, 0.5, 1000) = %d, want ≈35", got)
	}
}

func TestEstimate_ParallelMatchesSerialQuality(t *testing.T) {
	truth := rotZ(-0.9, geom.Vec3{X: 2, Y: 1, Z: 0})
	rng := rand.New(rand.NewSource(41))
	const n = 80
	src := make(geom.Cloud, n)
	dst := make(geom.Cloud, n)
	for i := 0; i < n; i++ {
		src[i] = geom.Vec3{X: rng.Float64() * 2, Y: rng.Float64() * 2, Z: rng.Float64() * 2}
		dst[i] = truth.Apply(src[i])
	}
	for i := 0; i < 20; i++ {
		dst[i] = geom.Vec3{X: 20, Y: 20, Z: 20 + float64(i)}
	}

	criteria := Criteria{MaxIterations: 2000, Confidence: 0.999}
	for _, workers := range []int{1, 2, 8} {
		result, err := Estimate(context.Background(), src, dst, identityPairs(n), 0.01, criteria, WithSeed(8), WithWorkers(workers))
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if result.InlierCount != 60 {
			t.Errorf("workers=%d: inlier count = %d, want 60", workers, result.InlierCount)
		}
		if !transformsClose(result.Transform, truth, 1e-6) {
			t.Errorf("workers=%d: transform differs from ground truth", workers)
		}
	}
}

func BenchmarkEstimate(b *testing.B) {
	truth := rotZ(0.5, geom.Vec3{X: 1, Y: 2, Z: 3})
	rng := rand.New(rand.NewSource(51))
	const n = 1000
	src := make(geom.Cloud, n)
	dst := make(geom.Cloud, n)
	for i := 0; i < n; i++ {
		src[i] = geom.Vec3{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64() * 10}
		dst[i] = truth.Apply(src[i])
	}
	for i := 0; i < 300; i++ {
		dst[i] = geom.Vec3{X: 100, Y: 100, Z: 100 + float64(i)}
	}
	corrs := identityPairs(n)
	criteria := Criteria{MaxIterations: 1000, Confidence: 0.999}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Estimate(context.Background(), src, dst, corrs, 0.05, criteria, WithSeed(int64(i))); err != nil {
			b.Fatal(err)
		}
	}
}
