package register

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/cloudalign/geom"
)

// degenerateSigmaRatio is the minimum ratio of the second singular value of
// the cross-covariance to the largest one. Below this the sample is
// near-collinear (or contains duplicate points) and the rotation is
// ambiguous, so the fit is rejected.
const degenerateSigmaRatio = 1e-6

// fitRigid computes the closed-form least-squares rigid transform mapping
// srcPts onto dstPts (Kabsch algorithm):
//
//  1. Centre both point sets on their centroids
//  2. Build the 3x3 cross-covariance H = Σ p·qᵀ
//  3. SVD: H = U·Σ·Vᵀ, then R = V·Uᵀ
//  4. If det(R) < 0 flip the last column of V (reflection correction)
//  5. t = centroid(dst) - R·centroid(src)
//
// Returns ok=false for degenerate inputs: fewer than three pairs,
// mismatched lengths, or a rank-deficient cross-covariance.
func fitRigid(srcPts, dstPts []geom.Vec3) (geom.Transform, bool) {
	n := len(srcPts)
	if n < 3 || len(dstPts) != n {
		return geom.Identity(), false
	}

	cs := geom.Cloud(srcPts).Centroid()
	cd := geom.Cloud(dstPts).Centroid()

	// Cross-covariance, row-major. h[a*3+b] = Σ p[a]*q[b].
	var h [9]float64
	for i := 0; i < n; i++ {
		p := srcPts[i].Sub(cs)
		q := dstPts[i].Sub(cd)
		h[0] += p.X * q.X
		h[1] += p.X * q.Y
		h[2] += p.X * q.Z
		h[3] += p.Y * q.X
		h[4] += p.Y * q.Y
		h[5] += p.Y * q.Z
		h[6] += p.Z * q.X
		h[7] += p.Z * q.Y
		h[8] += p.Z * q.Z
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull) {
		return geom.Identity(), false
	}

	sigma := svd.Values(nil)
	if sigma[0] < 1e-12 || sigma[1] <= degenerateSigmaRatio*sigma[0] {
		return geom.Identity(), false
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	rot := [9]float64{
		r.At(0, 0), r.At(0, 1), r.At(0, 2),
		r.At(1, 0), r.At(1, 1), r.At(1, 2),
		r.At(2, 0), r.At(2, 1), r.At(2, 2),
	}
	t := cd.Sub(geom.Vec3{
		X: rot[0]*cs.X + rot[1]*cs.Y + rot[2]*cs.Z,
		Y: rot[3]*cs.X + rot[4]*cs.Y + rot[5]*cs.Z,
		Z: rot[6]*cs.X + rot[7]*cs.Y + rot[8]*cs.Z,
	})

	return geom.NewTransform(rot, t), true
}
