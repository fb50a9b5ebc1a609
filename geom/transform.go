package geom

import "math"

// RigidTolerance is the tolerance for checking rotation matrix validity
// when deciding whether a transform is a proper rigid transform.
const RigidTolerance = 0.01

// Transform is a 4x4 homogeneous rigid transform stored row-major:
// m00,m01,m02,m03, m10,... The upper-left 3x3 block is the rotation R,
// the last column holds the translation t.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// NewTransform builds a Transform from a row-major 3x3 rotation and a
// translation vector.
func NewTransform(r [9]float64, t Vec3) Transform {
	return Transform{
		r[0], r[1], r[2], t.X,
		r[3], r[4], r[5], t.Y,
		r[6], r[7], r[8], t.Z,
		0, 0, 0, 1,
	}
}

// Apply applies the transform to a point: R*p + t.
func (T Transform) Apply(p Vec3) Vec3 {
	return Vec3{
		X: T[0]*p.X + T[1]*p.Y + T[2]*p.Z + T[3],
		Y: T[4]*p.X + T[5]*p.Y + T[6]*p.Z + T[7],
		Z: T[8]*p.X + T[9]*p.Y + T[10]*p.Z + T[11],
	}
}

// Compose returns the transform equivalent to applying U first, then T.
func (T Transform) Compose(U Transform) Transform {
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += T[i*4+k] * U[k*4+j]
			}
			out[i*4+j] = s
		}
	}
	return out
}

// Translation returns the translation component.
func (T Transform) Translation() Vec3 {
	return Vec3{T[3], T[7], T[11]}
}

// Rotation returns the row-major 3x3 rotation block.
func (T Transform) Rotation() [9]float64 {
	return [9]float64{
		T[0], T[1], T[2],
		T[4], T[5], T[6],
		T[8], T[9], T[10],
	}
}

// RotationDeterminant returns the determinant of the rotation block.
// A proper rigid transform has determinant +1 (rotation, not reflection).
func (T Transform) RotationDeterminant() float64 {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]
	return r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
}

// IsRigid checks whether T is a valid rigid transform:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func (T Transform) IsRigid() bool {
	if math.Abs(T.RotationDeterminant()-1.0) > RigidTolerance {
		return false
	}

	// Rows of R must be unit length and mutually orthogonal.
	rows := [3]Vec3{
		{T[0], T[1], T[2]},
		{T[4], T[5], T[6]},
		{T[8], T[9], T[10]},
	}
	for i := 0; i < 3; i++ {
		if math.Abs(rows[i].Norm()-1.0) > RigidTolerance {
			return false
		}
		for j := i + 1; j < 3; j++ {
			if math.Abs(rows[i].Dot(rows[j])) > RigidTolerance {
				return false
			}
		}
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
