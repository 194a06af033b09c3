package trajectory

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance bounds the determinant error accepted by
// IsValidTransformMatrix.
const MatrixValidationTolerance = 0.01

// Transform returns the row-major 4x4 homogeneous matrix that rotates by
// rot and then translates by t. A nil rot is the identity.
func Transform(rot *r3.Mat, t r3.Vec) [16]float64 {
	if rot == nil {
		rot = r3.Eye()
	}
	return [16]float64{
		rot.At(0, 0), rot.At(0, 1), rot.At(0, 2), t.X,
		rot.At(1, 0), rot.At(1, 1), rot.At(1, 2), t.Y,
		rot.At(2, 0), rot.At(2, 1), rot.At(2, 2), t.Z,
		0, 0, 0, 1,
	}
}

// ApplyTransform applies a row-major 4x4 homogeneous transform to every
// point.
func (s *Store) ApplyTransform(T [16]float64) {
	s.Each(func(t *Trajectory) {
		for i := range t.Data {
			t.Data[i] = ApplyPose(t.Data[i], T)
		}
	})
}

// ApplyPose transforms p by the row-major 4x4 matrix T.
func ApplyPose(p r3.Vec, T [16]float64) r3.Vec {
	return r3.Vec{
		X: T[0]*p.X + T[1]*p.Y + T[2]*p.Z + T[3],
		Y: T[4]*p.X + T[5]*p.Y + T[6]*p.Z + T[7],
		Z: T[8]*p.X + T[9]*p.Y + T[10]*p.Z + T[11],
	}
}

// IsValidTransformMatrix checks that T holds a proper rotation (determinant
// near 1) and a homogeneous last row.
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	return T[12] == 0 && T[13] == 0 && T[14] == 0 && math.Abs(T[15]-1.0) <= 0.001
}

// AlignmentRotation returns the rotation taking the direction of from onto
// the direction of to (Rodrigues). Antiparallel inputs rotate by pi about
// an axis perpendicular to from.
func AlignmentRotation(from, to r3.Vec) *r3.Mat {
	a, b := r3.Unit(from), r3.Unit(to)
	c := r3.Dot(a, b)
	if c > 1-1e-12 {
		return r3.Eye()
	}
	if c < -1+1e-12 {
		axis := r3.Cross(a, r3.Vec{X: 1})
		if r3.Norm(axis) < 1e-6 {
			axis = r3.Cross(a, r3.Vec{Y: 1})
		}
		return r3.NewRotation(math.Pi, r3.Unit(axis)).Mat()
	}
	axis := r3.Cross(a, b)
	return r3.NewRotation(math.Acos(c), r3.Unit(axis)).Mat()
}
