package math

import (
	"math"

	"github.com/pkg/errors"
)

// ErrDegenerateMatrix is returned when inverting a matrix whose determinant is
// exactly zero. It is not recoverable: callers abort the operation.
var ErrDegenerateMatrix = errors.New("degenerate matrix: zero determinant")

// Mat4 is a 4x4 affine matrix stored as 16 floats.
// Layout: [m0  m1  m2  m3 ]   row 0: X basis (scaled)
//
//	[m4  m5  m6  m7 ]   row 1: Y basis (scaled)
//	[m8  m9  m10 m11]   row 2: Z basis (scaled)
//	[m12 m13 m14 m15]   row 3: translation
//
// The memory order matches OpenGL's column-major convention, so the same
// array can be handed to a shader unchanged.
type Mat4 [16]float32

// Identity returns an identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation matrix.
func Translate(x, y, z float32) Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		x, y, z, 1,
	}
}

// FromTranslation returns a translation matrix for v.
func FromTranslation(v Vec3) Mat4 {
	return Translate(v.X, v.Y, v.Z)
}

// FromScale returns a scale matrix for v.
func FromScale(v Vec3) Mat4 {
	return Mat4{
		v.X, 0, 0, 0,
		0, v.Y, 0, 0,
		0, 0, v.Z, 0,
		0, 0, 0, 1,
	}
}

// FromRotation returns the rotation matrix of q.
func FromRotation(q Quat) Mat4 {
	return q.ToMat4()
}

// FromTRS composes Translation × Rotation × Scale; scale is applied first.
func FromTRS(t Vec3, r Quat, s Vec3) Mat4 {
	return FromTranslation(t).Mul(FromRotation(r)).Mul(FromScale(s))
}

// Mul multiplies this matrix by another (m * other).
func (m Mat4) Mul(other Mat4) Mat4 {
	var result Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			result[col*4+row] =
				m[0*4+row]*other[col*4+0] +
					m[1*4+row]*other[col*4+1] +
					m[2*4+row]*other[col*4+2] +
					m[3*4+row]*other[col*4+3]
		}
	}
	return result
}

// TransformPoint transforms a 3D point by this matrix (assumes w=1).
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// Determinant returns the determinant of the matrix.
func (m Mat4) Determinant() float32 {
	c00, c01, c02, c03 := m.firstCofactors()
	return m[0]*c00 + m[4]*c01 + m[8]*c02 + m[12]*c03
}

func (m Mat4) firstCofactors() (c00, c01, c02, c03 float32) {
	c00 = m[5]*m[10]*m[15] - m[5]*m[11]*m[14] - m[9]*m[6]*m[15] + m[9]*m[7]*m[14] + m[13]*m[6]*m[11] - m[13]*m[7]*m[10]
	c01 = -m[1]*m[10]*m[15] + m[1]*m[11]*m[14] + m[9]*m[2]*m[15] - m[9]*m[3]*m[14] - m[13]*m[2]*m[11] + m[13]*m[3]*m[10]
	c02 = m[1]*m[6]*m[15] - m[1]*m[7]*m[14] - m[5]*m[2]*m[15] + m[5]*m[3]*m[14] + m[13]*m[2]*m[7] - m[13]*m[3]*m[6]
	c03 = -m[1]*m[6]*m[11] + m[1]*m[7]*m[10] + m[5]*m[2]*m[11] - m[5]*m[3]*m[10] - m[9]*m[2]*m[7] + m[9]*m[3]*m[6]
	return
}

// Inverse returns the inverse of the matrix by full cofactor expansion.
// A determinant of exactly zero yields ErrDegenerateMatrix.
func (m Mat4) Inverse() (Mat4, error) {
	c00, c01, c02, c03 := m.firstCofactors()

	c10 := -m[4]*m[10]*m[15] + m[4]*m[11]*m[14] + m[8]*m[6]*m[15] - m[8]*m[7]*m[14] - m[12]*m[6]*m[11] + m[12]*m[7]*m[10]
	c11 := m[0]*m[10]*m[15] - m[0]*m[11]*m[14] - m[8]*m[2]*m[15] + m[8]*m[3]*m[14] + m[12]*m[2]*m[11] - m[12]*m[3]*m[10]
	c12 := -m[0]*m[6]*m[15] + m[0]*m[7]*m[14] + m[4]*m[2]*m[15] - m[4]*m[3]*m[14] - m[12]*m[2]*m[7] + m[12]*m[3]*m[6]
	c13 := m[0]*m[6]*m[11] - m[0]*m[7]*m[10] - m[4]*m[2]*m[11] + m[4]*m[3]*m[10] + m[8]*m[2]*m[7] - m[8]*m[3]*m[6]

	c20 := m[4]*m[9]*m[15] - m[4]*m[11]*m[13] - m[8]*m[5]*m[15] + m[8]*m[7]*m[13] + m[12]*m[5]*m[11] - m[12]*m[7]*m[9]
	c21 := -m[0]*m[9]*m[15] + m[0]*m[11]*m[13] + m[8]*m[1]*m[15] - m[8]*m[3]*m[13] - m[12]*m[1]*m[11] + m[12]*m[3]*m[9]
	c22 := m[0]*m[5]*m[15] - m[0]*m[7]*m[13] - m[4]*m[1]*m[15] + m[4]*m[3]*m[13] + m[12]*m[1]*m[7] - m[12]*m[3]*m[5]
	c23 := -m[0]*m[5]*m[11] + m[0]*m[7]*m[9] + m[4]*m[1]*m[11] - m[4]*m[3]*m[9] - m[8]*m[1]*m[7] + m[8]*m[3]*m[5]

	c30 := -m[4]*m[9]*m[14] + m[4]*m[10]*m[13] + m[8]*m[5]*m[14] - m[8]*m[6]*m[13] - m[12]*m[5]*m[10] + m[12]*m[6]*m[9]
	c31 := m[0]*m[9]*m[14] - m[0]*m[10]*m[13] - m[8]*m[1]*m[14] + m[8]*m[2]*m[13] + m[12]*m[1]*m[10] - m[12]*m[2]*m[9]
	c32 := -m[0]*m[5]*m[14] + m[0]*m[6]*m[13] + m[4]*m[1]*m[14] - m[4]*m[2]*m[13] - m[12]*m[1]*m[6] + m[12]*m[2]*m[5]
	c33 := m[0]*m[5]*m[10] - m[0]*m[6]*m[9] - m[4]*m[1]*m[10] + m[4]*m[2]*m[9] + m[8]*m[1]*m[6] - m[8]*m[2]*m[5]

	det := m[0]*c00 + m[4]*c01 + m[8]*c02 + m[12]*c03
	if det == 0 {
		return Mat4{}, ErrDegenerateMatrix
	}

	invDet := 1.0 / det

	return Mat4{
		c00 * invDet, c01 * invDet, c02 * invDet, c03 * invDet,
		c10 * invDet, c11 * invDet, c12 * invDet, c13 * invDet,
		c20 * invDet, c21 * invDet, c22 * invDet, c23 * invDet,
		c30 * invDet, c31 * invDet, c32 * invDet, c33 * invDet,
	}, nil
}

// Row returns the leading three components of row i.
func (m Mat4) Row(i int) Vec3 {
	return Vec3{m[i*4], m[i*4+1], m[i*4+2]}
}

// Translation returns row 3.
func (m Mat4) Translation() Vec3 {
	return m.Row(3)
}

// Scale returns the per-axis length of rows 0..2.
func (m Mat4) Scale() Vec3 {
	return Vec3{m.Row(0).Length(), m.Row(1).Length(), m.Row(2).Length()}
}

// Rotation normalizes rows 0..2 by the extracted scale and converts the
// remaining rotation to a quaternion. The branch on the largest diagonal
// element keeps the square root away from zero near 180 degree rotations.
func (m Mat4) Rotation() Quat {
	s := m.Scale()
	scale := [3]float64{float64(s.X), float64(s.Y), float64(s.Z)}

	// r[row][col] of the pure rotation, rows of the stored layout are
	// the rotated basis vectors (columns of the textbook matrix).
	var r [3][3]float64
	for basis := 0; basis < 3; basis++ {
		inv := 1.0
		if scale[basis] != 0 {
			inv = 1.0 / scale[basis]
		}
		for k := 0; k < 3; k++ {
			r[k][basis] = float64(m[basis*4+k]) * inv
		}
	}

	var x, y, z, w float64
	trace := r[0][0] + r[1][1] + r[2][2]
	switch {
	case trace > 0:
		t := math.Sqrt(trace+1.0) * 2
		w = 0.25 * t
		x = (r[2][1] - r[1][2]) / t
		y = (r[0][2] - r[2][0]) / t
		z = (r[1][0] - r[0][1]) / t
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		t := math.Sqrt(1.0+r[0][0]-r[1][1]-r[2][2]) * 2
		w = (r[2][1] - r[1][2]) / t
		x = 0.25 * t
		y = (r[0][1] + r[1][0]) / t
		z = (r[0][2] + r[2][0]) / t
	case r[1][1] > r[2][2]:
		t := math.Sqrt(1.0+r[1][1]-r[0][0]-r[2][2]) * 2
		w = (r[0][2] - r[2][0]) / t
		x = (r[0][1] + r[1][0]) / t
		y = 0.25 * t
		z = (r[1][2] + r[2][1]) / t
	default:
		t := math.Sqrt(1.0+r[2][2]-r[0][0]-r[1][1]) * 2
		w = (r[1][0] - r[0][1]) / t
		x = (r[0][2] + r[2][0]) / t
		y = (r[1][2] + r[2][1]) / t
		z = 0.25 * t
	}

	return Quat{X: float32(x), Y: float32(y), Z: float32(z), W: float32(w)}.Normalize()
}

// Decompose splits the matrix into translation, rotation and scale.
func (m Mat4) Decompose() (Vec3, Quat, Vec3) {
	return m.Translation(), m.Rotation(), m.Scale()
}

// ApproxEqual reports whether every element differs by at most eps.
func (m Mat4) ApproxEqual(other Mat4, eps float32) bool {
	for i := range m {
		d := m[i] - other[i]
		if d > eps || d < -eps {
			return false
		}
	}
	return true
}
