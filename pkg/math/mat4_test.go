package math

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func vecNear(a, b Vec3, eps float32) bool {
	return abs(a.X-b.X) <= eps && abs(a.Y-b.Y) <= eps && abs(a.Z-b.Z) <= eps
}

func TestIdentity(t *testing.T) {
	m := Identity()
	// Diagonal should be 1
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	// Off-diagonal should be 0
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	id := Identity()
	result := m.Mul(id)

	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestTranslationIsRow3(t *testing.T) {
	m := Translate(5, 10, 15)

	if m[12] != 5 || m[13] != 10 || m[14] != 15 {
		t.Errorf("Translate: got (%f, %f, %f), want (5, 10, 15)", m[12], m[13], m[14])
	}
	if got := m.Translation(); got != (Vec3{5, 10, 15}) {
		t.Errorf("Translation() = %v, want (5, 10, 15)", got)
	}
}

func TestFromScale(t *testing.T) {
	m := FromScale(Vec3{2, 3, 4})

	if m[0] != 2 || m[5] != 3 || m[10] != 4 {
		t.Errorf("Scale diagonal: got (%f, %f, %f), want (2, 3, 4)", m[0], m[5], m[10])
	}
	if got := m.Scale(); got != (Vec3{2, 3, 4}) {
		t.Errorf("Scale() = %v, want (2, 3, 4)", got)
	}
}

func TestFromTRS_ScaleAppliedFirst(t *testing.T) {
	m := FromTRS(Vec3{10, 0, 0}, QuatIdentity(), Vec3{2, 2, 2})
	got := m.TransformPoint(Vec3{1, 1, 1})

	// scale to (2,2,2), then translate
	if !vecNear(got, Vec3{12, 2, 2}, 1e-6) {
		t.Errorf("TransformPoint = %v, want (12, 2, 2)", got)
	}
}

func TestFromTRS_MatchesMathGL(t *testing.T) {
	tr := Vec3{1.5, -2, 3.25}
	axis := Vec3{0, 0.6, 0.8}
	angle := float32(0.7)
	sc := Vec3{1.5, 0.5, 2}

	got := FromTRS(tr, QuatFromAxisAngle(axis, angle), sc)

	want := mgl32.Translate3D(tr.X, tr.Y, tr.Z).
		Mul4(mgl32.HomogRotate3D(angle, mgl32.Vec3{axis.X, axis.Y, axis.Z})).
		Mul4(mgl32.Scale3D(sc.X, sc.Y, sc.Z))

	if !got.ApproxEqual(Mat4(want), 1e-5) {
		t.Errorf("FromTRS = %v, want %v", got, want)
	}
}

func TestMul_MatchesMathGL(t *testing.T) {
	a := FromTRS(Vec3{1, 2, 3}, QuatFromAxisAngle(Vec3{1, 0, 0}, 0.3), Vec3{1, 2, 1})
	b := FromTRS(Vec3{-4, 0, 1}, QuatFromAxisAngle(Vec3{0, 0, 1}, 1.1), Vec3{0.5, 0.5, 3})

	want := mgl32.Mat4(a).Mul4(mgl32.Mat4(b))
	if got := a.Mul(b); !got.ApproxEqual(Mat4(want), 1e-5) {
		t.Errorf("Mul = %v, want %v", got, want)
	}
}

func TestInverse(t *testing.T) {
	m := FromTRS(Vec3{3, -1, 7}, QuatFromAxisAngle(Vec3{0, 1, 0}, 0.9), Vec3{2, 3, 0.5})

	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}
	if got := m.Mul(inv); !got.ApproxEqual(Identity(), 1e-5) {
		t.Errorf("M * M^-1 = %v, want identity", got)
	}

	want := mgl32.Mat4(m).Inv()
	if !inv.ApproxEqual(Mat4(want), 1e-4) {
		t.Errorf("Inverse = %v, want %v", inv, want)
	}
}

func TestInverse_Degenerate(t *testing.T) {
	m := FromScale(Vec3{1, 0, 1})

	_, err := m.Inverse()
	if !errors.Is(err, ErrDegenerateMatrix) {
		t.Errorf("expected ErrDegenerateMatrix, got %v", err)
	}
}

func TestDeterminant(t *testing.T) {
	m := FromScale(Vec3{2, 3, 4})
	if got := m.Determinant(); got != 24 {
		t.Errorf("Determinant = %f, want 24", got)
	}
}

func TestDecompose_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		tr    Vec3
		axis  Vec3
		angle float32
		sc    Vec3
	}{
		{"identity", Vec3{}, Vec3{0, 1, 0}, 0, Vec3{1, 1, 1}},
		{"translate only", Vec3{4, 5, 6}, Vec3{0, 1, 0}, 0, Vec3{1, 1, 1}},
		{"rotate x 90", Vec3{}, Vec3{1, 0, 0}, math.Pi / 2, Vec3{1, 1, 1}},
		{"rotate y 179", Vec3{1, 1, 1}, Vec3{0, 1, 0}, 179 * math.Pi / 180, Vec3{2, 2, 2}},
		{"rotate z 180", Vec3{}, Vec3{0, 0, 1}, math.Pi, Vec3{1, 3, 1}},
		{"rotate x 180", Vec3{}, Vec3{1, 0, 0}, math.Pi, Vec3{1, 1, 1}},
		{"oblique non-uniform", Vec3{-2, 0.5, 9}, Vec3{0.48, 0.6, 0.64}, 2.2, Vec3{0.5, 1.25, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := QuatFromAxisAngle(tt.axis, tt.angle)
			m := FromTRS(tt.tr, q, tt.sc)

			gotT, gotR, gotS := m.Decompose()
			if !vecNear(gotT, tt.tr, 1e-4) {
				t.Errorf("translation = %v, want %v", gotT, tt.tr)
			}
			if !vecNear(gotS, tt.sc, 1e-4) {
				t.Errorf("scale = %v, want %v", gotS, tt.sc)
			}
			if !gotR.SameRotation(q, 1e-4) {
				t.Errorf("rotation = %v, want %v", gotR, q)
			}
		})
	}
}
