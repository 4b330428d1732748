package motion

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pivot computes the model-centroid pivot point in world space from the
// six-float extents tuple (min.xyz, max.xyz) returned by model.extents
// (spec.md §4.5 step 6).
func Pivot(extents [6]float64) mgl64.Vec3 {
	min := mgl64.Vec3{extents[0], extents[1], extents[2]}
	max := mgl64.Vec3{extents[3], extents[4], extents[5]}
	return min.Add(max).Mul(0.5)
}

// PivotDistance transforms pivot into camera space via affine and returns
// the clamped distance used to scale translation (spec.md §4.5 step 6):
// pivot_cam = [pivot_world, 1] · M; dist = max(‖pivot_cam.xyz‖, 1).
func PivotDistance(pivot mgl64.Vec3, affine Mat4) float64 {
	p := [4]float64{pivot.X(), pivot.Y(), pivot.Z(), 1}
	cam := MulRowVec4(p, affine)
	length := mgl64.Vec3{cam[0], cam[1], cam[2]}.Len()
	return math.Max(length, 1.0)
}

// PivotMatrices returns the homogeneous translate-by-pivot (P+) and
// translate-by-negative-pivot (P-) matrices used to rotate about the
// model centroid rather than the origin (spec.md §4.5 step 11). Under the
// row-vector convention the translation lives in row 3 (spec.md §4.5 step
// 11's "T ... translation in row 3 cols 0..2").
func PivotMatrices(pivot mgl64.Vec3) (plus, minus Mat4) {
	plus = Identity4()
	plus[3][0], plus[3][1], plus[3][2] = pivot.X(), pivot.Y(), pivot.Z()

	minus = Identity4()
	minus[3][0], minus[3][1], minus[3][2] = -pivot.X(), -pivot.Y(), -pivot.Z()

	return plus, minus
}

// TranslationMatrix builds the row-3 translation matrix used for the
// camera-frame translation delta (spec.md §4.5 step 7).
func TranslationMatrix(t mgl64.Vec3) Mat4 {
	m := Identity4()
	m[3][0], m[3][1], m[3][2] = t.X(), t.Y(), t.Z()
	return m
}
