package motion

import "math"

// axisRange is the nominal maximum magnitude of a raw device axis sample
// (spec.md §3: "Axis magnitude nominally ≤ 350").
const axisRange = 350.0

// Condition applies the per-axis deadzone-and-gamma response curve
// (spec.md §4.5 step 2). The result is odd, monotonic non-decreasing in
// |v|, and zero on (-deadzone, deadzone) (spec.md §8 properties 1-2).
func Condition(v int32, deadzone int, gamma float64) float64 {
	mag := math.Abs(float64(v))
	if mag < float64(deadzone) {
		return 0
	}

	normalized := math.Min(mag/axisRange, 1.0)
	curved := math.Pow(normalized, gamma)

	sign := 1.0
	if v < 0 {
		sign = -1.0
	}
	return sign * curved * axisRange
}

// TransScale derives the translation scale factor from sensitivity
// (spec.md §4.5 step 3).
func TransScale(sensitivity float64) float64 {
	return sensitivity * 0.5 / axisRange
}

// RotScale derives the rotation scale factor from sensitivity
// (spec.md §4.5 step 3).
func RotScale(sensitivity float64) float64 {
	return sensitivity * 10.0 / axisRange
}
