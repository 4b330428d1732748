package motion

import "github.com/go-gl/mathgl/mgl64"

// Sample is one raw 6-DoF reading in logical axis order, as decoded by the
// Device Reader.
type Sample struct {
	TX, TY, TZ int32
	RX, RY, RZ int32
}

// Params are the tunable response-curve inputs (spec.md §3 Config).
type Params struct {
	Deadzone    int
	Gamma       float64
	Sensitivity float64
}

// Conditioned holds the per-axis conditioned values (spec.md §4.5 step 2),
// exported so callers can test for the all-zero case (property 5).
type Conditioned struct {
	TX, TY, TZ float64
	RX, RY, RZ float64
}

// IsZero reports whether every conditioned axis is exactly zero.
func (c Conditioned) IsZero() bool {
	return c.TX == 0 && c.TY == 0 && c.TZ == 0 && c.RX == 0 && c.RY == 0 && c.RZ == 0
}

// ConditionSample applies per-axis deadzone/gamma conditioning to every
// axis of a raw sample (spec.md §4.5 step 2).
func ConditionSample(s Sample, p Params) Conditioned {
	return Conditioned{
		TX: Condition(s.TX, p.Deadzone, p.Gamma),
		TY: Condition(s.TY, p.Deadzone, p.Gamma),
		TZ: Condition(s.TZ, p.Deadzone, p.Gamma),
		RX: Condition(s.RX, p.Deadzone, p.Gamma),
		RY: Condition(s.RY, p.Deadzone, p.Gamma),
		RZ: Condition(s.RZ, p.Deadzone, p.Gamma),
	}
}

// RemoteState is the subset of remote camera/model state the pipeline
// reads before computing a new affine (spec.md §4.5 step 4).
type RemoteState struct {
	Affine  Mat4
	Extents [6]float64
}

// PendingSpin carries a discrete spin action queued by a button press,
// consumed and cleared by Apply (spec.md §4.5 step 9).
type PendingSpin struct {
	Radians float64
	Axis    string
}

// Apply runs the pure portion of the motion pipeline (spec.md §4.5 steps
// 2-3, 5-11): condition the sample, derive scales, orthonormalize the
// camera rotation, compute the pivot, build the incremental rotation
// (folding in any pending discrete spin), and compose the new affine. It
// performs no I/O and never suspends, per spec.md §4.6.
func Apply(raw Sample, params Params, state RemoteState, spin PendingSpin) Mat4 {
	cond := ConditionSample(raw, params)
	return ApplyConditioned(cond, params.Sensitivity, state, spin)
}

// ApplyConditioned is Apply's continuation once axis conditioning has
// already been computed, exposed separately so the zero-sample no-drift
// property (spec.md §8 property 5) and the conditioning-oddness property
// (property 1) can each be tested in isolation.
func ApplyConditioned(cond Conditioned, sensitivity float64, state RemoteState, spin PendingSpin) Mat4 {
	// A zero sample with no pending spin must leave the affine bitwise
	// unchanged (spec.md §8 property 5): short-circuit before the SVD,
	// whose Jacobi sweeps only converge to within floating-point tolerance
	// rather than reproducing an exact identity.
	if cond.IsZero() && spin.Radians == 0 {
		return state.Affine
	}

	transScale := TransScale(sensitivity)
	rotScale := RotScale(sensitivity)

	// Camera rotation, orthonormalized via SVD (step 5). The affine's
	// upper-left 3x3 holds R_cam^T, so transpose back to get R_cam.
	var rCamT Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rCamT[i][j] = state.Affine[i][j]
		}
	}
	rCam := Orthonormalize(Transpose3(rCamT))

	pivot := Pivot(state.Extents)
	dist := PivotDistance(pivot, state.Affine)
	pPlus, pMinus := PivotMatrices(pivot)

	// Step 7: camera-frame translation.
	t := mgl64.Vec3{-cond.TX, -cond.TY, -cond.TZ}.Mul(transScale * dist)
	transDelta := TranslationMatrix(t)

	// Step 8: incremental camera-frame rotation.
	rDelta := DeltaRotation(cond.RX, cond.RY, cond.RZ, rotScale)

	// Step 9: fold in a pending discrete spin, if any.
	if spin.Radians != 0 {
		rSpin := AxisAngle(spin.Axis, spin.Radians)
		rDelta = Mul3(rSpin, rDelta)
	}

	// Step 10: lift the camera-frame rotation delta to world space.
	rWorld := Mul3(rCam, Mul3(rDelta, Transpose3(rCam)))
	rRot := Lift3To4(rWorld)

	// Step 11: M' = T · M · (P- · R_rot · P+)
	inner := Mul4Many(pMinus, rRot, pPlus)
	return Mul4Many(transDelta, state.Affine, inner)
}
