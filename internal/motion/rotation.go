package motion

import "math"

// RotationX returns the 3x3 rotation matrix for a rotation of degrees
// degrees about the X axis (spec.md §4.5 step 8).
func RotationX(degrees float64) Mat3 {
	r := degrees * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return Mat3{
		{1, 0, 0},
		{0, c, -s},
		{0, s, c},
	}
}

// RotationY returns the 3x3 rotation matrix for a rotation of degrees
// degrees about the Y axis.
func RotationY(degrees float64) Mat3 {
	r := degrees * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return Mat3{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}
}

// RotationZ returns the 3x3 rotation matrix for a rotation of degrees
// degrees about the Z axis.
func RotationZ(degrees float64) Mat3 {
	r := degrees * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return Mat3{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}

// AxisAngle builds a rotation matrix about one of the named principal axes
// ("x", "y", "z") for the given angle in radians, used for the discrete
// spin_axis button action (spec.md §4.5 step 9).
func AxisAngle(axis string, radians float64) Mat3 {
	degrees := radians * 180 / math.Pi
	switch axis {
	case "x":
		return RotationX(degrees)
	case "y":
		return RotationY(degrees)
	default:
		return RotationZ(degrees)
	}
}

// DeltaRotation composes the incremental camera-frame rotation from the
// three conditioned angular axes (spec.md §4.5 step 8):
// R_delta = R_x(rx·rot_scale°) · R_y(ry·rot_scale°) · R_z(-rz·rot_scale°)
func DeltaRotation(rxCond, ryCond, rzCond, rotScale float64) Mat3 {
	rx := RotationX(rxCond * rotScale)
	ry := RotationY(ryCond * rotScale)
	rz := RotationZ(-rzCond * rotScale)
	return Mul3(rx, Mul3(ry, rz))
}
