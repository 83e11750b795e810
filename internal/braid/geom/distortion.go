package geom

import "math"

// DistortionModel is the Brown-Conrady lens model with the parameter
// layout used in flydra calibration files: focal lengths fc1, fc2 and
// principal point cc1, cc2 in pixels, radial terms k1, k2, tangential
// terms p1, p2, and skew alpha_c.
type DistortionModel struct {
	Fc1, Fc2 float64
	Cc1, Cc2 float64
	K1, K2   float64
	P1, P2   float64
	AlphaC   float64
}

// IsLinear reports whether the model has no nonlinear terms, in which
// case distorted and undistorted coordinates differ only by rounding.
func (d DistortionModel) IsLinear() bool {
	return d.K1 == 0 && d.K2 == 0 && d.P1 == 0 && d.P2 == 0
}

// applyNormalized maps ideal normalized image coordinates to distorted
// normalized coordinates.
func (d DistortionModel) applyNormalized(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	kr := 1 + d.K1*r2 + d.K2*r2*r2
	dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
	dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return x*kr + dx, y*kr + dy
}

// The fixed-point inversion of the distortion model runs until the
// iterate moves by less than undistortTolerance in normalized
// coordinates (well under 1e-6 px at typical focal lengths), with a
// hard cap for parameters where the iteration does not contract.
const (
	undistortTolerance     = 1e-12
	undistortMaxIterations = 50
)

// removeNormalized maps distorted normalized coordinates back to ideal
// normalized coordinates by fixed-point iteration.
func (d DistortionModel) removeNormalized(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < undistortMaxIterations; i++ {
		r2 := x*x + y*y
		kr := 1 + d.K1*r2 + d.K2*r2*r2
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		xn := (xd - dx) / kr
		yn := (yd - dy) / kr
		step := math.Abs(xn-x) + math.Abs(yn-y)
		x, y = xn, yn
		if step < undistortTolerance {
			break
		}
	}
	return x, y
}

// Distort maps an ideal pinhole pixel to the pixel the sensor would
// observe.
func (d DistortionModel) Distort(p UndistortedPixel) DistortedPixel {
	y := (p.Y - d.Cc2) / d.Fc2
	x := (p.X-d.Cc1)/d.Fc1 - d.AlphaC*y
	xd, yd := d.applyNormalized(x, y)
	return DistortedPixel{
		X: d.Fc1*(xd+d.AlphaC*yd) + d.Cc1,
		Y: d.Fc2*yd + d.Cc2,
	}
}

// Undistort maps an observed sensor pixel to the ideal pinhole pixel.
func (d DistortionModel) Undistort(p DistortedPixel) UndistortedPixel {
	if d.IsLinear() {
		return UndistortedPixel{X: p.X, Y: p.Y}
	}
	yd := (p.Y - d.Cc2) / d.Fc2
	xd := (p.X-d.Cc1)/d.Fc1 - d.AlphaC*yd
	x, y := d.removeNormalized(xd, yd)
	return UndistortedPixel{
		X: d.Fc1*(x+d.AlphaC*y) + d.Cc1,
		Y: d.Fc2*y + d.Cc2,
	}
}
