// Package geom is the multi-camera geometry service used by the tracker:
// projection of world points to pixels, undistortion, numerical
// linearization of the projection about a point, pixel rays, and DLT
// triangulation across cameras.
//
// Distorted and undistorted pixel coordinates are separate types on
// purpose; mixing them up is the classic calibration bug and the type
// system is cheaper than debugging it.
package geom

import "errors"

var (
	// ErrNotEnoughPoints is returned by triangulation with fewer than two
	// camera observations.
	ErrNotEnoughPoints = errors.New("geom: triangulation requires at least two points")
	// ErrUnknownCamera is returned when a named camera is not part of the
	// system.
	ErrUnknownCamera = errors.New("geom: unknown camera")
	// ErrSVDFailed is returned when the triangulation SVD does not
	// converge. Callers treat this as "no solution for these points", not
	// as a fatal condition.
	ErrSVDFailed = errors.New("geom: SVD failed to converge")
)

// WorldPoint is a 3D point in the calibrated world frame, in meters.
type WorldPoint struct {
	X, Y, Z float64
}

// DistortedPixel is a pixel coordinate as observed by the camera sensor,
// before lens distortion is removed.
type DistortedPixel struct {
	X, Y float64
}

// UndistortedPixel is an ideal pinhole pixel coordinate, after lens
// distortion is removed.
type UndistortedPixel struct {
	X, Y float64
}

// Ray is a world-frame ray from a camera center through a pixel.
type Ray struct {
	Origin WorldPoint
	Dir    WorldPoint
}

// IntersectZ0 returns the point where the ray's line crosses the z=0
// plane. ok is false when the ray is parallel to the plane.
func (r Ray) IntersectZ0() (WorldPoint, bool) {
	if r.Dir.Z == 0 {
		return WorldPoint{}, false
	}
	t := -r.Origin.Z / r.Dir.Z
	return WorldPoint{
		X: r.Origin.X + t*r.Dir.X,
		Y: r.Origin.Y + t*r.Dir.Y,
		Z: 0,
	}, true
}
