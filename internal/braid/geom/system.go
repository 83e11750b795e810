package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DistortedObservation is one camera's observed pixel of a target.
type DistortedObservation struct {
	Cam   string
	Pixel DistortedPixel
}

// UndistortedObservation is one camera's ideal-pinhole pixel of a
// target.
type UndistortedObservation struct {
	Cam   string
	Pixel UndistortedPixel
}

// CamAndDist is one camera's reprojection distance for a triangulated
// point, in undistorted pixels.
type CamAndDist struct {
	Cam        string
	ReprojDist float64
}

// TriangulationResult is a triangulated world point with its
// reprojection errors in every contributing camera.
type TriangulationResult struct {
	Point          WorldPoint
	CumReprojDist  float64
	MeanReprojDist float64
	PerCam         []CamAndDist
}

// CameraSystem is a set of calibrated cameras sharing one world frame.
type CameraSystem struct {
	names []string
	cams  map[string]*Camera
}

// NewCameraSystem builds a system from cameras with distinct names. The
// iteration order of Names follows the argument order.
func NewCameraSystem(cams []*Camera) (*CameraSystem, error) {
	if len(cams) == 0 {
		return nil, fmt.Errorf("geom: camera system needs at least one camera")
	}
	s := &CameraSystem{cams: make(map[string]*Camera, len(cams))}
	for _, c := range cams {
		if c == nil {
			return nil, fmt.Errorf("geom: nil camera")
		}
		if _, dup := s.cams[c.Name()]; dup {
			return nil, fmt.Errorf("geom: duplicate camera name %q", c.Name())
		}
		s.cams[c.Name()] = c
		s.names = append(s.names, c.Name())
	}
	return s, nil
}

// Names returns the camera names in load order.
func (s *CameraSystem) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of cameras.
func (s *CameraSystem) Len() int { return len(s.cams) }

// CameraByName returns the named camera.
func (s *CameraSystem) CameraByName(name string) (*Camera, bool) {
	c, ok := s.cams[name]
	return c, ok
}

// Find3D triangulates a world point from undistorted observations in
// two or more cameras using the direct linear transform. The returned
// point minimizes the algebraic error, not the reprojection error.
func (s *CameraSystem) Find3D(obs []UndistortedObservation) (WorldPoint, error) {
	if len(obs) < 2 {
		return WorldPoint{}, ErrNotEnoughPoints
	}
	a := mat.NewDense(2*len(obs), 4, nil)
	for i, o := range obs {
		cam, ok := s.cams[o.Cam]
		if !ok {
			return WorldPoint{}, fmt.Errorf("%w: %q", ErrUnknownCamera, o.Cam)
		}
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, o.Pixel.X*cam.p[2][j]-cam.p[0][j])
			a.Set(2*i+1, j, o.Pixel.Y*cam.p[2][j]-cam.p[1][j])
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return WorldPoint{}, ErrSVDFailed
	}
	var v mat.Dense
	svd.VTo(&v)
	_, vc := v.Dims()
	h := [4]float64{v.At(0, vc-1), v.At(1, vc-1), v.At(2, vc-1), v.At(3, vc-1)}
	if h[3] == 0 {
		return WorldPoint{}, fmt.Errorf("%w: point at infinity", ErrSVDFailed)
	}
	return WorldPoint{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}, nil
}

// Find3DDistorted undistorts the observations, triangulates, and
// reports the reprojection distance in every contributing camera.
func (s *CameraSystem) Find3DDistorted(obs []DistortedObservation) (TriangulationResult, error) {
	if len(obs) < 2 {
		return TriangulationResult{}, ErrNotEnoughPoints
	}
	und := make([]UndistortedObservation, len(obs))
	for i, o := range obs {
		cam, ok := s.cams[o.Cam]
		if !ok {
			return TriangulationResult{}, fmt.Errorf("%w: %q", ErrUnknownCamera, o.Cam)
		}
		und[i] = UndistortedObservation{Cam: o.Cam, Pixel: cam.Undistort(o.Pixel)}
	}
	pt, err := s.Find3D(und)
	if err != nil {
		return TriangulationResult{}, err
	}
	res := TriangulationResult{Point: pt, PerCam: make([]CamAndDist, len(und))}
	for i, o := range und {
		proj := s.cams[o.Cam].Project3DToPixel(pt)
		d := math.Hypot(proj.X-o.Pixel.X, proj.Y-o.Pixel.Y)
		res.PerCam[i] = CamAndDist{Cam: o.Cam, ReprojDist: d}
		res.CumReprojDist += d
	}
	res.MeanReprojDist = res.CumReprojDist / float64(len(und))
	return res, nil
}

// ReprojectionDistance returns the undistorted-pixel distance between
// the projection of pt in the named camera and an observation.
func (s *CameraSystem) ReprojectionDistance(camName string, pt WorldPoint, obs UndistortedPixel) (float64, error) {
	cam, ok := s.cams[camName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCamera, camName)
	}
	proj := cam.Project3DToPixel(pt)
	return math.Hypot(proj.X-obs.X, proj.Y-obs.Y), nil
}
