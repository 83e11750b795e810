package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
	"github.com/braid-data/braid/internal/braid/geom"
)

// linearCam builds a distortion-free camera so distorted and
// undistorted pixel coordinates coincide in test data.
func linearCam(t *testing.T, name string, rot []float64, center geom.WorldPoint) *geom.Camera {
	t.Helper()
	dist := geom.DistortionModel{Fc1: 500, Fc2: 500, Cc1: 320, Cc2: 240}
	cam, err := geom.NewPinholeCamera(name, dist, 640, 480, mat.NewDense(3, 3, rot), center)
	require.NoError(t, err)
	return cam
}

// testRig is three cameras looking at the region around the origin from
// above, from +x and from +y.
func testRig(t *testing.T) *geom.CameraSystem {
	t.Helper()
	cams := []*geom.Camera{
		linearCam(t, "cam-a", []float64{1, 0, 0, 0, -1, 0, 0, 0, -1}, geom.WorldPoint{Z: 2}),
		linearCam(t, "cam-b", []float64{0, 1, 0, 0, 0, -1, -1, 0, 0}, geom.WorldPoint{X: 2}),
		linearCam(t, "cam-c", []float64{1, 0, 0, 0, 0, 1, 0, -1, 0}, geom.WorldPoint{Y: 2}),
	}
	sys, err := geom.NewCameraSystem(cams)
	require.NoError(t, err)
	return sys
}

// overheadRig is a single downward-looking camera, the typical flat
// tracking setup.
func overheadRig(t *testing.T) *geom.CameraSystem {
	t.Helper()
	cam := linearCam(t, "cam-top", []float64{1, 0, 0, 0, -1, 0, 0, 0, -1}, geom.WorldPoint{Z: 2})
	sys, err := geom.NewCameraSystem([]*geom.Camera{cam})
	require.NoError(t, err)
	return sys
}

func tdptAt(frame uint64) braid.TimeDataPassthrough {
	return braid.TimeDataPassthrough{Frame: braid.FrameNumber(frame)}
}

// observationAt projects a world point into a camera and wraps it as a
// high-quality detection with the given point index.
func observationAt(cam *geom.Camera, pt geom.WorldPoint, idx uint8) braid.UndistortedPoint {
	px := cam.Project3DToPixel(pt)
	return braid.UndistortedPoint{
		X: px.X,
		Y: px.Y,
		Orig: braid.NumberedRawPoint{
			Idx:   idx,
			Point: braid.RawPoint{X: px.X, Y: px.Y, Area: 10, CurVal: 255, MeanVal: 10, SumSqFVal: 4},
		},
	}
}

func bundleAt(frame uint64, cams *geom.CameraSystem, pts map[string][]braid.UndistortedPoint) arena.Bundle {
	b := arena.Bundle{Arena: 0, TDPT: tdptAt(frame)}
	for i, name := range cams.Names() {
		b.Cameras = append(b.Cameras, arena.CameraPoints{
			Cam:    name,
			CamNum: braid.CamNum(i),
			Points: pts[name],
		})
	}
	return b
}

// stepFrame runs all four tracking phases for one frame.
func stepFrame(c CollectionDone, bundle arena.Bundle) (CollectionDone, FrameOutput) {
	started := c.PredictMotion(bundle.TDPT)
	withLikes := started.ComputeObservationLikes(bundle)
	posteriors, unused := withLikes.SolveDataAssociationAndUpdate()
	return posteriors.BirthsAndDeaths(unused)
}

func newTestCollection(t *testing.T, rig *geom.CameraSystem, params braid.TrackingParams) CollectionDone {
	t.Helper()
	c, err := NewCollection(Config{Params: params, Cams: rig, DT: 0.01, ObjIDs: &ObjIDCounter{}, Arena: 0})
	require.NoError(t, err)
	return c
}

func diagP(posVar, velVar float64) *mat.Dense {
	p := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < 3; i++ {
		p.Set(i, i, posVar)
		p.Set(i+3, i+3, velVar)
	}
	return p
}

func worldDist(a, b geom.WorldPoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
