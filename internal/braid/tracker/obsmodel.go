package tracker

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/geom"
)

// obsLinearizeDelta is the step used to numerically linearize the
// camera projection about the predicted position.
const obsLinearizeDelta = 0.001

// cameraObservationModel relates one tracked object's state to pixel
// observations from one camera for one frame. The projection is
// linearized about the motion-model prior; the likelihood density is
// evaluated under the prior covariance.
type cameraObservationModel struct {
	cam    *geom.Camera
	camNum braid.CamNum
	h      *mat.Dense // 2x6 observation matrix
	r      *mat.Dense // 2x2 observation noise
	mvn    *distmv.Normal
}

func newCameraObservationModel(cam *geom.Camera, camNum braid.CamNum, prior StampedEstimate, obsCovPx float64) *cameraObservationModel {
	pos := prior.Position()

	jac := cam.LinearizeNumericallyAt(pos, obsLinearizeDelta)
	h := mat.NewDense(2, stateDim, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, jac.At(i, j))
		}
	}

	r := mat.NewDense(2, 2, []float64{obsCovPx, 0, 0, obsCovPx})

	m := &cameraObservationModel{cam: cam, camNum: camNum, h: h, r: r}

	// Nonlinear projection of the prior gives the expected pixel.
	expected := cam.Project3DToPixel(pos)
	s := innovationCovariance(h, prior.P, r)
	mvn, ok := distmv.NewNormal([]float64{expected.X, expected.Y}, symmetrize2(s), nil)
	if ok {
		m.mvn = mvn
	} else {
		diagf("camera %q: prior covariance not positive definite, zero likelihoods", cam.Name())
	}
	return m
}

// likelihoods evaluates the observation density at each undistorted
// point. A degenerate prior yields all-zero likelihoods.
func (m *cameraObservationModel) likelihoods(points []braid.UndistortedPoint) []float64 {
	out := make([]float64, len(points))
	if m.mvn == nil {
		return out
	}
	for i, pt := range points {
		out[i] = m.mvn.Prob([]float64{pt.X, pt.Y})
	}
	return out
}

// update folds one accepted observation into the estimate using the
// Joseph form covariance update. The innovation covariance is rebuilt
// from the passed-in estimate so that sequential per-camera updates
// within a frame chain correctly.
func (m *cameraObservationModel) update(est StampedEstimate, pt braid.UndistortedPoint) (StampedEstimate, float64) {
	s := innovationCovariance(m.h, est.P, m.r)
	s00, s01 := s.At(0, 0), s.At(0, 1)
	s10, s11 := s.At(1, 0), s.At(1, 1)
	det := s00*s11 - s01*s10
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		panic("tracker: observation update: singular innovation covariance")
	}
	sInv := mat.NewDense(2, 2, []float64{
		s11 / det, -s01 / det,
		-s10 / det, s00 / det,
	})

	// K = P Ht S^-1
	var pht mat.Dense
	pht.Mul(est.P, m.h.T())
	var k mat.Dense
	k.Mul(&pht, sInv)

	expected := m.cam.Project3DToPixel(est.Position())
	innov := mat.NewVecDense(2, []float64{pt.X - expected.X, pt.Y - expected.Y})

	var dx mat.VecDense
	dx.MulVec(&k, innov)
	x := mat.NewVecDense(stateDim, nil)
	x.AddVec(est.State, &dx)

	// P' = (I - K H) P (I - K H)t + K R Kt
	var kh mat.Dense
	kh.Mul(&k, m.h)
	a := eye(stateDim)
	a.Sub(a, &kh)

	var ap mat.Dense
	ap.Mul(a, est.P)
	var p mat.Dense
	p.Mul(&ap, a.T())

	var kr mat.Dense
	kr.Mul(&k, m.r)
	var krkt mat.Dense
	krkt.Mul(&kr, k.T())
	p.Add(&p, &krkt)

	updated := StampedEstimate{TDPT: est.TDPT, State: x, P: &p}

	reproj := m.cam.Project3DToPixel(updated.Position())
	dist := math.Hypot(pt.X-reproj.X, pt.Y-reproj.Y)
	return updated, dist
}

// innovationCovariance computes S = H P Ht + R.
func innovationCovariance(h, p, r *mat.Dense) *mat.Dense {
	var hp mat.Dense
	hp.Mul(h, p)
	var s mat.Dense
	s.Mul(&hp, h.T())
	s.Add(&s, r)
	return &s
}

func symmetrize2(s *mat.Dense) *mat.SymDense {
	off := 0.5 * (s.At(0, 1) + s.At(1, 0))
	return mat.NewSymDense(2, []float64{
		s.At(0, 0), off,
		off, s.At(1, 1),
	})
}
