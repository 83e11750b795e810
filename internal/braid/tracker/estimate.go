package tracker

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/geom"
)

// stateDim is the Kalman state dimension: position then velocity,
// [x y z vx vy vz].
const stateDim = 6

// StampedEstimate is one state-and-covariance estimate tagged with the
// frame it describes.
type StampedEstimate struct {
	TDPT  braid.TimeDataPassthrough
	State *mat.VecDense // 6-vector [x y z vx vy vz]
	P     *mat.Dense    // 6x6 covariance
}

// Frame returns the synchronized frame number of the estimate.
func (e StampedEstimate) Frame() braid.FrameNumber { return e.TDPT.Frame }

// Position returns the estimated position in world coordinates.
func (e StampedEstimate) Position() geom.WorldPoint {
	return geom.WorldPoint{
		X: e.State.AtVec(0),
		Y: e.State.AtVec(1),
		Z: e.State.AtVec(2),
	}
}

// CovarianceSize is the scalar uncertainty measure the death test uses:
// the Euclidean norm of the position variance diagonal.
func (e StampedEstimate) CovarianceSize() float64 {
	p00 := e.P.At(0, 0)
	p11 := e.P.At(1, 1)
	p22 := e.P.At(2, 2)
	return math.Sqrt(p00*p00 + p11*p11 + p22*p22)
}

// Row converts the estimate to its persisted form.
func (e StampedEstimate) Row(objID uint32) braid.KalmanEstimatesRow {
	return braid.KalmanEstimatesRow{
		ObjID:     objID,
		Frame:     e.TDPT.Frame,
		Timestamp: e.TDPT.TriggerTimestamp,
		X:         e.State.AtVec(0),
		Y:         e.State.AtVec(1),
		Z:         e.State.AtVec(2),
		XVel:      e.State.AtVec(3),
		YVel:      e.State.AtVec(4),
		ZVel:      e.State.AtVec(5),
		P00:       e.P.At(0, 0),
		P01:       e.P.At(0, 1),
		P02:       e.P.At(0, 2),
		P11:       e.P.At(1, 1),
		P12:       e.P.At(1, 2),
		P22:       e.P.At(2, 2),
		P33:       e.P.At(3, 3),
		P44:       e.P.At(4, 4),
		P55:       e.P.At(5, 5),
	}
}

// SendRow converts the estimate to the live-notification form.
func (e StampedEstimate) SendRow(objID uint32) braid.SendKalmanEstimatesRow {
	return braid.SendKalmanEstimatesRow{
		ObjID: objID,
		Frame: e.TDPT.Frame,
		X:     e.State.AtVec(0),
		Y:     e.State.AtVec(1),
		Z:     e.State.AtVec(2),
		XVel:  e.State.AtVec(3),
		YVel:  e.State.AtVec(4),
		ZVel:  e.State.AtVec(5),
		P00:   e.P.At(0, 0),
		P01:   e.P.At(0, 1),
		P02:   e.P.At(0, 2),
		P11:   e.P.At(1, 1),
		P12:   e.P.At(1, 2),
		P22:   e.P.At(2, 2),
		P33:   e.P.At(3, 3),
		P44:   e.P.At(4, 4),
		P55:   e.P.At(5, 5),
	}
}

// eye returns the n-by-n identity matrix.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
