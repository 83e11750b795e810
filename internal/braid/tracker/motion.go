package tracker

import (
	"gonum.org/v1/gonum/mat"

	"github.com/braid-data/braid/internal/braid"
)

// MotionModel is the constant-velocity process model, pre-evaluated for
// the fixed inter-frame interval. The flat variant pins z and vz to
// zero by clearing their rows and columns in both the transition and
// process-noise matrices.
type MotionModel struct {
	dt float64
	f  *mat.Dense // 6x6 state transition
	q  *mat.Dense // 6x6 process noise
}

// NewMotionModel builds the process model for one frame interval dt.
func NewMotionModel(dt, motionNoiseScale float64, flat bool) *MotionModel {
	f := eye(stateDim)
	f.Set(0, 3, dt)
	f.Set(1, 4, dt)
	f.Set(2, 5, dt)

	// Continuous white-noise acceleration integrated over dt.
	t33 := motionNoiseScale * dt * dt * dt / 3
	t22 := motionNoiseScale * dt * dt / 2
	t11 := motionNoiseScale * dt
	q := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < 3; i++ {
		q.Set(i, i, t33)
		q.Set(i, i+3, t22)
		q.Set(i+3, i, t22)
		q.Set(i+3, i+3, t11)
	}

	if flat {
		for _, idx := range []int{2, 5} {
			zeroRowCol(f, idx)
			zeroRowCol(q, idx)
		}
	}
	return &MotionModel{dt: dt, f: f, q: q}
}

func zeroRowCol(m *mat.Dense, idx int) {
	for j := 0; j < stateDim; j++ {
		m.Set(idx, j, 0)
		m.Set(j, idx, 0)
	}
}

// DT returns the frame interval the model was evaluated for.
func (m *MotionModel) DT() float64 { return m.dt }

// Predict advances an estimate by one frame interval:
// x' = F x, P' = F P Ft + Q.
func (m *MotionModel) Predict(prev StampedEstimate, tdpt braid.TimeDataPassthrough) StampedEstimate {
	var x mat.VecDense
	x.MulVec(m.f, prev.State)

	var fp mat.Dense
	fp.Mul(m.f, prev.P)
	var p mat.Dense
	p.Mul(&fp, m.f.T())
	p.Add(&p, m.q)

	return StampedEstimate{TDPT: tdpt, State: &x, P: &p}
}
