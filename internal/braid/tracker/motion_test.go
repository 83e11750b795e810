package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/braid-data/braid/internal/braid"
)

func TestMotionModelPredict(t *testing.T) {
	m := NewMotionModel(0.1, 0.5, false)
	assert.Equal(t, 0.1, m.DT())

	prev := StampedEstimate{
		TDPT:  tdptAt(5),
		State: mat.NewVecDense(stateDim, []float64{1, 2, 3, 0.5, -0.5, 1}),
		P:     eye(stateDim),
	}
	got := m.Predict(prev, tdptAt(6))

	assert.Equal(t, braid.FrameNumber(6), got.Frame())
	pos := got.Position()
	assert.InDelta(t, 1.05, pos.X, 1e-12)
	assert.InDelta(t, 1.95, pos.Y, 1e-12)
	assert.InDelta(t, 3.1, pos.Z, 1e-12)
	assert.InDelta(t, 0.5, got.State.AtVec(3), 1e-12, "velocity carries over unchanged")

	// Position variance grows by dt^2 velocity coupling plus process
	// noise scale*dt^3/3.
	assert.InDelta(t, 1+0.01+0.5*0.001/3, got.P.At(0, 0), 1e-12)
	// Position/velocity cross term is dt plus scale*dt^2/2.
	assert.InDelta(t, 0.1+0.5*0.01/2, got.P.At(0, 3), 1e-12)
	assert.InDelta(t, got.P.At(0, 3), got.P.At(3, 0), 1e-12, "covariance stays symmetric")
}

func TestMotionModelFlat(t *testing.T) {
	m := NewMotionModel(0.01, 10, true)

	prev := StampedEstimate{
		TDPT:  tdptAt(0),
		State: mat.NewVecDense(stateDim, []float64{1, 2, 3, 0.5, -0.5, 1}),
		P:     eye(stateDim),
	}
	got := m.Predict(prev, tdptAt(1))

	pos := got.Position()
	assert.InDelta(t, 0, pos.Z, 1e-15, "z is pinned to the plane")
	assert.InDelta(t, 0, got.State.AtVec(5), 1e-15, "z velocity is pinned")
	assert.InDelta(t, 0, got.P.At(2, 2), 1e-15)
	assert.InDelta(t, 0, got.P.At(5, 5), 1e-15)

	assert.InDelta(t, 1.005, pos.X, 1e-12, "in-plane motion still integrates")
	assert.Greater(t, got.P.At(0, 0), 1.0, "in-plane variance still grows")
}
