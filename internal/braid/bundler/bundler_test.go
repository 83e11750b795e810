package bundler

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
)

func fdpAt(cam string, frame uint64, pts ...braid.NumberedRawPoint) braid.FrameDataAndPoints {
	return braid.FrameDataAndPoints{
		FrameData: braid.FrameData{
			CamName:              cam,
			SyncedFrame:          braid.FrameNumber(frame),
			CamReceivedTimestamp: time.Now(),
		},
		Points: pts,
	}
}

func rawPt(idx uint8, x, y float64) braid.NumberedRawPoint {
	return braid.NumberedRawPoint{Idx: idx, Point: braid.RawPoint{X: x, Y: y, Area: 5}}
}

func fixedCount(n int) func() int { return func() int { return n } }

func TestBundlerCompleteFrame(t *testing.T) {
	b := New(fixedCount(2))

	require.Empty(t, b.Push(fdpAt("cam-a", 5, rawPt(0, 1, 2))))
	out := b.Push(fdpAt("cam-b", 5, rawPt(0, 3, 4)))
	require.Len(t, out, 1)
	assert.Equal(t, braid.FrameNumber(5), out[0].Frame())
	require.Len(t, out[0].Frames, 2)
	assert.Equal(t, "cam-a", out[0].Frames[0].FrameData.CamName)
	assert.Equal(t, "cam-b", out[0].Frames[1].FrameData.CamName)
}

func TestBundlerNewerFrameFlushesIncomplete(t *testing.T) {
	b := New(fixedCount(3))

	require.Empty(t, b.Push(fdpAt("cam-a", 5)))
	require.Empty(t, b.Push(fdpAt("cam-b", 5)))

	out := b.Push(fdpAt("cam-a", 6))
	require.Len(t, out, 1, "a newer frame flushes the incomplete one")
	assert.Equal(t, braid.FrameNumber(5), out[0].Frame())
	assert.Len(t, out[0].Frames, 2)

	require.Empty(t, b.Push(fdpAt("cam-b", 6)))
	out = b.Push(fdpAt("cam-c", 6))
	require.Len(t, out, 1)
	assert.Equal(t, braid.FrameNumber(6), out[0].Frame())
	assert.Len(t, out[0].Frames, 3)
}

func TestBundlerDropsLateData(t *testing.T) {
	b := New(fixedCount(3))

	b.Push(fdpAt("cam-a", 5))
	require.Len(t, b.Push(fdpAt("cam-a", 6)), 1, "frame 5 emitted incomplete")

	assert.Empty(t, b.Push(fdpAt("cam-c", 5)), "data for an emitted frame is dropped")

	b.Push(fdpAt("cam-b", 6))
	out := b.Push(fdpAt("cam-c", 6))
	require.Len(t, out, 1)
	assert.Equal(t, braid.FrameNumber(6), out[0].Frame())
}

func TestBundlerDuplicateCameraPanics(t *testing.T) {
	b := New(fixedCount(3))
	b.Push(fdpAt("cam-a", 5))
	assert.Panics(t, func() { b.Push(fdpAt("cam-a", 5)) })
}

func TestBundlerDropsNaNPoints(t *testing.T) {
	b := New(fixedCount(1))

	out := b.Push(fdpAt("cam-a", 1, rawPt(0, 10, 20), rawPt(1, math.NaN(), math.NaN())))
	require.Len(t, out, 1)
	require.Len(t, out[0].Frames, 1)
	require.Len(t, out[0].Frames[0].Points, 1, "placeholder detections are dropped")
	assert.Equal(t, 10.0, out[0].Frames[0].Points[0].Point.X)

	t.Run("all placeholders still count the camera", func(t *testing.T) {
		b := New(fixedCount(1))
		out := b.Push(fdpAt("cam-a", 2, rawPt(0, math.NaN(), math.NaN())))
		require.Len(t, out, 1)
		require.Len(t, out[0].Frames, 1)
		assert.Empty(t, out[0].Frames[0].Points)
	})
}

func TestBundlerFlush(t *testing.T) {
	b := New(fixedCount(2))
	assert.Nil(t, b.Flush())

	b.Push(fdpAt("cam-a", 9))
	got := b.Flush()
	require.NotNil(t, got)
	assert.Equal(t, braid.FrameNumber(9), got.Frame())
	assert.Nil(t, b.Flush(), "flush consumes the pending frame")
}

func TestBundlerFirstTimestampWins(t *testing.T) {
	b := New(fixedCount(2))

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(200 * time.Microsecond)

	fa := fdpAt("cam-a", 3)
	fa.FrameData.TriggerTimestamp = &t1
	fb := fdpAt("cam-b", 3)
	fb.FrameData.TriggerTimestamp = &t2

	b.Push(fa)
	out := b.Push(fb)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].TDPT.TriggerTimestamp)
	assert.Equal(t, t1, *out[0].TDPT.TriggerTimestamp)
}

func TestContiguousFill(t *testing.T) {
	var c Contiguous
	var frames []uint64
	for _, f := range []uint64{0, 1, 2, 4, 10} {
		out, err := c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: braid.FrameNumber(f)}})
		require.NoError(t, err)
		for _, b := range out {
			frames = append(frames, uint64(b.Frame()))
		}
	}
	want := make([]uint64, 11)
	for i := range want {
		want[i] = uint64(i)
	}
	assert.Equal(t, want, frames, "gaps are filled with empty bundles")

	t.Run("decreasing ends the stream", func(t *testing.T) {
		var c Contiguous
		_, err := c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: 10}})
		require.NoError(t, err)
		_, err = c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: 9}})
		assert.ErrorIs(t, err, ErrNonMonotonic)
	})

	t.Run("repeat ends the stream", func(t *testing.T) {
		var c Contiguous
		_, err := c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: 10}})
		require.NoError(t, err)
		_, err = c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: 10}})
		assert.ErrorIs(t, err, ErrNonMonotonic)
	})

	t.Run("frame limit rejected", func(t *testing.T) {
		var c Contiguous
		_, err := c.Fill(FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: braid.FrameNumber(math.MaxUint64)}})
		assert.ErrorIs(t, err, ErrFrameOverflow)
	})
}
