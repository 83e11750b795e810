package braid

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeDataPassthroughEqual(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("same frame same timestamp", func(t *testing.T) {
		a := TimeDataPassthrough{Frame: 10, TriggerTimestamp: &base}
		b := TimeDataPassthrough{Frame: 10, TriggerTimestamp: &base}
		assert.True(t, a.Equal(b))
	})

	t.Run("different frames", func(t *testing.T) {
		a := TimeDataPassthrough{Frame: 10}
		b := TimeDataPassthrough{Frame: 11}
		assert.False(t, a.Equal(b))
	})

	t.Run("nil timestamps compare by frame only", func(t *testing.T) {
		a := TimeDataPassthrough{Frame: 7, TriggerTimestamp: &base}
		b := TimeDataPassthrough{Frame: 7}
		assert.True(t, a.Equal(b))
	})

	t.Run("large timestamp disagreement logs but still equal", func(t *testing.T) {
		var logged []string
		SetLogger(func(format string, v ...interface{}) {
			logged = append(logged, fmt.Sprintf(format, v...))
		})
		defer SetLogger(nil)

		later := base.Add(5 * time.Millisecond)
		a := TimeDataPassthrough{Frame: 42, TriggerTimestamp: &base}
		b := TimeDataPassthrough{Frame: 42, TriggerTimestamp: &later}
		assert.True(t, a.Equal(b))
		require.Len(t, logged, 1)
		assert.True(t, strings.Contains(logged[0], "disagree"), "got %q", logged[0])
	})

	t.Run("sub-millisecond disagreement is silent", func(t *testing.T) {
		var logged []string
		SetLogger(func(format string, v ...interface{}) {
			logged = append(logged, fmt.Sprintf(format, v...))
		})
		defer SetLogger(nil)

		later := base.Add(500 * time.Microsecond)
		a := TimeDataPassthrough{Frame: 42, TriggerTimestamp: &base}
		b := TimeDataPassthrough{Frame: 42, TriggerTimestamp: &later}
		assert.True(t, a.Equal(b))
		assert.Empty(t, logged)
	})
}

func TestTimestampF64RoundTrip(t *testing.T) {
	orig := time.Date(2024, 6, 15, 8, 30, 0, 250_000_000, time.UTC)
	f := TimestampF64(orig)
	back := F64Timestamp(f)
	// float64 seconds hold roughly microsecond precision at current epochs.
	assert.InDelta(t, 0, back.Sub(orig).Microseconds(), 2)
}

func TestAbsZScore(t *testing.T) {
	cases := []struct {
		name string
		pt   RawPoint
		want float64
	}{
		{"bright point", RawPoint{CurVal: 200, MeanVal: 100, SumSqFVal: 50}, 2.0},
		{"dark point", RawPoint{CurVal: 10, MeanVal: 110, SumSqFVal: 50}, 2.0},
		{"at mean", RawPoint{CurVal: 100, MeanVal: 100, SumSqFVal: 50}, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.pt.AbsZScore(), 1e-12)
		})
	}

	// Degenerate background statistics must not reject the point.
	inf := RawPoint{CurVal: 200, MeanVal: 100, SumSqFVal: 0}
	assert.True(t, math.IsInf(inf.AbsZScore(), 1))
}

func TestConvertToSave(t *testing.T) {
	trigger := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fd := FrameData{
		CamName:              "cam-a",
		CamNum:               3,
		SyncedFrame:          99,
		TriggerTimestamp:     &trigger,
		CamReceivedTimestamp: trigger.Add(2 * time.Millisecond),
	}

	t.Run("with orientation", func(t *testing.T) {
		pt := NumberedRawPoint{
			Idx: 2,
			Point: RawPoint{
				X: 10.5, Y: 20.25, Area: 12,
				Orientation: &Orientation{Slope: 0.5, Eccentricity: 1.5},
				CurVal:      200, MeanVal: 100, SumSqFVal: 50,
			},
		}
		row := ConvertToSave(&fd, &pt)
		assert.Equal(t, CamNum(3), row.CamNum)
		assert.Equal(t, int64(99), row.Frame)
		assert.Equal(t, uint8(2), row.FramePtIdx)
		assert.Equal(t, float32(10.5), row.X)
		assert.Equal(t, float32(0.5), row.Slope)
		assert.Equal(t, float32(1.5), row.Eccentricity)
	})

	t.Run("without orientation", func(t *testing.T) {
		pt := NumberedRawPoint{Idx: 0, Point: RawPoint{X: 1, Y: 2}}
		row := ConvertToSave(&fd, &pt)
		assert.True(t, math.IsNaN(float64(row.Slope)))
		assert.True(t, math.IsNaN(float64(row.Eccentricity)))
		assert.Equal(t, float32(1), row.X)
	})

	t.Run("empty frame keeps timing", func(t *testing.T) {
		row := ConvertEmptyToSave(&fd)
		assert.True(t, math.IsNaN(float64(row.X)))
		assert.True(t, math.IsNaN(float64(row.Y)))
		assert.Equal(t, int64(99), row.Frame)
		assert.Equal(t, fd.CamReceivedTimestamp, row.CamReceivedTimestamp)
		require.NotNil(t, row.Timestamp)
		assert.Equal(t, trigger, *row.Timestamp)
	})
}
