package braid

import (
	"fmt"
	"math"
	"time"
)

// FrameNumber is a synchronized frame number. All cameras observing the same
// trigger pulse report the same FrameNumber, which increases by exactly one
// per pulse for the lifetime of a run.
type FrameNumber uint64

func (f FrameNumber) String() string {
	return fmt.Sprintf("%d", uint64(f))
}

// CamNum is the small integer assigned to a camera for compact storage in
// archive rows. Assignment is handled by the camera manager and is stable
// for the lifetime of a run.
type CamNum uint8

// Orientation is the detected blob orientation, present only when the
// feature detector estimated one.
type Orientation struct {
	Slope        float64
	Eccentricity float64
}

// RawPoint is a single 2D feature detection from one camera, in distorted
// pixel coordinates. CurVal, MeanVal and SumSqFVal describe the luminance
// of the detected blob against the running background model and feed the
// per-point quality filter used before hypothesis testing.
type RawPoint struct {
	X           float64
	Y           float64
	Area        float64
	Orientation *Orientation
	CurVal      uint8
	MeanVal     float64
	SumSqFVal   float64
}

// AbsZScore returns |cur-mean|/sumsqf, the quality measure used to select
// birth candidate points. A zero SumSqFVal yields +Inf, which passes any
// threshold.
func (p *RawPoint) AbsZScore() float64 {
	return math.Abs((float64(p.CurVal) - p.MeanVal) / p.SumSqFVal)
}

// NumberedRawPoint pairs a RawPoint with its index in the per-camera,
// per-frame point list. The index is what data association records.
type NumberedRawPoint struct {
	Idx   uint8
	Point RawPoint
}

// FrameData identifies one camera's contribution to one synchronized frame.
type FrameData struct {
	// CamName is the camera name as the camera reports it.
	CamName string
	// CamNum is the archive-compact camera number.
	CamNum CamNum
	// SyncedFrame is the synchronized frame number.
	SyncedFrame FrameNumber
	// TriggerTimestamp is the reconstructed time the trigger pulse fired,
	// nil until the trigger clock model has converged.
	TriggerTimestamp *time.Time
	// CamReceivedTimestamp is when the camera node sampled its clock for
	// this frame.
	CamReceivedTimestamp time.Time
	// DeviceTimestamp is the camera hardware timestamp, when available.
	DeviceTimestamp *uint64
	// BlockID is the camera hardware frame number, when available.
	BlockID *uint64
}

// TDPT returns the time data carried along with every downstream message
// derived from this frame.
func (fd *FrameData) TDPT() TimeDataPassthrough {
	return TimeDataPassthrough{
		Frame:            fd.SyncedFrame,
		TriggerTimestamp: fd.TriggerTimestamp,
	}
}

// FrameDataAndPoints is the complete per-camera input for one frame: the
// frame identity plus every detection made in it.
type FrameDataAndPoints struct {
	FrameData FrameData
	Points    []NumberedRawPoint
}

// UndistortedPoint is one detection after lens correction. The original
// distorted detection rides along so its index and pixel-quality values
// stay available to association and hypothesis testing.
type UndistortedPoint struct {
	X, Y float64
	Orig NumberedRawPoint
}

// TimeDataPassthrough carries frame timing to downstream consumers so they
// never recompute it. Identity is the frame number.
type TimeDataPassthrough struct {
	Frame            FrameNumber
	TriggerTimestamp *time.Time
}

// maxTimestampDisagreement is how far two trigger timestamps for the same
// frame may drift apart before Equal reports the inconsistency.
const maxTimestampDisagreement = time.Millisecond

// Equal reports whether both passthroughs describe the same frame. Trigger
// timestamps for the same frame arriving from different cameras can differ
// slightly; a disagreement beyond 1ms is logged at error level but does not
// make the frames unequal.
func (t TimeDataPassthrough) Equal(other TimeDataPassthrough) bool {
	framesEqual := t.Frame == other.Frame
	if framesEqual && t.TriggerTimestamp != nil && other.TriggerTimestamp != nil {
		d := t.TriggerTimestamp.Sub(*other.TriggerTimestamp)
		if d < 0 {
			d = -d
		}
		if d > maxTimestampDisagreement {
			Logf("ERROR: trigger timestamps for frame %v disagree by %v", t.Frame, d)
		}
	}
	return framesEqual
}

// TimestampF64 converts a wall-clock time to the float64 seconds-since-epoch
// representation used in archive rows and wire messages.
func TimestampF64(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// F64Timestamp is the inverse of TimestampF64.
func F64Timestamp(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
