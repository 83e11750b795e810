package braid

import (
	"math"
	"time"
)

// Archive element names. These are the table names inside a session archive
// and, historically, the CSV file names inside a .braidz file; readers key
// on them, so changes here are schema changes.
const (
	KalmanEstimatesName  = "kalman_estimates"
	DataAssociateName    = "data_association"
	Data2dDistortedName  = "data2d_distorted"
	CamInfoName          = "cam_info"
	TextlogName          = "textlog"
	TriggerClockInfoName = "trigger_clock_info"
	ExperimentInfoName   = "experiment_info"

	CalibrationXMLName = "calibration.xml"
	MetadataYamlName   = "braid_metadata.yml"
	ReadmeName         = "README.md"

	// SchemaVersion tags the archive layout. Bump on any change to the row
	// types below or to the set of archive elements.
	SchemaVersion = 3
)

// KalmanEstimatesRow is one object's state estimate for one frame: position,
// velocity, and the stored subset of the 6x6 covariance matrix.
type KalmanEstimatesRow struct {
	ObjID uint32
	Frame FrameNumber
	// Timestamp is when the trigger pulse for this frame fired; nil for
	// frames before the trigger clock model converged.
	Timestamp *time.Time
	X         float64
	Y         float64
	Z         float64
	XVel      float64
	YVel      float64
	ZVel      float64
	// Stored covariance entries: the full upper triangle of the position
	// block plus the velocity variances.
	P00 float64
	P01 float64
	P02 float64
	P11 float64
	P12 float64
	P22 float64
	P33 float64
	P44 float64
	P55 float64
}

// DataAssocRow records that one 2D detection was used to update one object
// in one frame.
type DataAssocRow struct {
	ObjID  uint32
	Frame  FrameNumber
	CamNum CamNum
	PtIdx  uint8
}

// Data2dDistortedRow is one raw detection as persisted, in distorted pixel
// coordinates at the reduced float32 precision of the on-disk format. A
// frame with no detections is recorded as a single row with NaN coordinates
// so camera timing survives.
type Data2dDistortedRow struct {
	CamNum               CamNum
	Frame                int64
	Timestamp            *time.Time
	CamReceivedTimestamp time.Time
	DeviceTimestamp      *uint64
	BlockID              *uint64
	X                    float32
	Y                    float32
	Area                 float32
	Slope                float32
	Eccentricity         float32
	FramePtIdx           uint8
	CurVal               uint8
	MeanVal              float32
	SumSqFVal            float32
}

// CamInfoRow maps an archive camera number to the camera's name.
type CamInfoRow struct {
	CamNum CamNum
	CamID  string
}

// TextlogRow is a free-form log line persisted with the archive. The first
// rows of a session record the run configuration.
type TextlogRow struct {
	MainbrainTimestamp float64
	CamID              string
	HostTimestamp      float64
	Message            string
}

// TriggerClockInfoRow is one raw trigger-device clock measurement: the
// device framecount (plus the fractional count tcnt/255) bracketed by the
// host timestamps of the query round trip.
type TriggerClockInfoRow struct {
	StartTimestamp time.Time
	Framecount     int64
	Tcnt           uint8
	StopTimestamp  time.Time
}

// ExperimentInfoRow tags the archive with an experiment UUID.
type ExperimentInfoRow struct {
	UUID string
}

// ConvertToSave produces the persisted form of one detection.
func ConvertToSave(fd *FrameData, pt *NumberedRawPoint) Data2dDistortedRow {
	slope := math.NaN()
	ecc := math.NaN()
	if o := pt.Point.Orientation; o != nil {
		slope = o.Slope
		ecc = o.Eccentricity
	}
	return Data2dDistortedRow{
		CamNum:               fd.CamNum,
		Frame:                int64(fd.SyncedFrame),
		Timestamp:            fd.TriggerTimestamp,
		CamReceivedTimestamp: fd.CamReceivedTimestamp,
		DeviceTimestamp:      fd.DeviceTimestamp,
		BlockID:              fd.BlockID,
		X:                    float32(pt.Point.X),
		Y:                    float32(pt.Point.Y),
		Area:                 float32(pt.Point.Area),
		Slope:                float32(slope),
		Eccentricity:         float32(ecc),
		FramePtIdx:           pt.Idx,
		CurVal:               pt.Point.CurVal,
		MeanVal:              float32(pt.Point.MeanVal),
		SumSqFVal:            float32(pt.Point.SumSqFVal),
	}
}

// ConvertEmptyToSave produces the no-detections row for a frame, keeping
// the camera's timing information in the archive.
func ConvertEmptyToSave(fd *FrameData) Data2dDistortedRow {
	nan := float32(math.NaN())
	return Data2dDistortedRow{
		CamNum:               fd.CamNum,
		Frame:                int64(fd.SyncedFrame),
		Timestamp:            fd.TriggerTimestamp,
		CamReceivedTimestamp: fd.CamReceivedTimestamp,
		DeviceTimestamp:      fd.DeviceTimestamp,
		BlockID:              fd.BlockID,
		X:                    nan,
		Y:                    nan,
		Area:                 nan,
		Slope:                nan,
		Eccentricity:         nan,
		FramePtIdx:           0,
		CurVal:               0,
		MeanVal:              nan,
		SumSqFVal:            nan,
	}
}
