package braid

// SendKalmanEstimatesRow is the state snapshot carried by live Birth and
// Update notifications. It mirrors KalmanEstimatesRow without the
// timestamp; listeners take timing from the enclosing frame envelope.
type SendKalmanEstimatesRow struct {
	ObjID uint32      `json:"obj_id"`
	Frame FrameNumber `json:"frame"`
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	Z     float64     `json:"z"`
	XVel  float64     `json:"xvel"`
	YVel  float64     `json:"yvel"`
	ZVel  float64     `json:"zvel"`
	P00   float64     `json:"P00"`
	P01   float64     `json:"P01"`
	P02   float64     `json:"P02"`
	P11   float64     `json:"P11"`
	P12   float64     `json:"P12"`
	P22   float64     `json:"P22"`
	P33   float64     `json:"P33"`
	P44   float64     `json:"P44"`
	P55   float64     `json:"P55"`
}

// SendMessage is one live pose-stream event. Exactly one field is
// non-nil, so the JSON encoding is a single externally-tagged variant,
// e.g. {"Birth":{...}} or {"Death":17}.
type SendMessage struct {
	Birth                *SendKalmanEstimatesRow `json:"Birth,omitempty"`
	Update               *SendKalmanEstimatesRow `json:"Update,omitempty"`
	Death                *uint32                 `json:"Death,omitempty"`
	EndOfFrame           *FrameNumber            `json:"EndOfFrame,omitempty"`
	CalibrationFlydraXml *string                 `json:"CalibrationFlydraXml,omitempty"`
}

// Kind names the variant held by the message.
func (m SendMessage) Kind() string {
	switch {
	case m.Birth != nil:
		return "Birth"
	case m.Update != nil:
		return "Update"
	case m.Death != nil:
		return "Death"
	case m.EndOfFrame != nil:
		return "EndOfFrame"
	case m.CalibrationFlydraXml != nil:
		return "CalibrationFlydraXml"
	}
	return "empty"
}

// BirthMsg announces a newly visible object with its current estimate.
func BirthMsg(row SendKalmanEstimatesRow) SendMessage { return SendMessage{Birth: &row} }

// UpdateMsg carries a visible object's estimate for one frame.
func UpdateMsg(row SendKalmanEstimatesRow) SendMessage { return SendMessage{Update: &row} }

// DeathMsg announces that a visible object was removed.
func DeathMsg(objID uint32) SendMessage { return SendMessage{Death: &objID} }

// EndOfFrameMsg marks that all messages for a frame have been sent.
func EndOfFrameMsg(frame FrameNumber) SendMessage { return SendMessage{EndOfFrame: &frame} }

// CalibrationMsg carries the camera calibration as flydra XML.
func CalibrationMsg(xml string) SendMessage { return SendMessage{CalibrationFlydraXml: &xml} }

// Notification is one live-stream message with its frame timing.
type Notification struct {
	Msg  SendMessage
	TDPT TimeDataPassthrough
}

// SaveToDiskMsg is the closed set of messages consumed by the archive
// writer. Closing the save channel tells the writer to finish and exit.
type SaveToDiskMsg interface{ saveToDiskMsg() }

// SaveKalmanEstimate persists one object's state for one frame,
// together with the observations that produced it.
type SaveKalmanEstimate struct {
	Row           KalmanEstimatesRow
	DataAssocRows []DataAssocRow
	// MeanReprojDist100x is the mean reprojection distance in hundredths
	// of a pixel, floored to 1 when observations were present. 0 means
	// the row was produced without any accepted observation.
	MeanReprojDist100x uint64
}

// SaveData2dDistorted persists raw per-camera detections for one frame.
type SaveData2dDistorted struct {
	Rows []Data2dDistortedRow
}

// SaveTextlog appends one experiment log line.
type SaveTextlog struct {
	Row TextlogRow
}

// SaveTriggerClockInfo persists one trigger clock measurement.
type SaveTriggerClockInfo struct {
	Row TriggerClockInfoRow
}

// SetExperimentUUID associates the session with an experiment id.
type SetExperimentUUID struct {
	UUID string
}

// StartSaving opens a recording session.
type StartSaving struct {
	Config StartSavingConfig
}

// StopSaving finalizes the recording session, producing the .braidz
// archive.
type StopSaving struct{}

// StartSavingConfig describes a recording session.
type StartSavingConfig struct {
	// OutDir is the session directory; the finished archive is
	// OutDir + ".braidz".
	OutDir string
	// FPS is the expected frame rate, 0 when unknown.
	FPS float64
	// GitRevision identifies the build that recorded the data.
	GitRevision string
}

func (SaveKalmanEstimate) saveToDiskMsg()   {}
func (SaveData2dDistorted) saveToDiskMsg()  {}
func (SaveTextlog) saveToDiskMsg()          {}
func (SaveTriggerClockInfo) saveToDiskMsg() {}
func (SetExperimentUUID) saveToDiskMsg()    {}
func (StartSaving) saveToDiskMsg()          {}
func (StopSaving) saveToDiskMsg()           {}
