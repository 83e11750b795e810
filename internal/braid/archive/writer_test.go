package archive

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
)

type recordingObserver struct {
	latencies []float64
	reprojs   []float64
}

func (o *recordingObserver) ObserveSaveLatency(s float64) { o.latencies = append(o.latencies, s) }
func (o *recordingObserver) ObserveReprojDist(p float64)  { o.reprojs = append(o.reprojs, p) }

func TestWriterEndToEnd(t *testing.T) {
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "session001")
	obs := &recordingObserver{}

	msgs := make(chan braid.SaveToDiskMsg, 16)
	h := StartWriter(WriterConfig{
		CamInfo: []braid.CamInfoRow{
			{CamNum: 0, CamID: "cam-a"},
			{CamNum: 1, CamID: "cam-b"},
		},
		CalibrationXML: "<multi_camera_reconstructor></multi_camera_reconstructor>\n",
		TrackingParams: braid.DefaultTrackingParamsFull3D(),
		Observer:       obs,
	}, msgs)

	msgs <- braid.StartSaving{Config: braid.StartSavingConfig{
		OutDir:      sessionDir,
		FPS:         100,
		GitRevision: "deadbeef",
	}}

	ts := time.Now().Add(-20 * time.Millisecond)
	msgs <- braid.SaveData2dDistorted{Rows: []braid.Data2dDistortedRow{
		{CamNum: 0, Frame: 7, CamReceivedTimestamp: ts, X: 100, Y: 200, Area: 12, FramePtIdx: 0, CurVal: 200},
	}}
	msgs <- braid.SaveKalmanEstimate{
		Row: braid.KalmanEstimatesRow{
			ObjID: 1, Frame: 7, Timestamp: &ts,
			X: 0.1, Y: 0.2, Z: 0.3, XVel: 0, YVel: 0, ZVel: 0,
			P00: 0.01, P11: 0.01, P22: 0.01, P33: 1, P44: 1, P55: 1,
		},
		DataAssocRows:      []braid.DataAssocRow{{ObjID: 1, Frame: 7, CamNum: 0, PtIdx: 0}},
		MeanReprojDist100x: 42,
	}
	msgs <- braid.SaveTextlog{Row: braid.TextlogRow{CamID: "cam-a", Message: "hello"}}
	msgs <- braid.SaveTriggerClockInfo{Row: braid.TriggerClockInfoRow{
		StartTimestamp: ts, Framecount: 7, Tcnt: 128, StopTimestamp: ts.Add(time.Millisecond),
	}}
	msgs <- braid.SetExperimentUUID{UUID: "e7a9f9c2-0000-0000-0000-000000000001"}
	msgs <- braid.StopSaving{}
	close(msgs)
	require.NoError(t, h.Wait())

	// The session dir is gone, replaced by the .braidz archive.
	_, err := os.Stat(sessionDir)
	assert.True(t, os.IsNotExist(err))
	braidzPath := sessionDir + ".braidz"

	// The archive leads with the format header and the README entry.
	raw, err := os.ReadFile(braidzPath)
	require.NoError(t, err)
	assert.Equal(t, braidzHeader, string(raw[:len(braidzHeader)]))

	zr, closer, err := OpenBraidz(braidzPath)
	require.NoError(t, err)
	defer closer.Close()
	require.NotEmpty(t, zr.File)
	assert.Equal(t, braid.ReadmeName, zr.File[0].Name)
	entryNames := make(map[string]bool)
	for _, f := range zr.File {
		entryNames[f.Name] = true
	}
	assert.True(t, entryNames[DatabaseName])
	assert.True(t, entryNames[braid.CalibrationXMLName])
	assert.True(t, entryNames[braid.MetadataYamlName])

	// Extract and verify the recorded rows.
	extracted := filepath.Join(dir, "extracted")
	require.NoError(t, os.MkdirAll(extracted, 0o755))
	require.NoError(t, ExtractBraidz(braidzPath, extracted))
	db, err := sql.Open("sqlite", filepath.Join(extracted, DatabaseName))
	require.NoError(t, err)
	defer db.Close()

	var objID uint32
	var frame uint64
	var x float64
	var mrd uint64
	require.NoError(t, db.QueryRow(
		`SELECT obj_id, frame, x, mean_reproj_dist_100x FROM kalman_estimates`).
		Scan(&objID, &frame, &x, &mrd))
	assert.Equal(t, uint32(1), objID)
	assert.Equal(t, uint64(7), frame)
	assert.InDelta(t, 0.1, x, 1e-12)
	assert.Equal(t, uint64(42), mrd)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM data_association`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM data2d_distorted`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM cam_info`).Scan(&n))
	assert.Equal(t, 2, n)
	// Two session header rows plus the explicit textlog message.
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM textlog`).Scan(&n))
	assert.Equal(t, 3, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM trigger_clock_info`).Scan(&n))
	assert.Equal(t, 1, n)
	var expUUID string
	require.NoError(t, db.QueryRow(`SELECT uuid FROM experiment_info`).Scan(&expUUID))
	assert.Equal(t, "e7a9f9c2-0000-0000-0000-000000000001", expUUID)

	require.Len(t, obs.latencies, 1)
	assert.Greater(t, obs.latencies[0], 0.0)
	require.Len(t, obs.reprojs, 1)
	assert.InDelta(t, 0.42, obs.reprojs[0], 1e-12)
}

func TestWriterDropsDataOutsideSession(t *testing.T) {
	msgs := make(chan braid.SaveToDiskMsg, 4)
	h := StartWriter(WriterConfig{}, msgs)
	msgs <- braid.SaveKalmanEstimate{Row: braid.KalmanEstimatesRow{ObjID: 1, Frame: 1}}
	msgs <- braid.SaveData2dDistorted{Rows: []braid.Data2dDistortedRow{{Frame: 1}}}
	close(msgs)
	assert.NoError(t, h.Wait(), "data without a session is silently dropped")
}

func TestWriterEmptyFrameRowRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "s")
	msgs := make(chan braid.SaveToDiskMsg, 4)
	h := StartWriter(WriterConfig{}, msgs)
	msgs <- braid.StartSaving{Config: braid.StartSavingConfig{OutDir: sessionDir}}

	fd := braid.FrameData{CamName: "cam-a", CamNum: 0, SyncedFrame: 3, CamReceivedTimestamp: time.Now()}
	msgs <- braid.SaveData2dDistorted{Rows: []braid.Data2dDistortedRow{braid.ConvertEmptyToSave(&fd)}}
	msgs <- braid.StopSaving{}
	close(msgs)
	require.NoError(t, h.Wait())

	extracted := filepath.Join(dir, "x")
	require.NoError(t, os.MkdirAll(extracted, 0o755))
	require.NoError(t, ExtractBraidz(sessionDir+".braidz", extracted))
	db, err := sql.Open("sqlite", filepath.Join(extracted, DatabaseName))
	require.NoError(t, err)
	defer db.Close()

	// NaN placeholders land as NULL.
	var x sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT x FROM data2d_distorted WHERE frame = 3`).Scan(&x))
	assert.False(t, x.Valid)
}
