// Package archive persists tracking output. A dedicated writer
// goroutine consumes SaveToDiskMsg from a bounded channel, recording
// rows into a per-session sqlite database alongside the calibration
// and metadata files, and packs the session into a .braidz file when
// saving stops. Backpressure is the channel: a slow disk stalls the
// tracker rather than dropping data.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/braid-data/braid/internal/braid"
)

// Observer receives write-time measurements. Implementations must be
// cheap; they run on the writer goroutine.
type Observer interface {
	// ObserveSaveLatency reports trigger-to-disk latency in seconds for
	// one saved estimate.
	ObserveSaveLatency(seconds float64)
	// ObserveReprojDist reports one saved mean reprojection distance in
	// pixels.
	ObserveReprojDist(pixels float64)
}

// WriterConfig is the run-constant context for the writer: what to
// record about the session itself.
type WriterConfig struct {
	// CamInfo is the camera number table, written at session start.
	CamInfo []braid.CamInfoRow
	// CalibrationXML is stored verbatim as calibration.xml.
	CalibrationXML string
	// TrackingParams are recorded in the session textlog.
	TrackingParams braid.TrackingParams
	// Observer optionally receives write-time measurements.
	Observer Observer
}

// Handle joins the writer goroutine.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the writer has flushed everything and exited. The
// channel must be closed (or a StopSaving sent and the channel closed)
// for Wait to return.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// StartWriter launches the writer goroutine. It consumes msgs until
// the channel closes, finalizing any open session on the way out.
func StartWriter(cfg WriterConfig, msgs <-chan braid.SaveToDiskMsg) *Handle {
	h := &Handle{done: make(chan struct{})}
	w := &writer{cfg: cfg}
	go func() {
		defer close(h.done)
		h.err = w.run(msgs)
		if h.err != nil {
			braid.Logf("ERROR: archive writer failed: %v", h.err)
		}
	}()
	return h
}

// flushInterval is how often buffered estimate rows are pushed toward
// the database between messages.
const flushInterval = time.Second

type writer struct {
	cfg     WriterConfig
	session *session
}

func (w *writer) run(msgs <-chan braid.SaveToDiskMsg) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				if w.session != nil {
					return w.closeSession()
				}
				return nil
			}
			if err := w.handle(msg); err != nil {
				// Keep draining so the tracker is not wedged against a
				// full channel, but record nothing further.
				w.discardSession()
				for range msgs {
				}
				return err
			}
		case <-ticker.C:
			if w.session != nil {
				if err := w.session.ow.flushAged(); err != nil {
					w.discardSession()
					return err
				}
			}
		}
	}
}

func (w *writer) handle(msg braid.SaveToDiskMsg) error {
	switch m := msg.(type) {
	case braid.StartSaving:
		if w.session != nil {
			braid.Logf("archive: StartSaving while already saving to %s, ignored", w.session.dir)
			return nil
		}
		s, err := openSession(m.Config, w.cfg)
		if err != nil {
			return err
		}
		w.session = s
		braid.Logf("archive: saving to %s", s.dir)
		return nil
	case braid.StopSaving:
		if w.session == nil {
			return nil
		}
		return w.closeSession()
	}

	// Data messages outside a session are intentionally dropped: the
	// tracker runs whether or not anyone asked for a recording.
	if w.session == nil {
		return nil
	}
	s := w.session
	switch m := msg.(type) {
	case braid.SaveKalmanEstimate:
		if obs := w.cfg.Observer; obs != nil {
			if ts := m.Row.Timestamp; ts != nil {
				obs.ObserveSaveLatency(time.Since(*ts).Seconds())
			}
			if m.MeanReprojDist100x > 0 {
				obs.ObserveReprojDist(float64(m.MeanReprojDist100x) / 100)
			}
		}
		return s.ow.Add(m)
	case braid.SaveData2dDistorted:
		return insertData2d(s.db, m.Rows)
	case braid.SaveTextlog:
		return insertTextlog(s.db, m.Row)
	case braid.SaveTriggerClockInfo:
		return insertTriggerClockInfo(s.db, m.Row)
	case braid.SetExperimentUUID:
		return insertExperimentInfo(s.db, m.UUID)
	default:
		return fmt.Errorf("archive: unhandled message type %T", msg)
	}
}

func (w *writer) closeSession() error {
	s := w.session
	w.session = nil
	return s.close()
}

func (w *writer) discardSession() {
	if w.session == nil {
		return
	}
	w.session.db.Close()
	w.session = nil
}

// session is one recording: a directory holding the sqlite database,
// calibration, metadata and README, finalized into a .braidz file.
type session struct {
	dir string
	db  *sql.DB
	ow  *orderingWriter
}

const readmeText = `# braid recording

This directory (or the .braidz file it was packed into) holds one
recording session: raw 2D detections, 3D kalman estimates and the data
association between them, stored in ` + DatabaseName + `, plus the
camera calibration and session metadata.

Do not edit the contents while the recording is in progress.
`

func openSession(start braid.StartSavingConfig, cfg WriterConfig) (*session, error) {
	if start.OutDir == "" {
		return nil, fmt.Errorf("archive: StartSaving without output directory")
	}
	if err := os.MkdirAll(start.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create session dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(start.OutDir, braid.ReadmeName), []byte(readmeText), 0o644); err != nil {
		return nil, fmt.Errorf("archive: write README: %w", err)
	}
	meta := fmt.Sprintf(
		"# braid metadata\nschema: %d\nsession_id: %s\ngit_revision: %s\nfps: %v\nsaving_program_name: braid\ncreated_at: %s\n",
		braid.SchemaVersion, uuid.NewString(), start.GitRevision, start.FPS,
		time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(start.OutDir, braid.MetadataYamlName), []byte(meta), 0o644); err != nil {
		return nil, fmt.Errorf("archive: write metadata: %w", err)
	}
	if cfg.CalibrationXML != "" {
		if err := os.WriteFile(filepath.Join(start.OutDir, braid.CalibrationXMLName), []byte(cfg.CalibrationXML), 0o644); err != nil {
			return nil, fmt.Errorf("archive: write calibration: %w", err)
		}
	}

	db, err := OpenDatabase(filepath.Join(start.OutDir, DatabaseName))
	if err != nil {
		return nil, err
	}
	s := &session{
		dir: start.OutDir,
		db:  db,
		ow:  newOrderingWriter(func(m braid.SaveKalmanEstimate) error { return insertKalmanEstimate(db, m) }),
	}

	if err := insertCamInfo(db, cfg.CamInfo); err != nil {
		db.Close()
		return nil, err
	}
	now := braid.TimestampF64(time.Now())
	paramsJSON, err := json.Marshal(cfg.TrackingParams)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: encode tracking params: %w", err)
	}
	logRows := []braid.TextlogRow{
		{MainbrainTimestamp: now, CamID: "mainbrain", HostTimestamp: now,
			Message: fmt.Sprintf("braid running at %v fps (git_revision %s)", start.FPS, start.GitRevision)},
		{MainbrainTimestamp: now, CamID: "mainbrain", HostTimestamp: now,
			Message: "tracking_params " + string(paramsJSON)},
	}
	for _, r := range logRows {
		if err := insertTextlog(db, r); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// close drains buffered rows, closes the database, and replaces the
// session directory with its .braidz archive.
func (s *session) close() error {
	if err := s.ow.Drain(); err != nil {
		s.db.Close()
		return err
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("archive: close database: %w", err)
	}
	out := s.dir + ".braidz"
	if err := WriteBraidz(s.dir, out); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("archive: remove session dir: %w", err)
	}
	braid.Logf("archive: wrote %s", out)
	return nil
}
