// Package report summarizes a .braidz archive: an HTML overview of
// trajectory durations and reprojection quality, plus a top-down XY
// plot of every trajectory.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/archive"
)

// TrajectoryPoint is one smoothed position sample.
type TrajectoryPoint struct {
	Frame     braid.FrameNumber
	Timestamp float64 // epoch seconds, NaN when no clock model had converged
	X, Y, Z   float64
	// ReprojDist is the mean reprojection distance in pixels.
	ReprojDist float64
}

// Trajectory is the full history of one tracked object.
type Trajectory struct {
	ObjID  uint32
	Points []TrajectoryPoint
}

// Frames is the number of frames the object stayed alive.
func (tr Trajectory) Frames() int { return len(tr.Points) }

// Seconds is the trajectory duration from reconstructed timestamps, or
// NaN when the archive has no trigger clock model.
func (tr Trajectory) Seconds() float64 {
	if len(tr.Points) < 2 {
		return 0
	}
	first, last := tr.Points[0].Timestamp, tr.Points[len(tr.Points)-1].Timestamp
	if math.IsNaN(first) || math.IsNaN(last) {
		return math.NaN()
	}
	return last - first
}

// MeanReprojDist averages the per-estimate mean reprojection distance.
func (tr Trajectory) MeanReprojDist() float64 {
	if len(tr.Points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range tr.Points {
		sum += p.ReprojDist
	}
	return sum / float64(len(tr.Points))
}

// Summary is everything the report renders.
type Summary struct {
	ArchivePath  string
	Cameras      []braid.CamInfoRow
	Trajectories []Trajectory
	// Data2dRows counts saved raw detections.
	Data2dRows int
}

// Load extracts the archive to a scratch directory and reads it back.
func Load(archivePath string) (*Summary, error) {
	scratch, err := os.MkdirTemp("", "braid-report-*")
	if err != nil {
		return nil, fmt.Errorf("report: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := archive.ExtractBraidz(archivePath, scratch); err != nil {
		return nil, err
	}
	db, err := archive.OpenDatabase(filepath.Join(scratch, archive.DatabaseName))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	s := &Summary{ArchivePath: archivePath}

	camRows, err := db.Query(`SELECT cam_num, cam_id FROM cam_info ORDER BY cam_num`)
	if err != nil {
		return nil, fmt.Errorf("report: query cam_info: %w", err)
	}
	defer camRows.Close()
	for camRows.Next() {
		var r braid.CamInfoRow
		if err := camRows.Scan(&r.CamNum, &r.CamID); err != nil {
			return nil, fmt.Errorf("report: scan cam_info: %w", err)
		}
		s.Cameras = append(s.Cameras, r)
	}
	if err := camRows.Err(); err != nil {
		return nil, fmt.Errorf("report: cam_info rows: %w", err)
	}

	keRows, err := db.Query(`
		SELECT obj_id, frame, timestamp, x, y, z, mean_reproj_dist_100x
		FROM kalman_estimates ORDER BY obj_id, frame`)
	if err != nil {
		return nil, fmt.Errorf("report: query kalman_estimates: %w", err)
	}
	defer keRows.Close()
	byObj := map[uint32]*Trajectory{}
	var order []uint32
	for keRows.Next() {
		var (
			objID      uint32
			frame      uint64
			ts         *float64
			x, y, z    float64
			reproj100x int64
		)
		if err := keRows.Scan(&objID, &frame, &ts, &x, &y, &z, &reproj100x); err != nil {
			return nil, fmt.Errorf("report: scan kalman_estimates: %w", err)
		}
		p := TrajectoryPoint{
			Frame:      braid.FrameNumber(frame),
			Timestamp:  math.NaN(),
			X:          x,
			Y:          y,
			Z:          z,
			ReprojDist: float64(reproj100x) / 100,
		}
		if ts != nil {
			p.Timestamp = *ts
		}
		tr, ok := byObj[objID]
		if !ok {
			tr = &Trajectory{ObjID: objID}
			byObj[objID] = tr
			order = append(order, objID)
		}
		tr.Points = append(tr.Points, p)
	}
	if err := keRows.Err(); err != nil {
		return nil, fmt.Errorf("report: kalman_estimates rows: %w", err)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, id := range order {
		s.Trajectories = append(s.Trajectories, *byObj[id])
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM data2d_distorted`).Scan(&s.Data2dRows); err != nil {
		return nil, fmt.Errorf("report: count data2d_distorted: %w", err)
	}
	return s, nil
}

// Generate loads an archive and writes the full report into outDir:
// summary.html and trajectories_xy.svg.
func Generate(archivePath, outDir string) (*Summary, error) {
	s, err := Load(archivePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create %s: %w", outDir, err)
	}
	if err := WriteHTML(s, filepath.Join(outDir, "summary.html")); err != nil {
		return nil, err
	}
	if err := WriteTrajectoryPlot(s, filepath.Join(outDir, "trajectories_xy.svg")); err != nil {
		return nil, err
	}
	return s, nil
}
