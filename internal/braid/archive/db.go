package archive

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/braid-data/braid/internal/braid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DatabaseName is the sqlite file inside a session directory and a
// .braidz archive.
const DatabaseName = "braid.sqlite"

// OpenDatabase opens (creating if necessary) the archive database at
// path and applies any pending migrations.
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	// The writer is the only connection; sqlite locks on concurrent
	// writers otherwise.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: set pragmas: %w", err)
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp applies all pending embedded migrations.
func MigrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("archive: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	return nil
}

func nullTime(t *braid.KalmanEstimatesRow) interface{} {
	if t.Timestamp == nil {
		return nil
	}
	return braid.TimestampF64(*t.Timestamp)
}

func insertKalmanEstimate(db *sql.DB, m braid.SaveKalmanEstimate) error {
	r := m.Row
	_, err := db.Exec(`INSERT INTO kalman_estimates
		(obj_id, frame, timestamp, x, y, z, xvel, yvel, zvel,
		 P00, P01, P02, P11, P12, P22, P33, P44, P55, mean_reproj_dist_100x)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ObjID, uint64(r.Frame), nullTime(&r), r.X, r.Y, r.Z, r.XVel, r.YVel, r.ZVel,
		r.P00, r.P01, r.P02, r.P11, r.P12, r.P22, r.P33, r.P44, r.P55,
		m.MeanReprojDist100x)
	if err != nil {
		return fmt.Errorf("archive: insert kalman estimate: %w", err)
	}
	for _, a := range m.DataAssocRows {
		if _, err := db.Exec(`INSERT INTO data_association (obj_id, frame, cam_num, pt_idx)
			VALUES (?, ?, ?, ?)`,
			a.ObjID, uint64(a.Frame), a.CamNum, a.PtIdx); err != nil {
			return fmt.Errorf("archive: insert data association: %w", err)
		}
	}
	return nil
}

func insertData2d(db *sql.DB, rows []braid.Data2dDistortedRow) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin data2d transaction: %w", err)
	}
	for _, r := range rows {
		var ts interface{}
		if r.Timestamp != nil {
			ts = braid.TimestampF64(*r.Timestamp)
		}
		var devTS, blockID interface{}
		if r.DeviceTimestamp != nil {
			devTS = int64(*r.DeviceTimestamp)
		}
		if r.BlockID != nil {
			blockID = int64(*r.BlockID)
		}
		if _, err := tx.Exec(`INSERT INTO data2d_distorted
			(cam_num, frame, timestamp, cam_received_timestamp, device_timestamp, block_id,
			 x, y, area, slope, eccentricity, frame_pt_idx, cur_val, mean_val, sumsqf_val)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.CamNum, r.Frame, ts, braid.TimestampF64(r.CamReceivedTimestamp), devTS, blockID,
			f32OrNil(r.X), f32OrNil(r.Y), f32OrNil(r.Area), f32OrNil(r.Slope), f32OrNil(r.Eccentricity),
			r.FramePtIdx, r.CurVal, f32OrNil(r.MeanVal), f32OrNil(r.SumSqFVal)); err != nil {
			tx.Rollback()
			return fmt.Errorf("archive: insert data2d row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit data2d rows: %w", err)
	}
	return nil
}

// f32OrNil maps the NaN placeholders of empty-frame rows to SQL NULL;
// sqlite has no NaN.
func f32OrNil(v float32) interface{} {
	if v != v {
		return nil
	}
	return float64(v)
}

func insertCamInfo(db *sql.DB, rows []braid.CamInfoRow) error {
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO cam_info (cam_num, cam_id) VALUES (?, ?)`,
			r.CamNum, r.CamID); err != nil {
			return fmt.Errorf("archive: insert cam_info: %w", err)
		}
	}
	return nil
}

func insertTextlog(db *sql.DB, r braid.TextlogRow) error {
	if _, err := db.Exec(`INSERT INTO textlog (mainbrain_timestamp, cam_id, host_timestamp, message)
		VALUES (?, ?, ?, ?)`,
		r.MainbrainTimestamp, r.CamID, r.HostTimestamp, r.Message); err != nil {
		return fmt.Errorf("archive: insert textlog: %w", err)
	}
	return nil
}

func insertTriggerClockInfo(db *sql.DB, r braid.TriggerClockInfoRow) error {
	if _, err := db.Exec(`INSERT INTO trigger_clock_info (start_timestamp, framecount, tcnt, stop_timestamp)
		VALUES (?, ?, ?, ?)`,
		braid.TimestampF64(r.StartTimestamp), r.Framecount, r.Tcnt,
		braid.TimestampF64(r.StopTimestamp)); err != nil {
		return fmt.Errorf("archive: insert trigger clock info: %w", err)
	}
	return nil
}

func insertExperimentInfo(db *sql.DB, uuid string) error {
	if _, err := db.Exec(`INSERT INTO experiment_info (uuid) VALUES (?)`, uuid); err != nil {
		return fmt.Errorf("archive: insert experiment info: %w", err)
	}
	return nil
}
