// Package coord drives the online tracking pipeline: it pulls
// synchronized frame bundles, saves the raw detections, splits them
// into mini arenas, steps each arena's model collection through its
// four tracking phases, and forwards the resulting archive and
// listener messages in production order.
package coord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
	"github.com/braid-data/braid/internal/braid/bundler"
	"github.com/braid-data/braid/internal/braid/geom"
	"github.com/braid-data/braid/internal/braid/tracker"
)

// SaveChannelCapacity bounds the archive writer channel. A full channel
// suspends the tracking loop rather than dropping data.
const SaveChannelCapacity = 10

// Stats receives per-frame telemetry. Implementations must be cheap;
// they run on the tracking loop.
type Stats interface {
	FrameDone(frame braid.FrameNumber, liveModels int, elapsed time.Duration)
}

// Config assembles a Processor.
type Config struct {
	// Cams is the calibrated camera system.
	Cams *geom.CameraSystem
	// Params are the tracking parameters for every arena.
	Params braid.TrackingParams
	// Arenas selects the mini-arena layout.
	Arenas arena.Config
	// FPS is the trigger rate; it fixes the motion model's frame interval.
	FPS float64
	// Saves receives every archive message, raw detections included.
	Saves chan<- braid.SaveToDiskMsg
	// Stats optionally receives per-frame telemetry.
	Stats Stats
}

// Processor owns the per-arena model collections and the single
// tracking task that advances them. It is not safe for concurrent use;
// exactly one goroutine runs ConsumeStream.
type Processor struct {
	geo       *geom.CameraSystem
	splitter  *arena.Splitter
	colls     []tracker.CollectionDone
	saves     chan<- braid.SaveToDiskMsg
	listeners []chan<- braid.Notification
	stats     Stats

	last  braid.FrameNumber
	begun bool
}

// NewProcessor validates the configuration and builds one empty model
// collection per arena. All arenas share one object id counter so ids
// are unique across the run.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Cams == nil {
		return nil, errors.New("coord: camera system required")
	}
	if cfg.Saves == nil {
		return nil, errors.New("coord: save channel required")
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("coord: fps must be positive, got %v", cfg.FPS)
	}
	splitter, err := arena.NewSplitter(cfg.Arenas, cfg.Cams)
	if err != nil {
		return nil, err
	}

	objIDs := &tracker.ObjIDCounter{}
	colls := make([]tracker.CollectionDone, splitter.NArenas())
	for i := range colls {
		c, err := tracker.NewCollection(tracker.Config{
			Params: cfg.Params,
			Cams:   cfg.Cams,
			DT:     1 / cfg.FPS,
			ObjIDs: objIDs,
			Arena:  arena.Index(i),
		})
		if err != nil {
			return nil, err
		}
		colls[i] = c
	}
	return &Processor{
		geo:      cfg.Cams,
		splitter: splitter,
		colls:    colls,
		saves:    cfg.Saves,
		stats:    cfg.Stats,
	}, nil
}

// AddListener registers a live-notification channel. A full channel
// blocks the tracking loop; listeners that cannot keep up stall
// tracking rather than miss messages. Call before ConsumeStream.
func (p *Processor) AddListener(ch chan<- braid.Notification) {
	p.listeners = append(p.listeners, ch)
}

// ConsumeStream processes bundles until the channel closes or the
// context is canceled. The calibration is announced to listeners before
// the first frame. The caller owns draining the save channel; the
// writer is still flushing when ConsumeStream returns.
func (p *Processor) ConsumeStream(ctx context.Context, bundles <-chan bundler.FrameBundle) error {
	if xmlStr, err := geom.FlydraXMLString(p.geo); err == nil {
		p.notify(braid.Notification{Msg: braid.CalibrationMsg(xmlStr)})
	} else {
		braid.Logf("coord: calibration not announced: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			opsf("stream canceled: %v", ctx.Err())
			return ctx.Err()
		case b, ok := <-bundles:
			if !ok {
				opsf("stream ended after frame %v", p.last)
				return nil
			}
			p.processBundle(b)
		}
	}
}

// processBundle handles one synchronized frame. Raw detections are
// saved before any tracking so they survive whatever tracking does with
// them.
func (p *Processor) processBundle(b bundler.FrameBundle) {
	frame := b.Frame()
	if uint64(frame) == math.MaxUint64 {
		panic("coord: frame number at uint64 limit indicates upstream corruption")
	}
	if p.begun && frame <= p.last {
		panic(fmt.Sprintf("coord: frame %v after frame %v; frame numbers must strictly increase", frame, p.last))
	}
	p.last = frame
	p.begun = true
	start := time.Now()

	if rows := rawRows(b.Frames); len(rows) > 0 {
		p.saves <- braid.SaveData2dDistorted{Rows: rows}
	}

	// Arenas own disjoint objects; processed one after another, to
	// completion, within the frame.
	live := 0
	for i, ab := range p.splitter.Split(b.Frames, b.TDPT) {
		started := p.colls[i].PredictMotion(b.TDPT)
		withLikes := started.ComputeObservationLikes(ab)
		posteriors, unused := withLikes.SolveDataAssociationAndUpdate()
		done, out := posteriors.BirthsAndDeaths(unused)
		p.colls[i] = done
		live += done.NumModels()

		if len(out.Saves) > 0 || len(out.Notifications) > 0 {
			diagf("frame %v arena %d: %d models, %d saves, %d notifications",
				frame, i, done.NumModels(), len(out.Saves), len(out.Notifications))
		}
		for _, msg := range out.Saves {
			p.saves <- msg
		}
		for _, note := range out.Notifications {
			p.notify(note)
		}
	}

	p.notify(braid.Notification{Msg: braid.EndOfFrameMsg(frame), TDPT: b.TDPT})
	elapsed := time.Since(start)
	tracef("frame %v: %d live models, %v", frame, live, elapsed)
	if p.stats != nil {
		p.stats.FrameDone(frame, live, elapsed)
	}
}

// rawRows converts one frame's detections to their persisted form. A
// camera that reported no detections still yields one placeholder row
// so its timing survives in the archive.
func rawRows(frames []braid.FrameDataAndPoints) []braid.Data2dDistortedRow {
	var rows []braid.Data2dDistortedRow
	for i := range frames {
		fdp := &frames[i]
		if len(fdp.Points) == 0 {
			rows = append(rows, braid.ConvertEmptyToSave(&fdp.FrameData))
			continue
		}
		for j := range fdp.Points {
			rows = append(rows, braid.ConvertToSave(&fdp.FrameData, &fdp.Points[j]))
		}
	}
	return rows
}

func (p *Processor) notify(n braid.Notification) {
	for _, ch := range p.listeners {
		ch <- n
	}
}
