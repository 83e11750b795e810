// Package bundler groups the per-camera point streams into
// synchronized per-frame bundles and repairs the frame sequence so the
// tracker sees every frame number exactly once.
package bundler

import (
	"fmt"
	"math"

	"github.com/braid-data/braid/internal/braid"
)

// FrameBundle is every camera's contribution to one synchronized frame.
// A camera that reported only placeholder detections appears with an
// empty point list; a camera that never reported is absent.
type FrameBundle struct {
	TDPT   braid.TimeDataPassthrough
	Frames []braid.FrameDataAndPoints
}

// Frame returns the synchronized frame number.
func (b *FrameBundle) Frame() braid.FrameNumber { return b.TDPT.Frame }

// Bundler accumulates per-camera frame data until a frame is complete.
// A frame is emitted once every connected camera has contributed, or as
// soon as data for a newer frame arrives. Emitted frame numbers
// strictly increase; data arriving for an already emitted frame is
// dropped.
type Bundler struct {
	connected func() int
	cur       *FrameBundle
	seen      map[string]bool
	emitted   braid.FrameNumber
	begun     bool
}

// New returns a Bundler. connected reports how many cameras are
// currently synchronized; a frame with that many contributions is
// complete.
func New(connected func() int) *Bundler {
	return &Bundler{connected: connected}
}

// Push adds one camera's frame data and returns any bundles it
// completed. Placeholder detections with NaN coordinates are dropped
// here so they never reach tracking. Pushing the same camera twice for
// one frame panics: the sync layer must never produce duplicates.
func (b *Bundler) Push(fdp braid.FrameDataAndPoints) []FrameBundle {
	fdp.Points = dropNaNPoints(fdp.Points)
	frame := fdp.FrameData.SyncedFrame
	cam := fdp.FrameData.CamName

	if b.begun && frame <= b.emitted {
		braid.Logf("bundler: dropping late data from %q for finished frame %v", cam, frame)
		return nil
	}

	var out []FrameBundle
	if b.cur != nil {
		if frame < b.cur.Frame() {
			braid.Logf("bundler: dropping late data from %q for frame %v while assembling %v",
				cam, frame, b.cur.Frame())
			return nil
		}
		if frame > b.cur.Frame() {
			out = append(out, b.emit())
		}
	}
	if b.cur == nil {
		b.cur = &FrameBundle{TDPT: fdp.FrameData.TDPT()}
		b.seen = make(map[string]bool)
	}

	if b.seen[cam] {
		panic(fmt.Sprintf("bundler: received data twice from camera %q for frame %v", cam, frame))
	}
	b.seen[cam] = true
	// The first camera's trigger timestamp wins; later contributions
	// are only checked for consistency.
	b.cur.TDPT.Equal(fdp.FrameData.TDPT())
	b.cur.Frames = append(b.cur.Frames, fdp)

	if n := b.connected(); n > 0 && len(b.cur.Frames) >= n {
		out = append(out, b.emit())
	}
	return out
}

// Flush emits the partially assembled frame, if any. Used at end of
// stream.
func (b *Bundler) Flush() *FrameBundle {
	if b.cur == nil {
		return nil
	}
	bundle := b.emit()
	return &bundle
}

func (b *Bundler) emit() FrameBundle {
	bundle := *b.cur
	b.cur = nil
	b.seen = nil
	b.emitted = bundle.Frame()
	b.begun = true
	return bundle
}

func dropNaNPoints(pts []braid.NumberedRawPoint) []braid.NumberedRawPoint {
	clean := true
	for _, p := range pts {
		if math.IsNaN(p.Point.X) {
			clean = false
			break
		}
	}
	if clean {
		return pts
	}
	out := make([]braid.NumberedRawPoint, 0, len(pts))
	for _, p := range pts {
		if !math.IsNaN(p.Point.X) {
			out = append(out, p)
		}
	}
	return out
}
