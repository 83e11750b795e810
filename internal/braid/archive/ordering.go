package archive

import (
	"sort"

	"github.com/braid-data/braid/internal/braid"
)

// orderingWindowFrames is how far behind the newest seen frame a row
// may lag before it is flushed. Estimates arrive slightly out of frame
// order across objects and arenas; buffering this many frames restores
// a strictly frame-ordered table without unbounded memory.
const orderingWindowFrames = 100

// orderingWriter buffers kalman-estimate saves by frame and hands them
// to the sink in frame order once they age out of the reordering
// window.
type orderingWriter struct {
	sink    func(braid.SaveKalmanEstimate) error
	byFrame map[braid.FrameNumber][]braid.SaveKalmanEstimate
	maxSeen braid.FrameNumber
}

func newOrderingWriter(sink func(braid.SaveKalmanEstimate) error) *orderingWriter {
	return &orderingWriter{
		sink:    sink,
		byFrame: make(map[braid.FrameNumber][]braid.SaveKalmanEstimate),
	}
}

// Add buffers one save and flushes whatever the new frame ages out.
func (o *orderingWriter) Add(m braid.SaveKalmanEstimate) error {
	f := m.Row.Frame
	o.byFrame[f] = append(o.byFrame[f], m)
	if f > o.maxSeen {
		o.maxSeen = f
	}
	return o.flushAged()
}

func (o *orderingWriter) flushAged() error {
	if o.maxSeen < orderingWindowFrames {
		return nil
	}
	return o.flushBefore(o.maxSeen - orderingWindowFrames)
}

// Drain flushes every buffered row. Used when the session closes.
func (o *orderingWriter) Drain() error {
	return o.flushBefore(braid.FrameNumber(^uint64(0)))
}

func (o *orderingWriter) flushBefore(limit braid.FrameNumber) error {
	var frames []braid.FrameNumber
	for f := range o.byFrame {
		if f < limit {
			frames = append(frames, f)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	for _, f := range frames {
		for _, m := range o.byFrame[f] {
			if err := o.sink(m); err != nil {
				return err
			}
		}
		delete(o.byFrame, f)
	}
	return nil
}
