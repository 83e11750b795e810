package bundler

import (
	"errors"
	"math"

	"github.com/braid-data/braid/internal/braid"
)

// ErrNonMonotonic reports bundle frame numbers that failed to increase.
var ErrNonMonotonic = errors.New("bundler: bundle frame numbers must increase")

// ErrFrameOverflow reports the reserved maximum frame number.
var ErrFrameOverflow = errors.New("bundler: frame number at uint64 limit")

// Contiguous rewrites a bundle stream so every frame number appears
// exactly once, synthesizing empty bundles for frames nothing reported.
// The tracker needs those empty frames: motion prediction and object
// death happen on them.
type Contiguous struct {
	next  braid.FrameNumber
	begun bool
}

// Fill returns the given bundle preceded by empty bundles for any
// skipped frame numbers. A bundle that fails to advance the frame
// number ends the stream with ErrNonMonotonic.
func (c *Contiguous) Fill(b FrameBundle) ([]FrameBundle, error) {
	frame := b.Frame()
	if uint64(frame) == math.MaxUint64 {
		return nil, ErrFrameOverflow
	}
	if c.begun && frame < c.next {
		return nil, ErrNonMonotonic
	}
	var out []FrameBundle
	if c.begun {
		for n := c.next; n < frame; n++ {
			out = append(out, FrameBundle{TDPT: braid.TimeDataPassthrough{Frame: n}})
		}
	}
	out = append(out, b)
	c.next = frame + 1
	c.begun = true
	return out, nil
}
