// Package triggerbox models the trigger device clock. The device
// counts trigger pulses; periodically querying its (framecount, tcnt)
// pair bracketed by host timestamps yields samples from which a linear
// framestamp-to-wall-clock model is fit. Once the model converges the
// tracker can reconstruct the firing time of any synchronized frame.
package triggerbox

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/braid-data/braid/internal/braid"
)

// minSamplesForFit is how many accepted samples the fit needs before a
// model is published.
const minSamplesForFit = 5

// defaultWindow bounds the sliding sample window. Old samples age out
// so slow clock drift is tracked instead of averaged away.
const defaultWindow = 100

// defaultMaxRoundTrip rejects samples whose query round trip was too
// long to locate the measurement in time.
const defaultMaxRoundTrip = 20 * time.Millisecond

// Sample is one clock measurement: the device framecount (with the
// fractional pulse counter tcnt/255) bracketed by host timestamps.
type Sample struct {
	Start      time.Time
	Stop       time.Time
	Framecount int64
	Tcnt       uint8
}

// Framestamp is the fractional frame count at the moment of
// measurement.
func (s Sample) Framestamp() float64 {
	return float64(s.Framecount) + float64(s.Tcnt)/255
}

// Row is the sample's archive form.
func (s Sample) Row() braid.TriggerClockInfoRow {
	return braid.TriggerClockInfoRow{
		StartTimestamp: s.Start,
		Framecount:     s.Framecount,
		Tcnt:           s.Tcnt,
		StopTimestamp:  s.Stop,
	}
}

// ClockModel maps framestamps to wall-clock time:
// t = Offset + Gain*framestamp, in epoch seconds.
type ClockModel struct {
	Gain   float64
	Offset float64
}

// TimeOf returns the wall-clock time of a framestamp.
func (m *ClockModel) TimeOf(framestamp float64) time.Time {
	return braid.F64Timestamp(m.Offset + m.Gain*framestamp)
}

// Fitter maintains the sliding sample window and the fitted model. It
// is safe for concurrent use: the serial query loop adds samples while
// the tracker reads timestamps.
type Fitter struct {
	mu           sync.Mutex
	window       int
	maxRoundTrip time.Duration
	samples      []Sample
	model        *ClockModel
}

// NewFitter returns a Fitter with the given window size; zero values
// select the defaults.
func NewFitter(window int, maxRoundTrip time.Duration) *Fitter {
	if window <= 0 {
		window = defaultWindow
	}
	if maxRoundTrip <= 0 {
		maxRoundTrip = defaultMaxRoundTrip
	}
	return &Fitter{window: window, maxRoundTrip: maxRoundTrip}
}

// Add accepts one measurement and refits the model. Samples with a
// round trip beyond the configured bound are discarded; their midpoint
// is too uncertain. Reports whether the sample was accepted.
func (f *Fitter) Add(s Sample) bool {
	rt := s.Stop.Sub(s.Start)
	if rt < 0 || rt > f.maxRoundTrip {
		braid.Logf("triggerbox: dropping clock sample with %v round trip", rt)
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	if len(f.samples) > f.window {
		f.samples = f.samples[len(f.samples)-f.window:]
	}
	if len(f.samples) >= minSamplesForFit {
		f.refitLocked()
	}
	return true
}

// refitLocked least-squares fits time against framestamp over the
// window. The measurement time is the round-trip midpoint.
func (f *Fitter) refitLocked() {
	xs := make([]float64, len(f.samples))
	ys := make([]float64, len(f.samples))
	for i, s := range f.samples {
		xs[i] = s.Framestamp()
		mid := s.Start.Add(s.Stop.Sub(s.Start) / 2)
		ys[i] = braid.TimestampF64(mid)
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	f.model = &ClockModel{Gain: beta, Offset: alpha}
}

// Model returns the current clock model, or nil before convergence.
func (f *Fitter) Model() *ClockModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	m := *f.model
	return &m
}

// TriggerTimestamp reconstructs when the trigger pulse for a frame
// fired. Returns nil before the model has converged.
func (f *Fitter) TriggerTimestamp(frame braid.FrameNumber) *time.Time {
	m := f.Model()
	if m == nil {
		return nil
	}
	t := m.TimeOf(float64(frame))
	return &t
}
