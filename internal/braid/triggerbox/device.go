package triggerbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/braid-data/braid/internal/braid"
)

// The query protocol is line oriented: the host sends "P\n" and the
// device answers "P <framecount> <tcnt>\n" with its pulse counter and
// the fractional timer count at the moment it handled the request.

// Config configures the trigger device query loop.
type Config struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string
	// BaudRate defaults to 115200.
	BaudRate int
	// Interval is the query period; defaults to one second.
	Interval time.Duration
	// Saves optionally receives one TriggerClockInfo row per accepted
	// sample.
	Saves chan<- braid.SaveToDiskMsg
}

// Device owns the serial connection and the clock fitter.
type Device struct {
	cfg    Config
	fitter *Fitter

	// open is swapped out by tests to avoid real hardware.
	open func() (io.ReadWriteCloser, error)
}

// New returns a Device; the serial port opens when Run starts.
func New(cfg Config) *Device {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	d := &Device{cfg: cfg, fitter: NewFitter(0, 0)}
	d.open = func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			return nil, fmt.Errorf("triggerbox: open %s: %w", cfg.Device, err)
		}
		return port, nil
	}
	return d
}

// Fitter exposes the clock model for timestamp reconstruction.
func (d *Device) Fitter() *Fitter { return d.fitter }

// TriggerTimestamp reconstructs when the trigger pulse for a frame
// fired; nil before the clock model has converged.
func (d *Device) TriggerTimestamp(frame braid.FrameNumber) *time.Time {
	return d.fitter.TriggerTimestamp(frame)
}

// Run queries the device until the context is canceled.
func (d *Device) Run(ctx context.Context) error {
	port, err := d.open()
	if err != nil {
		return err
	}
	defer port.Close()
	r := bufio.NewReader(port)
	braid.Logf("triggerbox: querying %s every %v", d.cfg.Device, d.cfg.Interval)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.queryOnce(port, r); err != nil {
				return err
			}
		}
	}
}

// queryOnce performs one bracketed clock query and feeds the fitter.
func (d *Device) queryOnce(w io.Writer, r *bufio.Reader) error {
	start := time.Now()
	if _, err := io.WriteString(w, "P\n"); err != nil {
		return fmt.Errorf("triggerbox: write query: %w", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("triggerbox: read response: %w", err)
	}
	stop := time.Now()

	var framecount int64
	var tcnt uint8
	if _, err := fmt.Sscanf(line, "P %d %d", &framecount, &tcnt); err != nil {
		return fmt.Errorf("triggerbox: parse response %q: %w", line, err)
	}
	s := Sample{Start: start, Stop: stop, Framecount: framecount, Tcnt: tcnt}
	if d.fitter.Add(s) && d.cfg.Saves != nil {
		d.cfg.Saves <- braid.SaveTriggerClockInfo{Row: s.Row()}
	}
	return nil
}
