package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/braid-data/braid/internal/braid"
)

// maxPacketSize is the largest camera packet accepted. Camera nodes
// send one UDP datagram per frame; even a pathological frame with the
// full 256 points fits well inside this.
const maxPacketSize = 65536

// StatsSink receives listener counters. Implementations must be cheap;
// they run on the receive loop.
type StatsSink interface {
	AddPacket(bytes int)
	AddBadPacket()
	AddPoints(count int)
}

// noopStats keeps the receive loop free of nil checks when no stats
// collector is configured.
type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddBadPacket() {}
func (noopStats) AddPoints(int) {}

// ListenerConfig configures the UDP camera-packet listener.
type ListenerConfig struct {
	// Address is the UDP listen address, e.g. ":9901".
	Address string
	// RcvBuf sets the socket receive buffer; 0 keeps the OS default.
	RcvBuf int
	// Cams assigns camera numbers; required.
	Cams CamNumLookup
	// Stats optionally receives packet counters.
	Stats StatsSink
	// Out receives one FrameDataAndPoints per good packet; required.
	// The listener blocks when it fills.
	Out chan<- braid.FrameDataAndPoints
}

// Listener receives camera packets over UDP and emits frame data.
type Listener struct {
	cfg   ListenerConfig
	codec *Codec
	stats StatsSink
}

// NewListener validates the configuration and builds the listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Cams == nil {
		return nil, errors.New("ingest: camera lookup required")
	}
	if cfg.Out == nil {
		return nil, errors.New("ingest: output channel required")
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	return &Listener{cfg: cfg, codec: codec, stats: stats}, nil
}

// Run listens until the context is canceled. The output channel is
// closed on return so downstream stages see end of stream.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.cfg.Out)

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("ingest: resolve %q: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest: listen on %q: %w", l.cfg.Address, err)
	}
	defer conn.Close()
	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			braid.Logf("ingest: set receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	braid.Logf("ingest: listening for camera packets on %s", conn.LocalAddr())

	buf := make([]byte, maxPacketSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		// A short deadline keeps the loop responsive to cancellation
		// without busy-waiting.
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("ingest: set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("ingest: read packet: %w", err)
		}
		l.stats.AddPacket(n)
		if !l.deliver(ctx, buf[:n]) {
			return nil
		}
	}
}

// deliver decodes and forwards one datagram. Returns false when the
// context ended while blocked on the output channel.
func (l *Listener) deliver(ctx context.Context, datagram []byte) bool {
	pkt, err := l.codec.Decode(datagram)
	if err != nil {
		l.stats.AddBadPacket()
		braid.Logf("ingest: %v", err)
		return true
	}
	fdp, err := ToFrameData(pkt, l.cfg.Cams)
	if err != nil {
		l.stats.AddBadPacket()
		braid.Logf("ingest: %v", err)
		return true
	}
	l.stats.AddPoints(len(fdp.Points))
	select {
	case l.cfg.Out <- fdp:
		return true
	case <-ctx.Done():
		return false
	}
}
