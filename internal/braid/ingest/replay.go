package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/braid-data/braid/internal/braid"
)

// ReplayConfig configures pcap replay of captured camera traffic.
type ReplayConfig struct {
	// Path is the pcap file.
	Path string
	// Port filters datagrams by UDP destination port; 0 accepts all.
	Port int
	// RealTime reproduces the capture's inter-packet timing; false
	// replays as fast as downstream accepts.
	RealTime bool
	// Cams assigns camera numbers; required.
	Cams CamNumLookup
	// Stats optionally receives packet counters.
	Stats StatsSink
	// Out receives one FrameDataAndPoints per good packet; required.
	Out chan<- braid.FrameDataAndPoints
}

// Replay feeds a pcap capture of camera packets through the normal
// decode path. The output channel is closed on return.
func Replay(ctx context.Context, cfg ReplayConfig) error {
	if cfg.Cams == nil {
		return errors.New("ingest: camera lookup required")
	}
	if cfg.Out == nil {
		return errors.New("ingest: output channel required")
	}
	defer close(cfg.Out)

	codec, err := NewCodec()
	if err != nil {
		return err
	}
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("ingest: open capture: %w", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("ingest: read capture %s: %w", cfg.Path, err)
	}

	var packets, delivered int
	var prev time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ingest: read capture packet: %w", err)
		}
		packets++

		payload, dstPort, ok := udpPayload(data, r.LinkType())
		if !ok || (cfg.Port != 0 && dstPort != cfg.Port) {
			continue
		}
		if cfg.RealTime && !prev.IsZero() {
			if d := ci.Timestamp.Sub(prev); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return nil
				}
			}
		}
		prev = ci.Timestamp

		stats.AddPacket(len(payload))
		pkt, err := codec.Decode(payload)
		if err != nil {
			stats.AddBadPacket()
			continue
		}
		fdp, err := ToFrameData(pkt, cfg.Cams)
		if err != nil {
			stats.AddBadPacket()
			continue
		}
		stats.AddPoints(len(fdp.Points))
		select {
		case cfg.Out <- fdp:
			delivered++
		case <-ctx.Done():
			return nil
		}
	}
	braid.Logf("ingest: replayed %s: %d packets, %d camera frames", cfg.Path, packets, delivered)
	return nil
}

// udpPayload unwraps one captured packet down to its UDP payload.
func udpPayload(data []byte, link layers.LinkType) (payload []byte, dstPort int, ok bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.Lazy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, 0, false
	}
	udp := udpLayer.(*layers.UDP)
	return udp.Payload, int(udp.DstPort), true
}
