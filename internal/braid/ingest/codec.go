// Package ingest receives camera detection packets and turns them into
// the per-camera frame data the bundler consumes. Camera nodes send
// one CBOR-encoded packet per frame over UDP; pcap captures of that
// traffic can be replayed through the same path.
package ingest

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/braid-data/braid/internal/braid"
)

// WirePoint is one detection as encoded on the wire.
type WirePoint struct {
	X            float64  `cbor:"x0_abs"`
	Y            float64  `cbor:"y0_abs"`
	Area         float64  `cbor:"area"`
	Slope        *float64 `cbor:"slope"`
	Eccentricity *float64 `cbor:"eccentricity"`
	CurVal       uint8    `cbor:"cur_val"`
	MeanVal      float64  `cbor:"mean_val"`
	SumSqFVal    float64  `cbor:"sumsqf_val"`
}

// CamPacket is one camera's detections for one frame as encoded on the
// wire.
type CamPacket struct {
	CamName string `cbor:"cam_name"`
	// Timestamp is the camera node's clock when the frame was grabbed,
	// seconds since epoch.
	Timestamp float64 `cbor:"timestamp"`
	// Framenumber is the synchronized frame number; -1 before the
	// camera is synchronized.
	Framenumber     int64       `cbor:"framenumber"`
	Points          []WirePoint `cbor:"points"`
	DeviceTimestamp *uint64     `cbor:"device_timestamp"`
	BlockID         *uint64     `cbor:"block_id"`
}

// Codec encodes and decodes camera packets. The zero value is not
// usable; call NewCodec.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCodec builds the packet codec. Encoding is deterministic
// (core-deterministic CBOR) so identical packets are byte-identical,
// which replay tests rely on.
func NewCodec() (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("ingest: build encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("ingest: build decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode serializes one packet.
func (c *Codec) Encode(p *CamPacket) ([]byte, error) {
	b, err := c.enc.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ingest: encode packet: %w", err)
	}
	return b, nil
}

// Decode deserializes one packet.
func (c *Codec) Decode(data []byte) (*CamPacket, error) {
	var p CamPacket
	if err := c.dec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ingest: decode packet: %w", err)
	}
	return &p, nil
}

// CamNumLookup maps camera names to archive camera numbers,
// registering unseen names. The coord.CameraManager satisfies it.
type CamNumLookup interface {
	Register(name string) braid.CamNum
}

// ToFrameData converts a decoded packet to tracker input. Unsynced
// packets (negative frame number) are rejected.
func ToFrameData(p *CamPacket, cams CamNumLookup) (braid.FrameDataAndPoints, error) {
	if p.Framenumber < 0 {
		return braid.FrameDataAndPoints{}, fmt.Errorf("ingest: camera %q not synchronized (framenumber %d)",
			p.CamName, p.Framenumber)
	}
	fd := braid.FrameData{
		CamName:              p.CamName,
		CamNum:               cams.Register(p.CamName),
		SyncedFrame:          braid.FrameNumber(p.Framenumber),
		CamReceivedTimestamp: braid.F64Timestamp(p.Timestamp),
		DeviceTimestamp:      p.DeviceTimestamp,
		BlockID:              p.BlockID,
	}
	pts := make([]braid.NumberedRawPoint, 0, len(p.Points))
	for i, wp := range p.Points {
		if i > math.MaxUint8 {
			braid.Logf("ingest: camera %q frame %d: truncating %d points to %d",
				p.CamName, p.Framenumber, len(p.Points), math.MaxUint8+1)
			break
		}
		rp := braid.RawPoint{
			X:         wp.X,
			Y:         wp.Y,
			Area:      wp.Area,
			CurVal:    wp.CurVal,
			MeanVal:   wp.MeanVal,
			SumSqFVal: wp.SumSqFVal,
		}
		if wp.Slope != nil && wp.Eccentricity != nil {
			rp.Orientation = &braid.Orientation{Slope: *wp.Slope, Eccentricity: *wp.Eccentricity}
		}
		pts = append(pts, braid.NumberedRawPoint{Idx: uint8(i), Point: rp})
	}
	return braid.FrameDataAndPoints{FrameData: fd, Points: pts}, nil
}

// FromFrameData builds the wire form of one camera frame. Used by
// tests and by tools that synthesize camera traffic.
func FromFrameData(fdp *braid.FrameDataAndPoints) *CamPacket {
	p := &CamPacket{
		CamName:         fdp.FrameData.CamName,
		Timestamp:       braid.TimestampF64(fdp.FrameData.CamReceivedTimestamp),
		Framenumber:     int64(fdp.FrameData.SyncedFrame),
		DeviceTimestamp: fdp.FrameData.DeviceTimestamp,
		BlockID:         fdp.FrameData.BlockID,
	}
	for _, np := range fdp.Points {
		wp := WirePoint{
			X:         np.Point.X,
			Y:         np.Point.Y,
			Area:      np.Point.Area,
			CurVal:    np.Point.CurVal,
			MeanVal:   np.Point.MeanVal,
			SumSqFVal: np.Point.SumSqFVal,
		}
		if o := np.Point.Orientation; o != nil {
			s, e := o.Slope, o.Eccentricity
			wp.Slope, wp.Eccentricity = &s, &e
		}
		p.Points = append(p.Points, wp)
	}
	return p
}
