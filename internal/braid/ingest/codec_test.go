package ingest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
)

type fakeCams map[string]braid.CamNum

func (f fakeCams) Register(name string) braid.CamNum {
	n, ok := f[name]
	if !ok {
		n = braid.CamNum(len(f))
		f[name] = n
	}
	return n
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()
	codec, err := NewCodec()
	require.NoError(t, err)

	slope, ecc := 0.7, 1.9
	dev := uint64(123456)
	in := &CamPacket{
		CamName:     "cam-a",
		Timestamp:   1700000000.25,
		Framenumber: 42,
		Points: []WirePoint{
			{X: 10.5, Y: 20.25, Area: 30, Slope: &slope, Eccentricity: &ecc, CurVal: 200, MeanVal: 12.5, SumSqFVal: 3.5},
			{X: 1, Y: 2, Area: 3, CurVal: 9, MeanVal: 1, SumSqFVal: 1},
		},
		DeviceTimestamp: &dev,
	}
	data, err := codec.Encode(in)
	require.NoError(t, err)
	out, err := codec.Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("packet round trip mismatch (-want +got):\n%s", diff)
	}

	// Deterministic encoding: same packet, same bytes.
	data2, err := codec.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	codec, err := NewCodec()
	require.NoError(t, err)
	_, err = codec.Decode([]byte("not cbor at all"))
	assert.Error(t, err)
}

func TestToFrameData(t *testing.T) {
	t.Parallel()
	cams := fakeCams{}
	slope, ecc := -0.25, 2.0
	pkt := &CamPacket{
		CamName:     "cam-b",
		Timestamp:   1700000100.5,
		Framenumber: 7,
		Points: []WirePoint{
			{X: 3, Y: 4, Area: 5, Slope: &slope, Eccentricity: &ecc, CurVal: 250, MeanVal: 20, SumSqFVal: 2},
			{X: 6, Y: 7, Area: 8, CurVal: 10, MeanVal: 1, SumSqFVal: 1},
		},
	}
	fdp, err := ToFrameData(pkt, cams)
	require.NoError(t, err)
	assert.Equal(t, "cam-b", fdp.FrameData.CamName)
	assert.Equal(t, braid.FrameNumber(7), fdp.FrameData.SyncedFrame)
	assert.WithinDuration(t, braid.F64Timestamp(1700000100.5), fdp.FrameData.CamReceivedTimestamp, time.Microsecond)
	require.Len(t, fdp.Points, 2)
	assert.Equal(t, uint8(0), fdp.Points[0].Idx)
	assert.Equal(t, uint8(1), fdp.Points[1].Idx)
	require.NotNil(t, fdp.Points[0].Point.Orientation)
	assert.Equal(t, -0.25, fdp.Points[0].Point.Orientation.Slope)
	assert.Nil(t, fdp.Points[1].Point.Orientation)

	// The same camera keeps its number.
	fdp2, err := ToFrameData(pkt, cams)
	require.NoError(t, err)
	assert.Equal(t, fdp.FrameData.CamNum, fdp2.FrameData.CamNum)
}

func TestToFrameDataRejectsUnsynced(t *testing.T) {
	t.Parallel()
	_, err := ToFrameData(&CamPacket{CamName: "cam-a", Framenumber: -1}, fakeCams{})
	assert.Error(t, err)
}

func TestFromFrameDataInvertsToFrameData(t *testing.T) {
	t.Parallel()
	cams := fakeCams{}
	orig := braid.FrameDataAndPoints{
		FrameData: braid.FrameData{
			CamName:              "cam-a",
			SyncedFrame:          99,
			CamReceivedTimestamp: braid.F64Timestamp(1700000200.125),
		},
		Points: []braid.NumberedRawPoint{
			{Idx: 0, Point: braid.RawPoint{X: 1.5, Y: 2.5, Area: 3, CurVal: 99, MeanVal: 4, SumSqFVal: 5}},
		},
	}
	back, err := ToFrameData(FromFrameData(&orig), cams)
	require.NoError(t, err)
	assert.Equal(t, orig.FrameData.SyncedFrame, back.FrameData.SyncedFrame)
	assert.Equal(t, orig.Points, back.Points)
}
