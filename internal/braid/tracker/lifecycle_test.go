package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
	"github.com/braid-data/braid/internal/braid/geom"
)

// TestTrackingRoundTrip drives a collection through the full life of
// one object: birth from triangulated points, gestation, promotion to
// visibility, steady tracking, starvation and death. It checks the
// complete message stream and the saved trajectory.
func TestTrackingRoundTrip(t *testing.T) {
	rig := testRig(t)
	c := newTestCollection(t, rig, braid.DefaultTrackingParamsFull3D())

	target := geom.WorldPoint{X: 0.1, Y: 0.05, Z: 0.2}
	observed := func(frame uint64) arena.Bundle {
		pts := map[string][]braid.UndistortedPoint{}
		for _, name := range rig.Names() {
			cam, ok := rig.CameraByName(name)
			require.True(t, ok)
			pts[name] = []braid.UndistortedPoint{observationAt(cam, target, 0)}
		}
		return bundleAt(frame, rig, pts)
	}
	empty := func(frame uint64) arena.Bundle { return bundleAt(frame, rig, nil) }

	const firstFrame = 100
	const observedFrames = 8

	var saves []braid.SaveKalmanEstimate
	var notes []braid.Notification
	collect := func(out FrameOutput) {
		for _, s := range out.Saves {
			if ke, ok := s.(braid.SaveKalmanEstimate); ok {
				saves = append(saves, ke)
			}
		}
		notes = append(notes, out.Notifications...)
	}

	var out FrameOutput
	for i := uint64(0); i < observedFrames; i++ {
		c, out = stepFrame(c, observed(firstFrame+i))
		collect(out)
	}
	require.Equal(t, 1, c.NumModels())

	// Starve the tracker until uncertainty kills the object.
	died := false
	for i := uint64(0); i < 500 && !died; i++ {
		c, out = stepFrame(c, empty(firstFrame+observedFrames+i))
		collect(out)
		for _, n := range out.Notifications {
			if n.Msg.Kind() == "Death" {
				died = true
			}
		}
	}
	require.True(t, died, "starved object should die from covariance growth")
	assert.Equal(t, 0, c.NumModels())

	// Exactly one birth, at the frame of the third observation.
	require.NotEmpty(t, notes)
	birth := notes[0]
	require.Equal(t, "Birth", birth.Msg.Kind(), "nothing is announced before visibility")
	assert.Equal(t, braid.FrameNumber(firstFrame+2), birth.Msg.Birth.Frame)
	assert.Equal(t, uint32(1), birth.Msg.Birth.ObjID)
	assert.InDelta(t, target.X, birth.Msg.Birth.X, 1e-3)
	assert.InDelta(t, target.Z, birth.Msg.Birth.Z, 1e-3)

	var updateFrames []braid.FrameNumber
	var deaths int
	var deathFrame braid.FrameNumber
	births := 0
	for _, n := range notes {
		switch n.Msg.Kind() {
		case "Birth":
			births++
		case "Update":
			assert.Equal(t, uint32(1), n.Msg.Update.ObjID)
			updateFrames = append(updateFrames, n.Msg.Update.Frame)
		case "Death":
			deaths++
			assert.Equal(t, uint32(1), *n.Msg.Death)
			deathFrame = n.TDPT.Frame
		}
	}
	assert.Equal(t, 1, births)
	assert.Equal(t, 1, deaths)
	assert.Equal(t, "Death", notes[len(notes)-1].Msg.Kind(), "death is the final word on an object")

	// Updates cover every visible frame after the birth, observed or
	// coasted, with no gaps.
	require.NotEmpty(t, updateFrames)
	assert.Equal(t, braid.FrameNumber(firstFrame+3), updateFrames[0])
	for i := 1; i < len(updateFrames); i++ {
		assert.Equal(t, updateFrames[i-1]+1, updateFrames[i])
	}
	assert.Equal(t, deathFrame-1, updateFrames[len(updateFrames)-1])

	// The saved trajectory begins at the frame the object became
	// visible and runs contiguously through the last observation.
	// Gestation frames never reach disk.
	require.Len(t, saves, observedFrames-2)
	assert.Equal(t, birth.Msg.Birth.Frame, saves[0].Row.Frame, "first saved row is the promotion frame")
	for i, s := range saves {
		assert.Equal(t, uint32(1), s.Row.ObjID)
		assert.Equal(t, braid.FrameNumber(firstFrame+2+uint64(i)), s.Row.Frame)
		assert.InDelta(t, target.X, s.Row.X, 1e-3)
		assert.Len(t, s.DataAssocRows, 3, "one association per camera")
		assert.GreaterOrEqual(t, s.MeanReprojDist100x, uint64(1))
	}
}

func TestGestationVisibility(t *testing.T) {
	rig := testRig(t)
	c := newTestCollection(t, rig, braid.DefaultTrackingParamsFull3D())
	target := geom.WorldPoint{X: -0.05, Y: 0.1, Z: 0.15}

	observe := func(frame uint64) {
		pts := map[string][]braid.UndistortedPoint{}
		for _, name := range rig.Names() {
			cam, _ := rig.CameraByName(name)
			pts[name] = []braid.UndistortedPoint{observationAt(cam, target, 0)}
		}
		c, _ = stepFrame(c, bundleAt(frame, rig, pts))
	}

	observe(1)
	require.Equal(t, 1, c.NumModels())
	m := c.Models()[0]
	age, gestating := m.GestationAge()
	require.True(t, gestating)
	assert.Equal(t, uint8(2), age, "the birth frame counts as the first observation")
	assert.False(t, m.IsVisible())

	observe(2)
	age, gestating = c.Models()[0].GestationAge()
	require.True(t, gestating)
	assert.Equal(t, uint8(3), age)

	observe(3)
	m = c.Models()[0]
	_, gestating = m.GestationAge()
	assert.False(t, gestating, "the third observation promotes the object")
	assert.True(t, m.IsVisible())
}

func TestUnobservedNewbornDiesSilently(t *testing.T) {
	rig := testRig(t)
	c := newTestCollection(t, rig, braid.DefaultTrackingParamsFull3D())
	target := geom.WorldPoint{X: 0, Y: 0, Z: 0.1}

	pts := map[string][]braid.UndistortedPoint{}
	for _, name := range rig.Names() {
		cam, _ := rig.CameraByName(name)
		pts[name] = []braid.UndistortedPoint{observationAt(cam, target, 0)}
	}
	var out FrameOutput
	c, out = stepFrame(c, bundleAt(1, rig, pts))
	require.Equal(t, 1, c.NumModels())
	assert.Empty(t, out.Saves, "a gestating object is not saved")
	assert.Empty(t, out.Notifications, "a gestating object is not announced")

	c, out = stepFrame(c, bundleAt(2, rig, nil))
	assert.Equal(t, 0, c.NumModels(), "one observation cannot sustain an object")
	assert.Empty(t, out.Notifications, "an object that was never visible dies silently")
	assert.Empty(t, out.Saves)
}

func TestFlatTrackingLifecycle(t *testing.T) {
	rig := overheadRig(t)
	c := newTestCollection(t, rig, braid.DefaultTrackingParamsFlat3D())
	cam, ok := rig.CameraByName("cam-top")
	require.True(t, ok)
	target := geom.WorldPoint{X: 0.15, Y: -0.2}

	var notes []braid.Notification
	var out FrameOutput
	for f := uint64(10); f < 16; f++ {
		pts := map[string][]braid.UndistortedPoint{
			"cam-top": {observationAt(cam, target, 0)},
		}
		c, out = stepFrame(c, bundleAt(f, rig, pts))
		notes = append(notes, out.Notifications...)
	}

	require.Equal(t, 1, c.NumModels(), "a single camera births objects in flat mode")
	require.NotEmpty(t, notes)
	birth := notes[0]
	require.Equal(t, "Birth", birth.Msg.Kind())
	assert.Equal(t, braid.FrameNumber(12), birth.Msg.Birth.Frame)
	assert.InDelta(t, target.X, birth.Msg.Birth.X, 1e-6)
	assert.InDelta(t, target.Y, birth.Msg.Birth.Y, 1e-6)
	assert.Zero(t, birth.Msg.Birth.Z, "flat objects stay on the plane")
	assert.Zero(t, birth.Msg.Birth.ZVel)

	last := notes[len(notes)-1]
	require.Equal(t, "Update", last.Msg.Kind())
	assert.Zero(t, last.Msg.Update.Z)
	assert.Zero(t, last.Msg.Update.ZVel)
}

// TestBirthAssociationUsesPointZero promotes an object on its birth
// frame (visibility threshold 0) and checks that the saved association
// rows reference point index 0 even when the triangulated detections
// sat at a later slot in their camera's point list.
func TestBirthAssociationUsesPointZero(t *testing.T) {
	rig := testRig(t)
	params := braid.DefaultTrackingParamsFull3D()
	params.NumObservationsToVisibility = 0
	c := newTestCollection(t, rig, params)
	target := geom.WorldPoint{X: 0.05, Y: -0.02, Z: 0.18}

	pts := map[string][]braid.UndistortedPoint{}
	for _, name := range rig.Names() {
		cam, ok := rig.CameraByName(name)
		require.True(t, ok)
		pts[name] = []braid.UndistortedPoint{observationAt(cam, target, 2)}
	}
	_, out := stepFrame(c, bundleAt(1, rig, pts))

	var birthSave *braid.SaveKalmanEstimate
	for _, s := range out.Saves {
		if ke, ok := s.(braid.SaveKalmanEstimate); ok {
			birthSave = &ke
			break
		}
	}
	require.NotNil(t, birthSave, "a threshold of zero saves the birth frame")
	require.Len(t, birthSave.DataAssocRows, 3)
	for _, row := range birthSave.DataAssocRows {
		assert.Zero(t, row.PtIdx, "birth rows always reference point index 0")
	}
}
