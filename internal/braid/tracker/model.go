package tracker

import (
	"math"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
	"github.com/braid-data/braid/internal/braid/geom"
)

// DataAssocInfo records one camera observation accepted by a model
// during a frame.
type DataAssocInfo struct {
	PtIdx      uint8
	CamNum     braid.CamNum
	ReprojDist float64
}

// modelCore is the per-object state carried across frame phases. A
// model gestates until it has accumulated enough observations, then
// becomes visible; gestationAge is nil once visible.
type modelCore struct {
	objID        uint32
	gestationAge *uint8
	posteriors   []StampedEstimate

	// lastObservationOffset indexes the newest posterior that had an
	// accepted observation, visible or not, or -1 before the first.
	lastObservationOffset int
}

func (c *modelCore) visible() bool { return c.gestationAge == nil }

// ModelFrameDone is a model between frames: all posteriors up to and
// including the last finished frame are recorded.
type ModelFrameDone struct {
	core modelCore
}

// ObjID returns the object identifier assigned at birth.
func (m ModelFrameDone) ObjID() uint32 { return m.core.objID }

// IsVisible reports whether the model has left gestation.
func (m ModelFrameDone) IsVisible() bool { return m.core.visible() }

// GestationAge returns the gestation counter while the model is still
// gestating. It starts at 1 and advances on every observed frame,
// the birth frame included. ok is false once the model is visible.
func (m ModelFrameDone) GestationAge() (age uint8, ok bool) {
	if m.core.gestationAge == nil {
		return 0, false
	}
	return *m.core.gestationAge, true
}

// Posterior returns the newest recorded estimate.
func (m ModelFrameDone) Posterior() StampedEstimate {
	return m.core.posteriors[len(m.core.posteriors)-1]
}

func (m ModelFrameDone) predict(motion *MotionModel, tdpt braid.TimeDataPassthrough) ModelFrameStarted {
	prior := motion.Predict(m.Posterior(), tdpt)
	return ModelFrameStarted{core: m.core, prior: prior}
}

// ModelFrameStarted is a model whose state has been advanced to the
// current frame but which has not yet seen this frame's observations.
type ModelFrameStarted struct {
	core  modelCore
	prior StampedEstimate
}

// Prior returns the motion-model prediction for the current frame.
func (m ModelFrameStarted) Prior() StampedEstimate { return m.prior }

// computeObservationLikes linearizes the observation model for each
// camera in the bundle and evaluates the likelihood of every candidate
// point. byCamera and likes are parallel to the bundle's camera list.
func (m ModelFrameStarted) computeObservationLikes(cams *geom.CameraSystem, bundleCams []arena.CameraPoints, obsCovPx float64) ModelFrameWithObservationLikes {
	byCamera := make([]*cameraObservationModel, len(bundleCams))
	likes := make([][]float64, len(bundleCams))
	for i, bc := range bundleCams {
		cam, ok := cams.CameraByName(bc.Cam)
		if !ok {
			likes[i] = make([]float64, len(bc.Points))
			continue
		}
		om := newCameraObservationModel(cam, bc.CamNum, m.prior, obsCovPx)
		byCamera[i] = om
		likes[i] = om.likelihoods(bc.Points)
	}
	return ModelFrameWithObservationLikes{core: m.core, prior: m.prior, byCamera: byCamera, likes: likes}
}

// ModelFrameWithObservationLikes is a model with per-camera observation
// likelihoods computed, ready for data association.
type ModelFrameWithObservationLikes struct {
	core     modelCore
	prior    StampedEstimate
	byCamera []*cameraObservationModel
	likes    [][]float64
}

// ModelFramePosteriors is a model whose posterior for the current frame
// has been computed from the accepted observations (or carried over
// from the prior when nothing was accepted).
type ModelFramePosteriors struct {
	core      modelCore
	posterior StampedEstimate
	obs       []DataAssocInfo
}

// newbornModel creates a model mid-frame from a triangulated birth
// estimate. The model starts gestating at age 1; finishFrame increments
// again on the birth frame, so the birth observations count once.
func newbornModel(objID uint32, est StampedEstimate, obs []DataAssocInfo) ModelFramePosteriors {
	age := uint8(1)
	return ModelFramePosteriors{
		core:      modelCore{objID: objID, gestationAge: &age, lastObservationOffset: -1},
		posterior: est,
		obs:       obs,
	}
}

// ObjID returns the object identifier assigned at birth.
func (m ModelFramePosteriors) ObjID() uint32 { return m.core.objID }

// Posterior returns the estimate for the current frame.
func (m ModelFramePosteriors) Posterior() StampedEstimate { return m.posterior }

// finishFrame records the posterior, advances gestation, and emits the
// frame's disk rows and notifications. For a visible object, coasted
// frames between the previous observation and the current one are
// backfilled without association info so the saved trajectory has no
// gaps; gestation frames are never written.
func (m ModelFramePosteriors) finishFrame(numObsToVisibility uint8) (ModelFrameDone, []braid.SaveToDiskMsg, []braid.Notification) {
	core := m.core
	var saves []braid.SaveToDiskMsg
	var notes []braid.Notification

	var mrd uint64
	if len(m.obs) > 0 {
		sum := 0.0
		for _, o := range m.obs {
			sum += o.ReprojDist
		}
		mrd = uint64(math.Round(sum / float64(len(m.obs)) * 100))
		if mrd == 0 {
			mrd = 1
		}
	}

	justBecameVisible := false
	if len(m.obs) > 0 && core.gestationAge != nil {
		if *core.gestationAge < math.MaxUint8 {
			*core.gestationAge++
		}
		if *core.gestationAge > numObsToVisibility {
			age := *core.gestationAge
			core.gestationAge = nil
			justBecameVisible = true
			tracef("obj %d visible after %d observations", core.objID, age)
		}
	}

	if len(m.obs) > 0 {
		if core.visible() {
			for i := core.lastObservationOffset + 1; i < len(core.posteriors); i++ {
				saves = append(saves, braid.SaveKalmanEstimate{Row: core.posteriors[i].Row(core.objID)})
			}
			assoc := make([]braid.DataAssocRow, len(m.obs))
			for i, o := range m.obs {
				assoc[i] = braid.DataAssocRow{
					ObjID:  core.objID,
					Frame:  m.posterior.Frame(),
					CamNum: o.CamNum,
					PtIdx:  o.PtIdx,
				}
			}
			saves = append(saves, braid.SaveKalmanEstimate{
				Row:                m.posterior.Row(core.objID),
				DataAssocRows:      assoc,
				MeanReprojDist100x: mrd,
			})
		}
		core.lastObservationOffset = len(core.posteriors)
	}

	if justBecameVisible {
		row := m.posterior.SendRow(core.objID)
		notes = append(notes, braid.Notification{Msg: braid.BirthMsg(row), TDPT: m.posterior.TDPT})
	} else if core.visible() {
		row := m.posterior.SendRow(core.objID)
		notes = append(notes, braid.Notification{Msg: braid.UpdateMsg(row), TDPT: m.posterior.TDPT})
	}

	core.posteriors = append(core.posteriors, m.posterior)
	return ModelFrameDone{core: core}, saves, notes
}
