// Package tracker maintains the bank of Kalman filter models tracking
// the objects within one arena. A collection steps through four phases
// per synchronized frame: motion prediction, observation likelihood
// computation, data association with filter updates, and finally object
// births and deaths. Each phase consumes the previous one so a frame
// cannot be partially applied.
package tracker

import (
	"errors"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
	"github.com/braid-data/braid/internal/braid/geom"
)

// ObjIDCounter issues object identifiers unique across every arena of a
// run. The zero value is ready to use; the first identifier is 1.
type ObjIDCounter struct {
	n atomic.Uint32
}

// Next returns a fresh object identifier.
func (c *ObjIDCounter) Next() uint32 { return c.n.Add(1) }

// Config assembles everything a model collection needs.
type Config struct {
	// Params are the tracking parameters. A nil Params.HypothesisTest
	// selects flat (z=0) tracking.
	Params braid.TrackingParams
	// Cams is the calibrated camera system.
	Cams *geom.CameraSystem
	// DT is the inter-frame interval in seconds.
	DT float64
	// ObjIDs issues object identifiers, shared across arenas.
	ObjIDs *ObjIDCounter
	// Arena identifies which arena this collection tracks.
	Arena arena.Index
}

// collectionContext is the immutable part of a collection, shared by
// every phase value derived from it.
type collectionContext struct {
	params braid.TrackingParams
	cams   *geom.CameraSystem
	motion *MotionModel
	birth  HypothesisTest
	objIDs *ObjIDCounter
	arena  arena.Index

	// maxCovSize is the squared MaxPositionStdMeters bound compared
	// against StampedEstimate.CovarianceSize.
	maxCovSize float64
	// minZScore filters birth candidate points; non-positive admits all.
	minZScore float64
}

// NewCollection builds an empty model collection for one arena.
func NewCollection(cfg Config) (CollectionDone, error) {
	if err := cfg.Params.Validate(); err != nil {
		return CollectionDone{}, err
	}
	if cfg.Cams == nil {
		return CollectionDone{}, errors.New("tracker: camera system required")
	}
	if cfg.DT <= 0 {
		return CollectionDone{}, errors.New("tracker: frame interval must be positive")
	}
	if cfg.ObjIDs == nil {
		return CollectionDone{}, errors.New("tracker: object id counter required")
	}

	flat := cfg.Params.HypothesisTest == nil
	ctx := &collectionContext{
		params:     cfg.Params,
		cams:       cfg.Cams,
		motion:     NewMotionModel(cfg.DT, cfg.Params.MotionNoiseScale, flat),
		objIDs:     cfg.ObjIDs,
		arena:      cfg.Arena,
		maxCovSize: cfg.Params.MaxPositionStdMeters * cfg.Params.MaxPositionStdMeters,
	}
	if flat {
		ctx.birth = NewFlatHypothesisTest(cfg.Cams)
	} else {
		ctx.birth = NewFullHypothesisTest(cfg.Cams, *cfg.Params.HypothesisTest)
		ctx.minZScore = cfg.Params.HypothesisTest.MinimumPixelAbsZScore
	}
	return CollectionDone{ctx: ctx}, nil
}

// FrameOutput is everything one tracked frame produced for the archive
// writer and the live listeners.
type FrameOutput struct {
	Saves         []braid.SaveToDiskMsg
	Notifications []braid.Notification
}

// CollectionDone is a collection between frames.
type CollectionDone struct {
	ctx    *collectionContext
	models []ModelFrameDone
}

// Arena identifies which arena this collection tracks.
func (c CollectionDone) Arena() arena.Index { return c.ctx.arena }

// NumModels returns the number of live models, gestating included.
func (c CollectionDone) NumModels() int { return len(c.models) }

// Models returns the live models. The slice is shared; treat it as
// read-only.
func (c CollectionDone) Models() []ModelFrameDone { return c.models }

// PredictMotion advances every model to the given frame.
func (c CollectionDone) PredictMotion(tdpt braid.TimeDataPassthrough) CollectionStarted {
	models := make([]ModelFrameStarted, len(c.models))
	for i, m := range c.models {
		models[i] = m.predict(c.ctx.motion, tdpt)
	}
	return CollectionStarted{ctx: c.ctx, tdpt: tdpt, models: models}
}

// CollectionStarted is a collection whose models have been advanced to
// the current frame but have not yet seen its observations.
type CollectionStarted struct {
	ctx    *collectionContext
	tdpt   braid.TimeDataPassthrough
	models []ModelFrameStarted
}

// ComputeObservationLikes evaluates, for every model and bundle camera,
// the likelihood of each candidate point under the model's prior.
func (c CollectionStarted) ComputeObservationLikes(bundle arena.Bundle) CollectionWithObservationLikes {
	models := make([]ModelFrameWithObservationLikes, len(c.models))
	for i, m := range c.models {
		models[i] = m.computeObservationLikes(c.ctx.cams, bundle.Cameras, c.ctx.params.EKFObservationCovariancePixels)
	}
	return CollectionWithObservationLikes{ctx: c.ctx, bundle: bundle, models: models}
}

// CollectionWithObservationLikes is a collection ready for data
// association.
type CollectionWithObservationLikes struct {
	ctx    *collectionContext
	bundle arena.Bundle
	models []ModelFrameWithObservationLikes
}

// SolveDataAssociationAndUpdate greedily assigns points to models and
// applies the accepted observations. The second result lists, per
// bundle camera, the points no model claimed; these seed the new-object
// test.
func (c CollectionWithObservationLikes) SolveDataAssociationAndUpdate() (CollectionPosteriors, [][]braid.UndistortedPoint) {
	models, unused := solveAssociations(c.models, c.bundle.Cameras, c.ctx.params.AcceptObservationMinLikelihood)
	return CollectionPosteriors{ctx: c.ctx, bundle: c.bundle, models: models}, unused
}

// CollectionPosteriors is a collection whose per-frame posteriors are
// computed but whose object lifecycle bookkeeping is still pending.
type CollectionPosteriors struct {
	ctx    *collectionContext
	bundle arena.Bundle
	models []ModelFramePosteriors
}

// BirthsAndDeaths kills models whose position uncertainty exceeds the
// configured bound, offers the unclaimed points to the new-object test,
// and finishes the frame for every surviving model. Death notifications
// lead the frame's output so listeners never see an update for an
// object already reported dead.
func (c CollectionPosteriors) BirthsAndDeaths(unused [][]braid.UndistortedPoint) (CollectionDone, FrameOutput) {
	var out FrameOutput

	survivors := make([]ModelFramePosteriors, 0, len(c.models)+1)
	for _, m := range c.models {
		if m.posterior.CovarianceSize() > c.ctx.maxCovSize {
			diagf("arena %d: obj %d killed at frame %v, covariance size %.3g",
				c.ctx.arena, m.core.objID, m.posterior.Frame(), m.posterior.CovarianceSize())
			if m.core.visible() {
				id := m.core.objID
				out.Notifications = append(out.Notifications, braid.Notification{
					Msg:  braid.DeathMsg(id),
					TDPT: m.posterior.TDPT,
				})
			}
			continue
		}
		survivors = append(survivors, m)
	}

	candidates := collectBirthCandidates(c.bundle.Cameras, unused, c.ctx.minZScore)
	if len(candidates) > 0 {
		if birth := c.ctx.birth.Test(candidates); birth != nil {
			survivors = append(survivors, c.newborn(birth, candidates))
		}
	}

	done := make([]ModelFrameDone, len(survivors))
	for i, m := range survivors {
		d, saves, notes := m.finishFrame(c.ctx.params.NumObservationsToVisibility)
		done[i] = d
		out.Saves = append(out.Saves, saves...)
		out.Notifications = append(out.Notifications, notes...)
	}
	return CollectionDone{ctx: c.ctx, models: done}, out
}

func (c CollectionPosteriors) newborn(birth *BirthResult, candidates []BirthCandidate) ModelFramePosteriors {
	ctx := c.ctx
	objID := ctx.objIDs.Next()

	state := mat.NewVecDense(stateDim, []float64{birth.Coords.X, birth.Coords.Y, birth.Coords.Z, 0, 0, 0})
	ips := ctx.params.InitialPositionStdMeters
	ivs := ctx.params.InitialVelStdMetersPerSec
	p := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < 3; i++ {
		p.Set(i, i, ips*ips)
		p.Set(i+3, i+3, ivs*ivs)
	}
	est := StampedEstimate{TDPT: c.bundle.TDPT, State: state, P: p}

	byCam := make(map[string]BirthCandidate, len(candidates))
	for _, cand := range candidates {
		byCam[cand.Cam] = cand
	}
	obs := make([]DataAssocInfo, 0, len(birth.Cams))
	for _, cd := range birth.Cams {
		cand, ok := byCam[cd.Cam]
		if !ok {
			continue
		}
		// Birth rows always reference point index 0, whatever slot the
		// detection occupied in its camera's list.
		obs = append(obs, DataAssocInfo{
			PtIdx:      0,
			CamNum:     cand.CamNum,
			ReprojDist: cd.ReprojDist,
		})
	}

	opsf("arena %d: obj %d born at frame %v, pos (%.3f, %.3f, %.3f), %d cameras",
		ctx.arena, objID, c.bundle.TDPT.Frame, birth.Coords.X, birth.Coords.Y, birth.Coords.Z, len(obs))
	return newbornModel(objID, est, obs)
}

// collectBirthCandidates picks, for each camera, the first unclaimed
// point of sufficient detection quality. A non-positive threshold
// admits every point.
func collectBirthCandidates(bundleCams []arena.CameraPoints, unused [][]braid.UndistortedPoint, minZScore float64) []BirthCandidate {
	var cands []BirthCandidate
	for i, cp := range bundleCams {
		if i >= len(unused) {
			break
		}
		for _, pt := range unused[i] {
			if minZScore > 0 && !(pt.Orig.Point.AbsZScore() >= minZScore) {
				continue
			}
			cands = append(cands, BirthCandidate{Cam: cp.Cam, CamNum: cp.CamNum, Point: pt})
			break
		}
	}
	return cands
}
