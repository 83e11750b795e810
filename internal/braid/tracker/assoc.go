package tracker

import (
	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
)

// argmaxUnique returns the index of the strict maximum of row. ok is
// false for an empty row or when the maximum is shared.
func argmaxUnique(row []float64) (int, bool) {
	best := -1
	tie := false
	for i, v := range row {
		switch {
		case best < 0 || v > row[best]:
			best = i
			tie = false
		case v == row[best]:
			tie = true
		}
	}
	return best, best >= 0 && !tie
}

// solveAssociations assigns points to models camera by camera. Within a
// camera each model, in collection order, claims the point it finds
// uniquely most likely, provided the likelihood clears minLikelihood; a
// claimed point is withdrawn from every other model. Accepted points
// are folded into each model's estimate as sequential Kalman updates.
// The second result lists, per bundle camera, the points no model
// claimed.
func solveAssociations(models []ModelFrameWithObservationLikes, bundleCams []arena.CameraPoints, minLikelihood float64) ([]ModelFramePosteriors, [][]braid.UndistortedPoint) {
	ests := make([]StampedEstimate, len(models))
	obs := make([][]DataAssocInfo, len(models))
	for i := range models {
		ests[i] = models[i].prior
	}

	unused := make([][]braid.UndistortedPoint, len(bundleCams))
	for camIdx, cp := range bundleCams {
		nPts := len(cp.Points)
		if nPts == 0 {
			continue
		}
		claimed := make([]bool, nPts)

		if len(models) > 0 {
			wantedness := make([][]float64, len(models))
			for i := range models {
				row := make([]float64, nPts)
				copy(row, models[i].likes[camIdx])
				wantedness[i] = row
			}
			for i := range models {
				j, ok := argmaxUnique(wantedness[i])
				if !ok || !(wantedness[i][j] > minLikelihood) {
					continue
				}
				om := models[i].byCamera[camIdx]
				if om == nil {
					continue
				}
				pt := cp.Points[j]
				var dist float64
				ests[i], dist = om.update(ests[i], pt)
				obs[i] = append(obs[i], DataAssocInfo{
					PtIdx:      pt.Orig.Idx,
					CamNum:     cp.CamNum,
					ReprojDist: dist,
				})
				claimed[j] = true
				for r := range wantedness {
					wantedness[r][j] = 0
				}
				tracef("frame %v: obj %d accepted %s pt %d, reproj %.2f px",
					ests[i].Frame(), models[i].core.objID, cp.Cam, pt.Orig.Idx, dist)
			}
		}

		for j, pt := range cp.Points {
			if !claimed[j] {
				unused[camIdx] = append(unused[camIdx], pt)
			}
		}
	}

	out := make([]ModelFramePosteriors, len(models))
	for i := range models {
		out[i] = ModelFramePosteriors{core: models[i].core, posterior: ests[i], obs: obs[i]}
	}
	return out, unused
}
