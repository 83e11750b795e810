package tracker

import (
	"errors"
	"math"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/geom"
)

// maxHypothesisTestCameras caps the camera combination size tried by
// the full 3D new-object test. The subset count grows combinatorially
// and combinations past three cameras rarely change the verdict.
const maxHypothesisTestCameras = 3

// flatMaxAcceptableErrorPixels bounds the mean reprojection distance
// accepted by the flat (z=0) new-object test.
const flatMaxAcceptableErrorPixels = 10.0

// BirthCandidate is one unclaimed point offered to the new-object test.
type BirthCandidate struct {
	Cam    string
	CamNum braid.CamNum
	Point  braid.UndistortedPoint
}

// BirthResult is an accepted position for a new object together with
// the cameras whose points supported it.
type BirthResult struct {
	Coords geom.WorldPoint
	Cams   []geom.CamAndDist
}

// HypothesisTest decides whether a frame's unclaimed points support the
// birth of a new tracked object. Test returns nil when they do not.
type HypothesisTest interface {
	Test(candidates []BirthCandidate) *BirthResult
}

// FullHypothesisTest triangulates camera combinations of increasing
// size and accepts the best-supported combination whose mean
// reprojection distance stays acceptable. Camera subsets are
// precomputed once from the full system.
type FullHypothesisTest struct {
	cams   *geom.CameraSystem
	params braid.HypothesisTestParams
	// combos[k] holds the size-k camera name combinations.
	combos [][][]string
}

// NewFullHypothesisTest precomputes the camera combinations used by the
// 3D new-object test.
func NewFullHypothesisTest(cams *geom.CameraSystem, params braid.HypothesisTestParams) *FullHypothesisTest {
	maxSize := cams.Len()
	if maxSize > maxHypothesisTestCameras {
		maxSize = maxHypothesisTestCameras
	}
	combos := make([][][]string, maxSize+1)
	for _, set := range braid.SetOfSubsets(cams.Names()) {
		n := len(set)
		if n < 2 || n > maxSize {
			continue
		}
		combos[n] = append(combos[n], set)
	}
	return &FullHypothesisTest{cams: cams, params: params, combos: combos}
}

// Test triangulates every fully populated camera combination, smallest
// sizes first, keeping the lowest cumulative reprojection distance per
// size. Once a size's best exceeds the acceptable error, larger
// combinations cannot help and the search stops; otherwise a larger
// acceptable combination supersedes a smaller one.
func (t *FullHypothesisTest) Test(candidates []BirthCandidate) *BirthResult {
	if len(candidates) < int(t.params.MinimumNumberOfCameras) {
		return nil
	}
	byCam := make(map[string]BirthCandidate, len(candidates))
	for _, c := range candidates {
		byCam[c.Cam] = c
	}

	var best *geom.TriangulationResult
	for size := int(t.params.MinimumNumberOfCameras); size < len(t.combos); size++ {
		var bestOfSize *geom.TriangulationResult
		for _, combo := range t.combos[size] {
			obs := make([]geom.DistortedObservation, 0, len(combo))
			for _, name := range combo {
				c, ok := byCam[name]
				if !ok {
					obs = nil
					break
				}
				obs = append(obs, geom.DistortedObservation{
					Cam:   name,
					Pixel: geom.DistortedPixel{X: c.Point.Orig.Point.X, Y: c.Point.Orig.Point.Y},
				})
			}
			if obs == nil {
				continue
			}
			res, err := t.cams.Find3DDistorted(obs)
			if err != nil {
				if errors.Is(err, geom.ErrSVDFailed) {
					diagf("new-object test: %v", err)
					continue
				}
				opsf("new-object test aborted: %v", err)
				return nil
			}
			if bestOfSize == nil || res.CumReprojDist < bestOfSize.CumReprojDist {
				r := res
				bestOfSize = &r
			}
		}
		if bestOfSize == nil {
			continue
		}
		if bestOfSize.MeanReprojDist > t.params.MaxAcceptableErrorPixels {
			break
		}
		best = bestOfSize
	}
	if best == nil {
		return nil
	}
	return &BirthResult{Coords: best.Point, Cams: best.PerCam}
}

// FlatHypothesisTest births objects on the z=0 plane by casting each
// candidate's pixel ray onto the plane and averaging the hits. A single
// camera suffices because the plane constraint replaces triangulation.
type FlatHypothesisTest struct {
	cams *geom.CameraSystem
}

// NewFlatHypothesisTest returns the z=0 plane new-object test.
func NewFlatHypothesisTest(cams *geom.CameraSystem) *FlatHypothesisTest {
	return &FlatHypothesisTest{cams: cams}
}

// Test intersects each candidate's viewing ray with z=0, averages the
// intersections, and accepts when the mean reprojection distance of the
// averaged point stays within bounds.
func (t *FlatHypothesisTest) Test(candidates []BirthCandidate) *BirthResult {
	var used []BirthCandidate
	var sx, sy float64
	for _, c := range candidates {
		cam, ok := t.cams.CameraByName(c.Cam)
		if !ok {
			continue
		}
		ray := cam.ProjectDistortedPixelToRay(geom.DistortedPixel{
			X: c.Point.Orig.Point.X,
			Y: c.Point.Orig.Point.Y,
		})
		pt, ok := ray.IntersectZ0()
		if !ok {
			continue
		}
		// The intersection must lie in front of the camera.
		dot := (pt.X-ray.Origin.X)*ray.Dir.X + (pt.Y-ray.Origin.Y)*ray.Dir.Y + (pt.Z-ray.Origin.Z)*ray.Dir.Z
		if dot <= 0 {
			continue
		}
		sx += pt.X
		sy += pt.Y
		used = append(used, c)
	}
	if len(used) == 0 {
		return nil
	}
	n := float64(len(used))
	coords := geom.WorldPoint{X: sx / n, Y: sy / n}

	perCam := make([]geom.CamAndDist, len(used))
	var cum float64
	for i, c := range used {
		cam, _ := t.cams.CameraByName(c.Cam)
		proj := cam.Project3DToPixel(coords)
		d := math.Hypot(c.Point.X-proj.X, c.Point.Y-proj.Y)
		perCam[i] = geom.CamAndDist{Cam: c.Cam, ReprojDist: d}
		cum += d
	}
	if cum/n > flatMaxAcceptableErrorPixels {
		return nil
	}
	return &BirthResult{Coords: coords, Cams: perCam}
}
