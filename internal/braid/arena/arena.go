// Package arena partitions the tracked volume into mini arenas so that
// independent groups of objects can be tracked as isolated sub-problems.
// Each undistorted detection is assigned to at most one arena; the
// assignment is precomputed per camera pixel by casting the pixel's ray
// to the z=0 plane.
package arena

import (
	"fmt"
	"math"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/geom"
)

// Index identifies one mini arena within a run.
type Index uint8

// NoArena marks detections that fall outside every arena. They are
// dropped from 3D tracking for that frame.
const NoArena Index = 255

// XYGrid divides the tracking volume into NX by NY rectangular cells on
// the z=0 plane. Cell (ix, iy) has index iy*NX+ix.
type XYGrid struct {
	XMin, XMax float64
	YMin, YMax float64
	NX, NY     int
}

// Validate checks the grid is well formed and fits the Index range.
func (g *XYGrid) Validate() error {
	if g.NX < 1 || g.NY < 1 {
		return fmt.Errorf("arena: grid counts %dx%d, want at least 1x1", g.NX, g.NY)
	}
	if g.NX*g.NY >= int(NoArena) {
		return fmt.Errorf("arena: grid has %d cells, at most %d supported", g.NX*g.NY, int(NoArena)-1)
	}
	if !(g.XMax > g.XMin) || !(g.YMax > g.YMin) {
		return fmt.Errorf("arena: grid ranges x=[%v,%v] y=[%v,%v] must be increasing",
			g.XMin, g.XMax, g.YMin, g.YMax)
	}
	return nil
}

// IndexOf returns the cell containing a world point, or NoArena when the
// point lies outside the grid.
func (g *XYGrid) IndexOf(pt geom.WorldPoint) Index {
	if math.IsNaN(pt.X) || math.IsNaN(pt.Y) {
		return NoArena
	}
	if pt.X < g.XMin || pt.X > g.XMax || pt.Y < g.YMin || pt.Y > g.YMax {
		return NoArena
	}
	ix := int((pt.X - g.XMin) / (g.XMax - g.XMin) * float64(g.NX))
	if ix == g.NX {
		ix--
	}
	iy := int((pt.Y - g.YMin) / (g.YMax - g.YMin) * float64(g.NY))
	if iy == g.NY {
		iy--
	}
	return Index(iy*g.NX + ix)
}

// Config selects the arena layout. The zero value tracks everything in
// one implicit arena.
type Config struct {
	Grid *XYGrid
}

// NArenas returns the number of arenas the configuration defines.
func (c Config) NArenas() int {
	if c.Grid == nil {
		return 1
	}
	return c.Grid.NX * c.Grid.NY
}

// CameraPoints is one camera's detections for one arena and frame, after
// lens correction.
type CameraPoints struct {
	Cam    string
	CamNum braid.CamNum
	Points []braid.UndistortedPoint
}

// Bundle is everything one mini arena sees in one synchronized frame.
// Cameras appear in input order and only when they contributed at least
// one point.
type Bundle struct {
	Arena   Index
	TDPT    braid.TimeDataPassthrough
	Cameras []CameraPoints
}

// Splitter undistorts per-camera detections and routes them to arenas.
type Splitter struct {
	cfg  Config
	cams *geom.CameraSystem

	// images holds one arena index per pixel per camera, row-major.
	// nil in single-arena mode.
	images map[string][]Index
}

// NewSplitter builds the splitter, precomputing per-camera arena-index
// images when a grid is configured.
func NewSplitter(cfg Config, cams *geom.CameraSystem) (*Splitter, error) {
	s := &Splitter{cfg: cfg, cams: cams}
	if cfg.Grid == nil {
		return s, nil
	}
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	s.images = make(map[string][]Index, cams.Len())
	for _, name := range cams.Names() {
		cam, _ := cams.CameraByName(name)
		w, h := cam.Width(), cam.Height()
		img := make([]Index, w*h)
		for py := 0; py < h; py++ {
			for px := 0; px < w; px++ {
				ray := cam.ProjectDistortedPixelToRay(geom.DistortedPixel{
					X: float64(px) + 0.5,
					Y: float64(py) + 0.5,
				})
				idx := NoArena
				if ground, ok := ray.IntersectZ0(); ok {
					idx = cfg.Grid.IndexOf(ground)
				}
				img[py*w+px] = idx
			}
		}
		s.images[name] = img
	}
	return s, nil
}

// NArenas returns the number of arenas the splitter routes to.
func (s *Splitter) NArenas() int { return s.cfg.NArenas() }

// indexOfPixel looks up the arena for a distorted pixel coordinate.
func (s *Splitter) indexOfPixel(cam string, x, y float64) Index {
	if s.images == nil {
		return 0
	}
	img, ok := s.images[cam]
	if !ok {
		return NoArena
	}
	c, _ := s.cams.CameraByName(cam)
	px, py := int(x), int(y)
	if px < 0 || px >= c.Width() || py < 0 || py >= c.Height() {
		return NoArena
	}
	return img[py*c.Width()+px]
}

// Split undistorts every detection in the frame and groups them by
// arena. The returned slice always has NArenas entries, in arena order;
// arenas nobody observed have empty camera lists.
func (s *Splitter) Split(frames []braid.FrameDataAndPoints, tdpt braid.TimeDataPassthrough) []Bundle {
	n := s.NArenas()
	bundles := make([]Bundle, n)
	for i := range bundles {
		bundles[i] = Bundle{Arena: Index(i), TDPT: tdpt}
	}
	for _, fdp := range frames {
		cam, ok := s.cams.CameraByName(fdp.FrameData.CamName)
		if !ok {
			// Not part of the calibration; its points cannot contribute
			// to 3D tracking.
			continue
		}
		perArena := make(map[Index][]braid.UndistortedPoint)
		for _, np := range fdp.Points {
			idx := s.indexOfPixel(fdp.FrameData.CamName, np.Point.X, np.Point.Y)
			if idx == NoArena {
				continue
			}
			und := cam.Undistort(geom.DistortedPixel{X: np.Point.X, Y: np.Point.Y})
			perArena[idx] = append(perArena[idx], braid.UndistortedPoint{
				X:    und.X,
				Y:    und.Y,
				Orig: np,
			})
		}
		for idx, pts := range perArena {
			bundles[idx].Cameras = append(bundles[idx].Cameras, CameraPoints{
				Cam:    fdp.FrameData.CamName,
				CamNum: fdp.FrameData.CamNum,
				Points: pts,
			})
		}
	}
	return bundles
}
