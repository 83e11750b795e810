package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Camera is one calibrated camera: a 3x4 projection matrix mapping
// homogeneous world points to homogeneous undistorted pixels, plus a
// lens distortion model and the sensor resolution.
type Camera struct {
	name          string
	width, height int
	dist          DistortionModel

	// p is the projection matrix, cached as a flat array so the hot
	// projection path avoids interface dispatch.
	p    [3][4]float64
	pm   *mat.Dense
	mInv *mat.Dense
	cc   WorldPoint
}

// NewCamera builds a camera from a 3x4 projection matrix. The left 3x3
// block must be invertible.
func NewCamera(name string, p *mat.Dense, width, height int, dist DistortionModel) (*Camera, error) {
	r, c := p.Dims()
	if r != 3 || c != 4 {
		return nil, fmt.Errorf("geom: camera %q: projection matrix is %dx%d, want 3x4", name, r, c)
	}
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, p.At(i, j))
		}
	}
	var mInv mat.Dense
	if err := mInv.Inverse(m); err != nil {
		return nil, fmt.Errorf("geom: camera %q: singular projection matrix: %w", name, err)
	}
	p4 := mat.NewVecDense(3, []float64{-p.At(0, 3), -p.At(1, 3), -p.At(2, 3)})
	var cc mat.VecDense
	cc.MulVec(&mInv, p4)

	cam := &Camera{
		name:   name,
		width:  width,
		height: height,
		dist:   dist,
		pm:     mat.DenseCopyOf(p),
		mInv:   &mInv,
		cc:     WorldPoint{X: cc.AtVec(0), Y: cc.AtVec(1), Z: cc.AtVec(2)},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			cam.p[i][j] = p.At(i, j)
		}
	}
	return cam, nil
}

// NewPinholeCamera builds a camera from intrinsics carried by the
// distortion model (fc, cc, alpha_c), a world-to-camera rotation and the
// camera center in world coordinates. P = K [R | -R*C].
func NewPinholeCamera(name string, dist DistortionModel, width, height int, rot *mat.Dense, center WorldPoint) (*Camera, error) {
	rr, rc := rot.Dims()
	if rr != 3 || rc != 3 {
		return nil, fmt.Errorf("geom: camera %q: rotation is %dx%d, want 3x3", name, rr, rc)
	}
	k := mat.NewDense(3, 3, []float64{
		dist.Fc1, dist.AlphaC * dist.Fc1, dist.Cc1,
		0, dist.Fc2, dist.Cc2,
		0, 0, 1,
	})
	t := mat.NewVecDense(3, []float64{-center.X, -center.Y, -center.Z})
	var rt mat.VecDense
	rt.MulVec(rot, t)

	rext := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rext.Set(i, j, rot.At(i, j))
		}
		rext.Set(i, 3, rt.AtVec(i))
	}
	var p mat.Dense
	p.Mul(k, rext)
	return NewCamera(name, &p, width, height, dist)
}

// Name returns the camera identifier used in calibration files and 2D
// detection rows.
func (c *Camera) Name() string { return c.name }

// Width returns the sensor width in pixels.
func (c *Camera) Width() int { return c.width }

// Height returns the sensor height in pixels.
func (c *Camera) Height() int { return c.height }

// Distortion returns the camera's lens model.
func (c *Camera) Distortion() DistortionModel { return c.dist }

// CameraCenter returns the optical center in world coordinates.
func (c *Camera) CameraCenter() WorldPoint { return c.cc }

// ProjectionMatrix returns a copy of the 3x4 projection matrix.
func (c *Camera) ProjectionMatrix() *mat.Dense { return mat.DenseCopyOf(c.pm) }

// Project3DToPixel projects a world point to an undistorted pixel.
func (c *Camera) Project3DToPixel(pt WorldPoint) UndistortedPixel {
	u := c.p[0][0]*pt.X + c.p[0][1]*pt.Y + c.p[0][2]*pt.Z + c.p[0][3]
	v := c.p[1][0]*pt.X + c.p[1][1]*pt.Y + c.p[1][2]*pt.Z + c.p[1][3]
	w := c.p[2][0]*pt.X + c.p[2][1]*pt.Y + c.p[2][2]*pt.Z + c.p[2][3]
	return UndistortedPixel{X: u / w, Y: v / w}
}

// Project3DToDistortedPixel projects a world point to the pixel the
// sensor would observe.
func (c *Camera) Project3DToDistortedPixel(pt WorldPoint) DistortedPixel {
	return c.dist.Distort(c.Project3DToPixel(pt))
}

// Undistort removes lens distortion from an observed pixel.
func (c *Camera) Undistort(p DistortedPixel) UndistortedPixel {
	return c.dist.Undistort(p)
}

// Distort applies lens distortion to an ideal pixel.
func (c *Camera) Distort(p UndistortedPixel) DistortedPixel {
	return c.dist.Distort(p)
}

// LinearizeNumericallyAt returns the 2x3 forward-difference Jacobian of
// the undistorted projection with respect to world position, evaluated
// at center with step delta.
func (c *Camera) LinearizeNumericallyAt(center WorldPoint, delta float64) *mat.Dense {
	f := c.Project3DToPixel(center)
	fx := c.Project3DToPixel(WorldPoint{X: center.X + delta, Y: center.Y, Z: center.Z})
	fy := c.Project3DToPixel(WorldPoint{X: center.X, Y: center.Y + delta, Z: center.Z})
	fz := c.Project3DToPixel(WorldPoint{X: center.X, Y: center.Y, Z: center.Z + delta})
	return mat.NewDense(2, 3, []float64{
		(fx.X - f.X) / delta, (fy.X - f.X) / delta, (fz.X - f.X) / delta,
		(fx.Y - f.Y) / delta, (fy.Y - f.Y) / delta, (fz.Y - f.Y) / delta,
	})
}

// ProjectPixelToRay returns the world ray through an undistorted pixel.
// The direction is unit length and points away from the camera into the
// scene.
func (c *Camera) ProjectPixelToRay(p UndistortedPixel) Ray {
	uv := mat.NewVecDense(3, []float64{p.X, p.Y, 1})
	var d mat.VecDense
	d.MulVec(c.mInv, uv)
	n := math.Sqrt(d.AtVec(0)*d.AtVec(0) + d.AtVec(1)*d.AtVec(1) + d.AtVec(2)*d.AtVec(2))
	return Ray{
		Origin: c.cc,
		Dir:    WorldPoint{X: d.AtVec(0) / n, Y: d.AtVec(1) / n, Z: d.AtVec(2) / n},
	}
}

// ProjectDistortedPixelToRay undistorts an observed pixel and returns
// the world ray through it.
func (c *Camera) ProjectDistortedPixelToRay(p DistortedPixel) Ray {
	return c.ProjectPixelToRay(c.dist.Undistort(p))
}
