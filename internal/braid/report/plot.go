package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// WriteTrajectoryPlot draws every trajectory top-down (X against Y)
// into one image. The extension picks the format; .svg and .png both
// work.
func WriteTrajectoryPlot(s *Summary, path string) error {
	p := plot.New()
	p.Title.Text = "Trajectories (top-down)"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	for i, tr := range s.Trajectories {
		pts := make(plotter.XYs, 0, len(tr.Points))
		for _, tp := range tr.Points {
			pts = append(pts, plotter.XY{X: tp.X, Y: tp.Y})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("report: line for obj %d: %w", tr.ObjID, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("obj %d", tr.ObjID), line)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}
