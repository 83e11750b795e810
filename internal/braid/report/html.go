package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders the archive overview page: a bar chart of
// per-trajectory durations and a histogram of mean reprojection
// distances.
func WriteHTML(s *Summary, path string) error {
	title := fmt.Sprintf("braid report: %s", filepath.Base(s.ArchivePath))
	page := components.NewPage()
	page.AddCharts(durationChart(s, title), reprojHistogram(s, title))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	return nil
}

func durationChart(s *Summary, pageTitle string) *charts.Bar {
	labels := make([]string, 0, len(s.Trajectories))
	frames := make([]opts.BarData, 0, len(s.Trajectories))
	for _, tr := range s.Trajectories {
		labels = append(labels, fmt.Sprintf("obj %d", tr.ObjID))
		frames = append(frames, opts.BarData{Value: tr.Frames()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Trajectory durations",
			Subtitle: fmt.Sprintf("%d trajectories, %d raw detections", len(s.Trajectories), s.Data2dRows),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "frames"}),
	)
	bar.SetXAxis(labels).AddSeries("frames", frames,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

// reprojHistogramBins is the fixed bin count of the reprojection
// quality histogram.
const reprojHistogramBins = 20

func reprojHistogram(s *Summary, pageTitle string) *charts.Bar {
	var dists []float64
	for _, tr := range s.Trajectories {
		for _, p := range tr.Points {
			dists = append(dists, p.ReprojDist)
		}
	}
	maxDist := 1.0
	for _, d := range dists {
		if d > maxDist {
			maxDist = d
		}
	}
	width := maxDist / reprojHistogramBins
	counts := make([]int, reprojHistogramBins)
	for _, d := range dists {
		bin := int(d / width)
		if bin >= reprojHistogramBins {
			bin = reprojHistogramBins - 1
		}
		counts[bin]++
	}

	labels := make([]string, reprojHistogramBins)
	data := make([]opts.BarData, reprojHistogramBins)
	for i := range counts {
		labels[i] = fmt.Sprintf("%.2f", float64(i)*width+width/2)
		data[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mean reprojection distance",
			Subtitle: fmt.Sprintf("%d estimates, mean %.2f px", len(dists), mean(dists)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "pixels"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "estimates"}),
	)
	bar.SetXAxis(labels).AddSeries("estimates", data)
	return bar
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
