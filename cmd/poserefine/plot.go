package main

import (
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// saveLossPlot draws one loss curve per refined frame.
func saveLossPlot(path string, losses [][]float64) error {
	p := plot.New()
	p.Title.Text = "Refinement loss"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Loss (penalty - reward)"

	for i, curve := range losses {
		if len(curve) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(curve))
		for it, loss := range curve {
			pts[it] = plotter.XY{X: float64(it), Y: loss}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		shade := uint8(255 * (i + 1) / len(losses))
		line.Color = color.RGBA{R: shade, B: 255 - shade, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		if len(losses) <= 8 {
			p.Legend.Add(fmt.Sprintf("frame %d", i), line)
		}
	}
	return errors.Wrap(p.Save(10*vg.Inch, 5*vg.Inch, path), "save loss plot")
}

// printHistogram writes a text histogram of values.
func printHistogram(w io.Writer, title string, values []float64) {
	if len(values) == 0 {
		fmt.Fprintf(w, "%s: no values\n", title)
		return
	}
	const bins, width = 10, 40
	hist := histogram.Hist(bins, values)
	maxCount := 1
	for _, bkt := range hist.Buckets {
		if bkt.Count > maxCount {
			maxCount = bkt.Count
		}
	}
	fmt.Fprintf(w, "%s (%d values)\n", title, len(values))
	if mean, median, p95, err := summarize(values); err == nil {
		fmt.Fprintf(w, "mean %.4f median %.4f p95 %.4f\n", mean, median, p95)
	}
	for _, bkt := range hist.Buckets {
		bar := strings.Repeat("#", bkt.Count*width/maxCount)
		fmt.Fprintf(w, "%8.4f-%8.4f %5d %s\n", bkt.Min, bkt.Max, bkt.Count, bar)
	}
}

func summarize(values []float64) (mean, median, p95 float64, err error) {
	if mean, err = stats.Mean(values); err != nil {
		return 0, 0, 0, err
	}
	if median, err = stats.Median(values); err != nil {
		return 0, 0, 0, err
	}
	if p95, err = stats.Percentile(values, 95); err != nil {
		return 0, 0, 0, err
	}
	return mean, median, p95, nil
}
