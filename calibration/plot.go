package calibration

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot draws rate over drive value for every calibrated table and saves the chart to path.
// The image format follows the extension of path, e.g. .png or .svg.
func Plot(tables [2]*Table, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Drive (us from center)"
	p.Y.Label.Text = "Rate (ticks/s)"
	p.Add(plotter.NewGrid())

	var lines []interface{}
	for _, side := range Sides {
		t := tables[side]
		if t == nil || !t.Calibrated() {
			continue
		}
		pts := make(plotter.XYs, t.Len())
		for i, e := range t.Entries {
			pts[i].X = float64(e.Drive)
			pts[i].Y = float64(e.Rate)
		}
		lines = append(lines, side.String(), pts)
	}
	if len(lines) == 0 {
		return errors.New("no calibrated table to plot")
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "plotting calibration")
	}
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, path), "saving plot to %s", path)
}
