package training

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// saveROCPlot renders the holdout ROC curve with the chance diagonal.
func saveROCPlot(path string, fpr, tpr []float64, auc float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Holdout ROC (AUC %.4f)", auc)
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, len(fpr))
	for i := range fpr {
		pts[i] = plotter.XY{X: fpr[i], Y: tpr[i]}
	}
	curve, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build roc line: %w", err)
	}
	curve.Width = vg.Points(1.5)
	curve.Color = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return fmt.Errorf("build diagonal: %w", err)
	}
	diag.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	diag.Color = color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff}

	p.Add(curve, diag)
	p.Legend.Add("model", curve)
	p.Legend.Add("chance", diag)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save roc plot: %w", err)
	}
	return nil
}
