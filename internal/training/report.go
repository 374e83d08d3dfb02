package training

import (
	"fmt"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// writeReport renders an HTML training report: a ranked
// feature-importance bar chart and a per-fold AUC bar chart.
func writeReport(path string, a *Artifact) error {
	m := a.Metrics

	names := make([]string, len(a.Importances))
	scores := make([]opts.BarData, len(a.Importances))
	for i, imp := range a.Importances {
		names[i] = imp.Feature
		scores[i] = opts.BarData{Value: imp.Score}
	}

	importance := charts.NewBar()
	importance.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Feature importance (normalized gain)",
			Subtitle: fmt.Sprintf("trained %s on %d samples", m.TrainedAt.Format(time.RFC3339), m.NumSamples),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	importance.SetXAxis(names).
		AddSeries("importance", scores,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	foldNames := make([]string, len(m.CVAUCs))
	foldAUCs := make([]opts.BarData, len(m.CVAUCs))
	for i, auc := range m.CVAUCs {
		foldNames[i] = fmt.Sprintf("fold %d", i+1)
		foldAUCs[i] = opts.BarData{Value: auc}
	}

	cv := charts.NewBar()
	cv.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Cross-validation AUC %.4f +/- %.4f, holdout %.4f",
				m.CVAUCMean, m.CVAUCStd, m.HoldoutAUC),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	cv.SetXAxis(foldNames).AddSeries("auc", foldAUCs)

	page := components.NewPage()
	page.AddCharts(importance, cv)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create training report: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render training report: %w", err)
	}
	return nil
}
