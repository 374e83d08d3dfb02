package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alignment-data/runmatch/internal/boost"
	"github.com/alignment-data/runmatch/internal/monitoring"
)

// Artifact file names inside the artifacts directory. The model,
// metrics, and importance files are each independently loadable.
const (
	ModelFile      = "similarity_model.json"
	MetricsFile    = "training_metrics.json"
	ImportanceFile = "feature_importance.json"
	ROCCurveFile   = "roc_curve.png"
	ReportFile     = "training_report.html"
)

// Artifact is the output of one training run. It is written once and
// never mutated; a later run supersedes it with a fresh directory.
type Artifact struct {
	Model       *boost.Ensemble
	Metrics     Metrics
	Importances []boost.Importance

	// Holdout ROC points, kept for rendering only. Absent after a
	// Load, in which case Save skips the curve.
	rocFPR, rocTPR []float64
}

// Save writes the artifact files into dir, creating it if needed.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	modelPath := filepath.Join(dir, ModelFile)
	if err := a.Model.SaveFile(modelPath); err != nil {
		return err
	}
	monitoring.Logf("[train] model -> %s", modelPath)

	if err := writeJSON(filepath.Join(dir, MetricsFile), a.Metrics); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ImportanceFile), a.Importances); err != nil {
		return err
	}

	if len(a.rocFPR) > 0 {
		if err := saveROCPlot(filepath.Join(dir, ROCCurveFile), a.rocFPR, a.rocTPR, a.Metrics.HoldoutAUC); err != nil {
			return err
		}
	}
	if err := writeReport(filepath.Join(dir, ReportFile), a); err != nil {
		return err
	}
	monitoring.Logf("[train] artifacts written to %s", dir)
	return nil
}

// Load reads the model, metrics, and importance files from dir.
func Load(dir string) (*Artifact, error) {
	model, err := boost.LoadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, err
	}

	a := &Artifact{Model: model}
	if err := readJSON(filepath.Join(dir, MetricsFile), &a.Metrics); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ImportanceFile), &a.Importances); err != nil {
		return nil, err
	}
	return a, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
