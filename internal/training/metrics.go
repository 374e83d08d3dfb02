package training

import (
	"time"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/alignment-data/runmatch/internal/boost"
)

// EvalThresholds are the fixed probability cutoffs reported in the
// metrics record.
var EvalThresholds = []float64{0.3, 0.5, 0.7, 0.8, 0.9}

// ThresholdPoint is precision/recall at one probability cutoff.
type ThresholdPoint struct {
	Threshold float64 `json:"threshold"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// ConfusionMatrix counts holdout outcomes at the 0.5 cutoff.
type ConfusionMatrix struct {
	TruePos  int `json:"tp"`
	FalsePos int `json:"fp"`
	FalseNeg int `json:"fn"`
	TrueNeg  int `json:"tn"`
}

// Total is the number of samples the matrix was computed over.
func (c ConfusionMatrix) Total() int {
	return c.TruePos + c.FalsePos + c.FalseNeg + c.TrueNeg
}

// Metrics is the full training metrics record persisted with the model.
type Metrics struct {
	TrainedAt       time.Time        `json:"trained_at"`
	DatasetBuildID  string           `json:"dataset_build_id"`
	NumSamples      int              `json:"n_samples"`
	NumPositives    int              `json:"n_positives"`
	NumNegatives    int              `json:"n_negatives"`
	NumFeatures     int              `json:"n_features"`
	FeatureNames    []string         `json:"feature_names"`
	CVFolds         int              `json:"cv_folds"`
	CVAUCs          []float64        `json:"cv_aucs"`
	CVAUCMean       float64          `json:"cv_auc_mean"`
	CVAUCStd        float64          `json:"cv_auc_std"`
	HoldoutAUC      float64          `json:"holdout_auc"`
	Thresholds      []ThresholdPoint `json:"thresholds"`
	Confusion       ConfusionMatrix  `json:"confusion_matrix"`
	Hyperparameters boost.Params     `json:"hyperparameters"`
}

// ROCAUC computes the area under the ROC curve for predicted
// probabilities against binary labels.
func ROCAUC(scores []float64, labels []int) float64 {
	_, _, auc := rocCurve(scores, labels)
	return auc
}

// rocCurve returns the ROC curve points and its area. The inputs are
// copied; callers keep their ordering.
func rocCurve(scores []float64, labels []int) (fpr, tpr []float64, auc float64) {
	y := append([]float64(nil), scores...)
	classes := make([]bool, len(labels))
	for i, l := range labels {
		classes[i] = l == 1
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tprs, fprs, _ := stat.ROC(nil, y, classes, nil)
	return fprs, tprs, integrate.Trapezoidal(fprs, tprs)
}

// thresholdTable computes precision and recall at the fixed cutoffs.
// Empty prediction sets score 0 rather than dividing by zero.
func thresholdTable(scores []float64, labels []int) []ThresholdPoint {
	table := make([]ThresholdPoint, 0, len(EvalThresholds))
	for _, t := range EvalThresholds {
		var tp, fp, fn int
		for i, s := range scores {
			pred := s >= t
			switch {
			case pred && labels[i] == 1:
				tp++
			case pred && labels[i] == 0:
				fp++
			case !pred && labels[i] == 1:
				fn++
			}
		}
		point := ThresholdPoint{Threshold: t}
		if tp+fp > 0 {
			point.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			point.Recall = float64(tp) / float64(tp+fn)
		}
		table = append(table, point)
	}
	return table
}

// confusionAt computes the confusion matrix at one cutoff.
func confusionAt(scores []float64, labels []int, cutoff float64) ConfusionMatrix {
	var cm ConfusionMatrix
	for i, s := range scores {
		pred := s >= cutoff
		switch {
		case pred && labels[i] == 1:
			cm.TruePos++
		case pred && labels[i] == 0:
			cm.FalsePos++
		case !pred && labels[i] == 1:
			cm.FalseNeg++
		default:
			cm.TrueNeg++
		}
	}
	return cm
}

// meanStd summarizes the per-fold AUCs. StdDev is gonum's sample
// estimate; a single fold reports 0.
func meanStd(vals []float64) (mean, std float64) {
	mean = stat.Mean(vals, nil)
	if len(vals) > 1 {
		std = stat.StdDev(vals, nil)
	}
	return mean, std
}
