// Package training fits the pair-similarity classifier on a mined
// dataset and evaluates it: stratified cross-validation on the training
// split, a final fit, and a holdout evaluation. The output is an
// immutable model artifact directory; a later training run supersedes
// it by writing a new one.
package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/alignment-data/runmatch/internal/boost"
	"github.com/alignment-data/runmatch/internal/dataset"
	"github.com/alignment-data/runmatch/internal/monitoring"
)

var (
	// ErrSingleClass means the dataset's labels are all one class, so
	// neither a stratified split nor an AUC is defined. Training
	// refuses rather than reporting degenerate metrics.
	ErrSingleClass = errors.New("training: dataset contains a single class")

	// ErrTooFewSamples means a class has fewer members than the
	// requested fold count.
	ErrTooFewSamples = errors.New("training: minority class smaller than fold count")
)

// Config controls evaluation, not the classifier itself.
type Config struct {
	// Folds is the stratified cross-validation fold count.
	Folds int

	// HoldoutFraction is the share of samples held out from both CV
	// and the final fit.
	HoldoutFraction float64

	// Seed drives the holdout split and fold assignment.
	Seed int64
}

// DefaultConfig returns the standard evaluation setup.
func DefaultConfig() Config {
	return Config{Folds: 5, HoldoutFraction: 0.2, Seed: 42}
}

// Train runs the full harness on a dataset and returns the artifact:
// model, metrics record, and ranked feature importances.
func Train(d *dataset.Dataset, hp boost.Params, cfg Config) (*Artifact, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	nPos, nNeg := 0, 0
	for _, y := range d.Y {
		if y == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return nil, fmt.Errorf("%w: %d positives, %d negatives", ErrSingleClass, nPos, nNeg)
	}

	// Fold the class imbalance into the positive-class weight.
	hp.ScalePosWeight = float64(nNeg) / float64(nPos)
	monitoring.Logf("[train] class balance: %d positive, %d negative (scale_pos_weight %.2f)",
		nPos, nNeg, hp.ScalePosWeight)

	rng := rand.New(rand.NewSource(cfg.Seed))
	trainIdx, holdIdx := stratifiedSplit(d.Y, cfg.HoldoutFraction, rng)
	monitoring.Logf("[train] split: %d train, %d holdout", len(trainIdx), len(holdIdx))

	folds, err := stratifiedFolds(d.Y, trainIdx, cfg.Folds, rng)
	if err != nil {
		return nil, err
	}

	// Cross-validation on the training split only; the holdout stays
	// untouched until the end.
	cvAUCs := make([]float64, 0, cfg.Folds)
	for f, valIdx := range folds {
		fitIdx := difference(trainIdx, valIdx)
		model, err := fit(d, fitIdx, hp)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f+1, err)
		}
		scores, labels, err := predictAll(model, d, valIdx)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f+1, err)
		}
		auc := ROCAUC(scores, labels)
		cvAUCs = append(cvAUCs, auc)
		monitoring.Logf("[train] fold %d: AUC %.4f", f+1, auc)
	}
	cvMean, cvStd := meanStd(cvAUCs)
	monitoring.Logf("[train] CV AUC: %.4f +/- %.4f", cvMean, cvStd)

	// Final fit on the whole training split.
	model, err := fit(d, trainIdx, hp)
	if err != nil {
		return nil, err
	}

	holdScores, holdLabels, err := predictAll(model, d, holdIdx)
	if err != nil {
		return nil, err
	}
	fpr, tpr, holdAUC := rocCurve(holdScores, holdLabels)
	monitoring.Logf("[train] holdout AUC: %.4f", holdAUC)

	metrics := Metrics{
		TrainedAt:       time.Now().UTC(),
		DatasetBuildID:  d.BuildID,
		NumSamples:      len(d.X),
		NumPositives:    nPos,
		NumNegatives:    nNeg,
		NumFeatures:     len(d.FeatureNames),
		FeatureNames:    d.FeatureNames,
		CVFolds:         cfg.Folds,
		CVAUCs:          cvAUCs,
		CVAUCMean:       cvMean,
		CVAUCStd:        cvStd,
		HoldoutAUC:      holdAUC,
		Thresholds:      thresholdTable(holdScores, holdLabels),
		Confusion:       confusionAt(holdScores, holdLabels, 0.5),
		Hyperparameters: hp,
	}

	return &Artifact{
		Model:       model,
		Metrics:     metrics,
		Importances: model.Importances(),
		rocFPR:      fpr,
		rocTPR:      tpr,
	}, nil
}

// fit trains one ensemble on the selected rows. Each fit derives its
// generator from the hyperparameter seed so fold models are
// reproducible independently of evaluation order.
func fit(d *dataset.Dataset, idx []int, hp boost.Params) (*boost.Ensemble, error) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, r := range idx {
		x[i] = d.X[r]
		y[i] = d.Y[r]
	}
	rng := rand.New(rand.NewSource(hp.Seed))
	return boost.Train(x, y, d.FeatureNames, hp, rng)
}

func predictAll(model *boost.Ensemble, d *dataset.Dataset, idx []int) (scores []float64, labels []int, err error) {
	scores = make([]float64, len(idx))
	labels = make([]int, len(idx))
	for i, r := range idx {
		p, err := model.PredictProba(d.X[r])
		if err != nil {
			return nil, nil, err
		}
		scores[i] = p
		labels[i] = d.Y[r]
	}
	return scores, labels, nil
}

// stratifiedSplit partitions row indices into train and holdout sets,
// preserving the class ratio in both.
func stratifiedSplit(labels []int, holdout float64, rng *rand.Rand) (trainIdx, holdIdx []int) {
	byClass := map[int][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}
	for _, class := range []int{0, 1} {
		idx := byClass[class]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(holdout*float64(len(idx)) + 0.5)
		// Every class keeps at least one holdout row, otherwise the
		// holdout is single-class and its AUC undefined.
		if n < 1 {
			n = 1
		}
		if n >= len(idx) {
			n = len(idx) - 1
		}
		if n < 0 {
			n = 0
		}
		holdIdx = append(holdIdx, idx[:n]...)
		trainIdx = append(trainIdx, idx[n:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(holdIdx)
	return trainIdx, holdIdx
}

// stratifiedFolds assigns the training rows to k validation folds,
// keeping each fold's class ratio near the split's.
func stratifiedFolds(labels []int, trainIdx []int, k int, rng *rand.Rand) ([][]int, error) {
	byClass := map[int][]int{}
	for _, i := range trainIdx {
		byClass[labels[i]] = append(byClass[labels[i]], i)
	}
	for class, idx := range byClass {
		if len(idx) < k {
			return nil, fmt.Errorf("%w: class %d has %d samples, folds %d",
				ErrTooFewSamples, class, len(idx), k)
		}
	}

	folds := make([][]int, k)
	for _, class := range []int{0, 1} {
		idx := byClass[class]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, r := range idx {
			folds[i%k] = append(folds[i%k], r)
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// difference returns the elements of all not present in exclude. Both
// inputs are sorted.
func difference(all, exclude []int) []int {
	ex := make(map[int]bool, len(exclude))
	for _, i := range exclude {
		ex[i] = true
	}
	out := make([]int, 0, len(all)-len(exclude))
	for _, i := range all {
		if !ex[i] {
			out = append(out, i)
		}
	}
	return out
}
