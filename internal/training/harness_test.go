package training

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alignment-data/runmatch/internal/boost"
	"github.com/alignment-data/runmatch/internal/dataset"
)

// separableDataset builds a balanced two-feature dataset where the
// first feature alone decides the label.
func separableDataset(perClass int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	d := &dataset.Dataset{
		BuildID:      "test-build",
		Seed:         seed,
		FeatureNames: []string{"signal", "noise"},
	}
	for i := 0; i < 2*perClass; i++ {
		label := i % 2
		v := rng.Float64() * 0.4
		if label == 1 {
			v += 0.6
		}
		d.X = append(d.X, []float64{v, rng.Float64()})
		d.Y = append(d.Y, label)
		d.Meta = append(d.Meta, dataset.SampleMeta{Label: label})
	}
	return d
}

func testHyperparams() boost.Params {
	hp := boost.DefaultParams()
	hp.Rounds = 20
	hp.MaxDepth = 3
	hp.MinChildWeight = 1.0
	return hp
}

func TestTrainProducesArtifact(t *testing.T) {
	d := separableDataset(60, 1)
	art, err := Train(d, testHyperparams(), DefaultConfig())
	require.NoError(t, err)

	m := art.Metrics
	require.Equal(t, "test-build", m.DatasetBuildID)
	require.Equal(t, 120, m.NumSamples)
	require.Equal(t, 60, m.NumPositives)
	require.Equal(t, 60, m.NumNegatives)
	require.Len(t, m.CVAUCs, 5)
	for i, auc := range m.CVAUCs {
		require.GreaterOrEqual(t, auc, 0.0, "fold %d", i)
		require.LessOrEqual(t, auc, 1.0, "fold %d", i)
	}

	sum := 0.0
	for _, auc := range m.CVAUCs {
		sum += auc
	}
	require.InDelta(t, sum/5, m.CVAUCMean, 1e-9)

	// Cleanly separable data should be learned almost perfectly.
	require.Greater(t, m.HoldoutAUC, 0.95)

	// The holdout is 20% of each class: 12 + 12 samples.
	require.Equal(t, 24, m.Confusion.Total())
	require.Len(t, m.Thresholds, len(EvalThresholds))

	// Class balance folds into the positive weight.
	require.InDelta(t, 1.0, m.Hyperparameters.ScalePosWeight, 1e-9)

	require.NotNil(t, art.Model)
	require.NotEmpty(t, art.Importances)
}

func TestTrainSingleClass(t *testing.T) {
	d := separableDataset(20, 1)
	for i := range d.Y {
		d.Y[i] = 1
		d.Meta[i].Label = 1
	}
	_, err := Train(d, testHyperparams(), DefaultConfig())
	require.True(t, errors.Is(err, ErrSingleClass), "got %v", err)
}

func TestTrainMinorityClassSmallerThanFolds(t *testing.T) {
	d := separableDataset(4, 1)
	_, err := Train(d, testHyperparams(), DefaultConfig())
	require.True(t, errors.Is(err, ErrTooFewSamples), "got %v", err)
}

func TestTrainInvalidDataset(t *testing.T) {
	d := separableDataset(20, 1)
	d.X[3] = []float64{1.0}
	_, err := Train(d, testHyperparams(), DefaultConfig())
	require.Error(t, err)
}

func TestStratifiedSplit(t *testing.T) {
	labels := make([]int, 100)
	for i := range labels {
		labels[i] = i % 2
	}
	rng := rand.New(rand.NewSource(42))
	trainIdx, holdIdx := stratifiedSplit(labels, 0.2, rng)

	require.Len(t, holdIdx, 20)
	require.Len(t, trainIdx, 80)

	seen := map[int]bool{}
	for _, i := range append(append([]int(nil), trainIdx...), holdIdx...) {
		require.False(t, seen[i], "index %d assigned twice", i)
		seen[i] = true
	}
	require.Len(t, seen, 100)

	holdPos := 0
	for _, i := range holdIdx {
		holdPos += labels[i]
	}
	require.Equal(t, 10, holdPos, "holdout class balance")
}

func TestStratifiedSplitTinyMinorityClass(t *testing.T) {
	// Two positives among fifty rows: plain rounding would give the
	// minority class zero holdout rows and an undefined holdout AUC.
	labels := make([]int, 50)
	labels[10] = 1
	labels[30] = 1

	rng := rand.New(rand.NewSource(42))
	trainIdx, holdIdx := stratifiedSplit(labels, 0.2, rng)

	holdPos, trainPos := 0, 0
	for _, i := range holdIdx {
		holdPos += labels[i]
	}
	for _, i := range trainIdx {
		trainPos += labels[i]
	}
	require.Equal(t, 1, holdPos, "holdout must keep one minority row")
	require.Equal(t, 1, trainPos)
	require.Len(t, holdIdx, 11) // 10 negatives + 1 positive
}

func TestTrainTinyMinorityClassRefusesCleanly(t *testing.T) {
	// After reserving a holdout row, one positive remains for training,
	// which cannot cover two folds. The harness must refuse with a
	// typed error rather than report NaN holdout metrics.
	rng := rand.New(rand.NewSource(3))
	d := &dataset.Dataset{
		BuildID:      "tiny-minority",
		FeatureNames: []string{"signal", "noise"},
	}
	for i := 0; i < 42; i++ {
		label := 0
		v := 20.0 + rng.Float64()*10.0
		if i < 2 {
			label = 1
			v = rng.Float64() * 2.0
		}
		d.X = append(d.X, []float64{v, rng.Float64()})
		d.Y = append(d.Y, label)
		d.Meta = append(d.Meta, dataset.SampleMeta{Label: label})
	}

	cfg := Config{Folds: 2, HoldoutFraction: 0.2, Seed: 42}
	_, err := Train(d, testHyperparams(), cfg)
	require.True(t, errors.Is(err, ErrTooFewSamples), "got %v", err)
}

func TestStratifiedFoldsPartitionTrainingSet(t *testing.T) {
	labels := make([]int, 60)
	for i := range labels {
		labels[i] = i % 2
	}
	trainIdx := make([]int, 60)
	for i := range trainIdx {
		trainIdx[i] = i
	}

	rng := rand.New(rand.NewSource(42))
	folds, err := stratifiedFolds(labels, trainIdx, 5, rng)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	seen := map[int]bool{}
	for f, fold := range folds {
		require.Len(t, fold, 12, "fold %d", f)
		pos := 0
		for _, i := range fold {
			require.False(t, seen[i], "index %d in two folds", i)
			seen[i] = true
			pos += labels[i]
		}
		require.Equal(t, 6, pos, "fold %d class balance", f)
	}
	require.Len(t, seen, 60)
}

func TestArtifactSaveLoad(t *testing.T) {
	d := separableDataset(60, 1)
	art, err := Train(d, testHyperparams(), DefaultConfig())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, art.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, art.Metrics.HoldoutAUC, loaded.Metrics.HoldoutAUC)
	require.Equal(t, art.Metrics.DatasetBuildID, loaded.Metrics.DatasetBuildID)
	require.Len(t, loaded.Importances, len(art.Importances))

	for _, row := range d.X[:10] {
		want, err := art.Model.PredictProba(row)
		require.NoError(t, err)
		got, err := loaded.Model.PredictProba(row)
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-12)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
