package inference

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alignment-data/runmatch/internal/boost"
	"github.com/alignment-data/runmatch/internal/match"
	"github.com/alignment-data/runmatch/internal/training"
)

func ptr(v float64) *float64 { return &v }

func fullRecord(id, runID string, distFt float64) match.AnomalyRecord {
	return match.AnomalyRecord{
		FeatureID:           id,
		RunID:               runID,
		EventType:           "METAL_LOSS",
		CorrectedDistanceFt: distFt,
		LogDistanceFt:       distFt,
		ClockPositionHrs:    ptr(3.0),
		DepthPercent:        ptr(20.0),
		LengthIn:            ptr(2.0),
		WidthIn:             ptr(1.0),
		WallThicknessIn:     ptr(0.25),
	}
}

// trainedArtifact fits a tiny model on the production feature schema,
// with the distance delta carrying the signal.
func trainedArtifact(t *testing.T) *training.Artifact {
	t.Helper()
	rng := rand.New(rand.NewSource(1))

	var x [][]float64
	var y []int
	for i := 0; i < 120; i++ {
		label := i % 2
		row := make([]float64, match.NumFeatures)
		for j := range row {
			row[j] = match.Missing
		}
		if label == 1 {
			row[0] = rng.Float64() * 2.0
		} else {
			row[0] = 20.0 + rng.Float64()*10.0
		}
		x = append(x, row)
		y = append(y, label)
	}

	hp := boost.DefaultParams()
	hp.Rounds = 20
	hp.MaxDepth = 3
	hp.MinChildWeight = 1.0
	model, err := boost.Train(x, y, match.FeatureNames, hp, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	return &training.Artifact{
		Model:       model,
		Metrics:     training.Metrics{HoldoutAUC: 0.9, FeatureNames: match.FeatureNames},
		Importances: model.Importances(),
	}
}

func TestNewAdapterFallsBackWithoutArtifact(t *testing.T) {
	a := NewAdapter(t.TempDir())
	require.Equal(t, ModeFallback, a.Mode())
	require.NotEmpty(t, a.FallbackReason())
}

func TestNewAdapterFallsBackOnSchemaMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var x [][]float64
	var y []int
	for i := 0; i < 40; i++ {
		x = append(x, []float64{float64(i % 2), rng.Float64()})
		y = append(y, i%2)
	}
	hp := boost.DefaultParams()
	hp.Rounds = 5
	hp.MinChildWeight = 1.0
	model, err := boost.Train(x, y, []string{"foo", "bar"}, hp, rng)
	require.NoError(t, err)

	art := &training.Artifact{Model: model, Importances: model.Importances()}
	dir := t.TempDir()
	require.NoError(t, art.Save(dir))

	a := NewAdapter(dir)
	require.Equal(t, ModeFallback, a.Mode())
}

func TestNewAdapterFallsBackOnCorruptModel(t *testing.T) {
	// Parseable JSON whose tree has no nodes: load must reject it so
	// the adapter demotes instead of blowing up on the first query.
	art := &training.Artifact{
		Model: &boost.Ensemble{
			Params:       boost.DefaultParams(),
			FeatureNames: match.FeatureNames,
			Trees:        []boost.Tree{{Nodes: nil}},
			Gain:         make([]float64, match.NumFeatures),
		},
		Metrics: training.Metrics{HoldoutAUC: 0.9, FeatureNames: match.FeatureNames},
	}
	dir := t.TempDir()
	require.NoError(t, art.Save(dir))

	a := NewAdapter(dir)
	require.Equal(t, ModeFallback, a.Mode())
	require.NotEmpty(t, a.FallbackReason())

	p := a.Predict(Query{
		Older:              fullRecord("a1", "run2014", 100.0),
		Newer:              fullRecord("b1", "run2019", 100.0),
		DeterministicScore: 75.0,
	})
	require.Equal(t, "boost-similarity-fallback", p.ModelID)
	require.GreaterOrEqual(t, p.Similarity, 0.0)
	require.LessOrEqual(t, p.Similarity, 1.0)
}

func TestLoadedAdapterPredicts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, trainedArtifact(t).Save(dir))

	a := NewAdapter(dir)
	require.Equal(t, ModeLoaded, a.Mode())
	require.Empty(t, a.FallbackReason())

	near := Query{
		Older:              fullRecord("a1", "run2014", 100.0),
		Newer:              fullRecord("b1", "run2019", 100.5),
		DeterministicScore: 80.0,
		RunGapYears:        ptr(5.0),
	}
	far := near
	far.Newer = fullRecord("b2", "run2019", 125.0)

	pNear := a.Predict(near)
	pFar := a.Predict(far)

	require.Greater(t, pNear.Similarity, pFar.Similarity)
	require.GreaterOrEqual(t, pNear.Similarity, 0.0)
	require.LessOrEqual(t, pNear.Similarity, 1.0)
	require.Equal(t, "boost-similarity", pNear.ModelID)
	require.InDelta(t, 80.0*0.8+pNear.Similarity*100*0.2, pNear.AdjustedScore, 1e-9)

	// Confidence is bounded by the holdout AUC.
	require.Greater(t, pNear.Confidence, 0.0)
	require.LessOrEqual(t, pNear.Confidence, 0.9+1e-9)

	require.Len(t, pNear.Contributions, match.NumFeatures)
	require.NotNil(t, pNear.Contributions["abs_delta_distance_ft"])
	// Residual features were never supplied, so they contribute nothing.
	require.Nil(t, pNear.Contributions["dtw_residual"])
	require.NotEmpty(t, pNear.Explanation)
}

func TestAnalyticalFallbackIdenticalPair(t *testing.T) {
	a := NewFallbackAdapter("never trained")

	p := a.Predict(Query{
		Older:              fullRecord("a1", "run2014", 100.0),
		Newer:              fullRecord("b1", "run2019", 100.0),
		DeterministicScore: 90.0,
		ClockResidualHrs:   ptr(0.0),
	})

	require.InDelta(t, 1.0, p.Similarity, 1e-9)
	require.InDelta(t, 1.0, p.Confidence, 1e-9)
	require.InDelta(t, 90.0*0.8+100*0.2, p.AdjustedScore, 1e-9)
	require.Equal(t, "boost-similarity-fallback", p.ModelID)
	require.Nil(t, p.Contributions)
}

func TestAnalyticalFallbackDistanceDecay(t *testing.T) {
	a := NewFallbackAdapter("never trained")

	base := Query{
		Older: fullRecord("a1", "run2014", 100.0),
		Newer: fullRecord("b1", "run2019", 100.0),
	}
	nearby := base
	nearby.DistanceResidualFt = 0.5
	distant := base
	distant.DistanceResidualFt = 10.0

	require.Greater(t, a.Predict(nearby).Similarity, a.Predict(distant).Similarity)
}

func TestAnalyticalFallbackUnknownTypePair(t *testing.T) {
	a := NewFallbackAdapter("never trained")

	older := fullRecord("a1", "run2014", 100.0)
	older.EventType = "WELD_ANOMALY"
	newer := fullRecord("b1", "run2019", 100.0)
	newer.EventType = "DENT"

	same := a.Predict(Query{Older: fullRecord("a1", "run2014", 100.0), Newer: fullRecord("b1", "run2019", 100.0), ClockResidualHrs: ptr(0.0)})
	incompatible := a.Predict(Query{Older: older, Newer: newer, ClockResidualHrs: ptr(0.0)})

	// Unknown pairings keep some mass instead of zeroing out.
	require.Less(t, incompatible.Similarity, same.Similarity)
	require.Greater(t, incompatible.Similarity, 0.5)
}

func TestAnalyticalFallbackSparseQuery(t *testing.T) {
	a := NewFallbackAdapter("never trained")

	p := a.Predict(Query{
		Older: match.AnomalyRecord{FeatureID: "a1", RunID: "run2014", EventType: "METAL_LOSS", CorrectedDistanceFt: 100},
		Newer: match.AnomalyRecord{FeatureID: "b1", RunID: "run2019", EventType: "METAL_LOSS", CorrectedDistanceFt: 100},
	})

	require.GreaterOrEqual(t, p.Similarity, 0.0)
	require.LessOrEqual(t, p.Similarity, 1.0)
	// Only the distance residual was observed.
	require.InDelta(t, 1.0/3.0, p.Confidence, 1e-9)
}
