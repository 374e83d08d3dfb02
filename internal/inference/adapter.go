// Package inference answers single-pair similarity queries for the
// serving layer. The adapter is decided once at construction: either a
// trained model artifact was loaded, or the adapter runs an analytical
// heuristic with fixed hand-tuned weights. Construction never fails; a
// corrupt or missing artifact demotes the adapter to the fallback and
// is only logged.
package inference

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/alignment-data/runmatch/internal/match"
	"github.com/alignment-data/runmatch/internal/monitoring"
	"github.com/alignment-data/runmatch/internal/training"
)

// Mode tags which predictor the adapter carries.
type Mode int

const (
	// ModeFallback means no usable artifact: predictions come from the
	// analytical heuristic.
	ModeFallback Mode = iota

	// ModeLoaded means a trained model artifact is active.
	ModeLoaded
)

const (
	modelID         = "boost-similarity"
	fallbackModelID = "boost-similarity-fallback"
	modelVersion    = "1.0.0"
)

// Query is one similarity request from the serving layer.
type Query struct {
	Older match.AnomalyRecord
	Newer match.AnomalyRecord

	// DeterministicScore is the 0-100 score from the deterministic
	// alignment pass, blended into AdjustedScore.
	DeterministicScore float64

	// DistanceResidualFt is the pair's longitudinal residual after
	// alignment, used only by the fallback heuristic.
	DistanceResidualFt float64
	ClockResidualHrs   *float64

	RunGapYears   *float64
	ToolWeight    *float64
	DTWResidual   *float64
	ICPResidual   *float64
	AnchorDensity *float64
}

// Prediction is the adapter's answer.
type Prediction struct {
	Similarity    float64             `json:"ml_similarity_score"` // P(same defect), [0,1]
	Confidence    float64             `json:"ml_confidence"`       // [0,1]
	AdjustedScore float64             `json:"adjusted_score"`      // deterministic blend, 0-100
	Explanation   string              `json:"explanation"`
	ModelID       string              `json:"model_id"`
	ModelVersion  string              `json:"model_version"`
	Contributions map[string]*float64 `json:"feature_contributions,omitempty"`
}

// Adapter holds the predictor chosen at startup. Pass it by reference
// into request handlers; it has no mutable state.
type Adapter struct {
	mode       Mode
	artifact   *training.Artifact
	importance map[string]float64
	reason     string
}

// NewAdapter loads the artifact directory and decides the mode once.
// Any load or schema problem is logged and produces a fallback
// adapter, never an error.
func NewAdapter(artifactsDir string) *Adapter {
	art, err := training.Load(artifactsDir)
	if err != nil {
		monitoring.Logf("[inference] no usable model artifact in %s: %v (using analytical fallback)",
			artifactsDir, err)
		return &Adapter{mode: ModeFallback, reason: err.Error()}
	}

	// Schema drift between extraction and the stored model makes every
	// prediction meaningless; demote rather than serve garbage.
	if !schemaMatches(art.Model.FeatureNames) {
		monitoring.Logf("[inference] model schema %v does not match extractor schema (using analytical fallback)",
			art.Model.FeatureNames)
		return &Adapter{mode: ModeFallback, reason: "feature schema mismatch"}
	}

	imp := make(map[string]float64, len(art.Importances))
	for _, fi := range art.Importances {
		imp[fi.Feature] = fi.Score
	}
	monitoring.Logf("[inference] loaded model from %s (holdout AUC %.4f)",
		artifactsDir, art.Metrics.HoldoutAUC)
	return &Adapter{mode: ModeLoaded, artifact: art, importance: imp}
}

// NewFallbackAdapter returns an adapter pinned to the analytical
// heuristic, for deployments that have never trained.
func NewFallbackAdapter(reason string) *Adapter {
	return &Adapter{mode: ModeFallback, reason: reason}
}

// Mode reports which predictor is active.
func (a *Adapter) Mode() Mode { return a.mode }

// FallbackReason explains why the adapter is in fallback mode; empty
// when a model is loaded.
func (a *Adapter) FallbackReason() string { return a.reason }

// Predict answers one similarity query.
func (a *Adapter) Predict(q Query) Prediction {
	if a.mode == ModeLoaded {
		return a.predictModel(q)
	}
	return a.predictAnalytical(q)
}

func (a *Adapter) predictModel(q Query) Prediction {
	ctx := match.PairContext{
		RunGapYears: 5.0,
		ToolWeight:  0.85,
	}
	if q.RunGapYears != nil {
		ctx.RunGapYears = *q.RunGapYears
	}
	if q.ToolWeight != nil {
		ctx.ToolWeight = *q.ToolWeight
	}
	ctx.DTWResidual = q.DTWResidual
	ctx.ICPResidual = q.ICPResidual
	ctx.AnchorDensity = q.AnchorDensity

	features := match.ExtractFeatures(q.Older, q.Newer, ctx)
	proba, err := a.artifact.Model.PredictProba(features)
	if err != nil {
		// Cannot happen with a schema-checked model; keep serving.
		monitoring.Logf("[inference] predict failed: %v (using analytical fallback for this query)", err)
		return a.predictAnalytical(q)
	}
	similarity := clamp01(proba)

	// Confidence scales the model's holdout quality by how much of the
	// vector was actually observed.
	modelAUC := a.artifact.Metrics.HoldoutAUC
	if modelAUC == 0 {
		modelAUC = 0.7
	}
	present := 0
	for _, v := range features {
		if v != match.Missing {
			present++
		}
	}
	completeness := float64(present) / float64(match.NumFeatures)
	confidence := clamp01(modelAUC * completeness)

	contributions := make(map[string]*float64, len(features))
	for i, name := range match.FeatureNames {
		if features[i] == match.Missing {
			contributions[name] = nil
			continue
		}
		v := features[i] * a.importance[name]
		contributions[name] = &v
	}

	return Prediction{
		Similarity:    similarity,
		Confidence:    confidence,
		AdjustedScore: blend(q.DeterministicScore, similarity),
		Explanation: fmt.Sprintf("model P(match)=%.4f, features=%d/%d present, holdout AUC=%.4f, top features: %s",
			similarity, present, match.NumFeatures, modelAUC, a.topFeatures(features, 3)),
		ModelID:       modelID,
		ModelVersion:  modelVersion,
		Contributions: contributions,
	}
}

// topFeatures summarizes the highest-importance features with their
// extracted values for the explanation string.
func (a *Adapter) topFeatures(features []float64, n int) string {
	if len(a.importance) == 0 {
		return "no importance data"
	}
	ranked := make([]string, 0, len(a.importance))
	for name := range a.importance {
		ranked = append(ranked, name)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if a.importance[ranked[i]] != a.importance[ranked[j]] {
			return a.importance[ranked[i]] > a.importance[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	idx := make(map[string]int, len(match.FeatureNames))
	for i, name := range match.FeatureNames {
		idx[name] = i
	}
	parts := make([]string, 0, n)
	for _, name := range ranked {
		v := match.Missing
		if i, ok := idx[name]; ok {
			v = features[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%.2f(w=%.3f)", name, v, a.importance[name]))
	}
	return strings.Join(parts, ", ")
}

// predictAnalytical is the hand-tuned heuristic used when no trained
// model is available. Same feature contract, fixed weighting.
func (a *Adapter) predictAnalytical(q Query) Prediction {
	// Gaussian decay on the alignment residual, sigma 2 ft.
	distSim := math.Exp(-(q.DistanceResidualFt * q.DistanceResidualFt) / 8.0)

	var clockSim *float64
	if q.ClockResidualHrs != nil {
		hrs := math.Abs(*q.ClockResidualHrs)
		if hrs > 6.0 {
			hrs = 12.0 - hrs
		}
		v := 1.0 - hrs/6.0
		clockSim = &v
	}

	typeSim := 1.0
	if q.Older.EventType != q.Newer.EventType {
		typeSim = match.TypeCompatibility(q.Older.EventType, q.Newer.EventType)
		if typeSim == 0 {
			// The heuristic is softer than the table: unknown pairs
			// keep a little mass instead of hard zero.
			typeSim = 0.3
		}
	}

	depthSim := 0.5
	if q.Older.DepthPercent != nil && q.Newer.DepthPercent != nil {
		mx := math.Max(*q.Older.DepthPercent, *q.Newer.DepthPercent)
		if mx > 0.01 {
			depthSim = math.Min(*q.Older.DepthPercent, *q.Newer.DepthPercent) / mx
		} else {
			depthSim = 1.0
		}
	}

	geomSim := 0.5
	var geomScores []float64
	if r, ok := ratioSim(q.Older.LengthIn, q.Newer.LengthIn); ok {
		geomScores = append(geomScores, r)
	}
	if r, ok := ratioSim(q.Older.WidthIn, q.Newer.WidthIn); ok {
		geomScores = append(geomScores, r)
	}
	if len(geomScores) > 0 {
		sum := 0.0
		for _, s := range geomScores {
			sum += s
		}
		geomSim = sum / float64(len(geomScores))
	}

	const wDist, wClock, wType, wDepth, wGeom = 0.30, 0.20, 0.20, 0.15, 0.15
	var similarity float64
	components := []string{fmt.Sprintf("dist=%.3f", distSim)}
	if clockSim != nil {
		total := wDist + wClock + wType + wDepth + wGeom
		similarity = (distSim*wDist + *clockSim*wClock + typeSim*wType + depthSim*wDepth + geomSim*wGeom) / total
		components = append(components, fmt.Sprintf("clock=%.3f", *clockSim))
	} else {
		total := wDist + wType + wDepth + wGeom
		similarity = (distSim*wDist + typeSim*wType + depthSim*wDepth + geomSim*wGeom) / total
	}
	components = append(components,
		fmt.Sprintf("type=%.3f", typeSim),
		fmt.Sprintf("depth=%.3f", depthSim),
		fmt.Sprintf("geom=%.3f", geomSim))
	similarity = clamp01(similarity)

	completeness := 1.0
	if clockSim != nil {
		completeness += 0.8
	}
	if q.Older.DepthPercent != nil {
		completeness += 0.7
	}
	if q.Older.LengthIn != nil {
		completeness += 0.5
	}
	confidence := clamp01(completeness / 3.0)

	return Prediction{
		Similarity:    similarity,
		Confidence:    confidence,
		AdjustedScore: blend(q.DeterministicScore, similarity),
		Explanation: fmt.Sprintf("analytical fallback (no trained model): similarity=%.3f (%s)",
			similarity, strings.Join(components, ", ")),
		ModelID:      fallbackModelID,
		ModelVersion: modelVersion,
	}
}

func ratioSim(a, b *float64) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	mx := math.Max(*a, *b)
	if mx <= 0 {
		return 0, false
	}
	return math.Min(*a, *b) / mx, true
}

// blend mirrors the orchestrating pipeline's score mix so operators
// see the same number in both places.
func blend(deterministic, similarity float64) float64 {
	return deterministic*0.8 + similarity*100*0.2
}

func schemaMatches(names []string) bool {
	if len(names) != len(match.FeatureNames) {
		return false
	}
	for i, n := range names {
		if n != match.FeatureNames[i] {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
