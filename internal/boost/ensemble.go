package boost

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
)

// Ensemble is a trained boosted-tree classifier plus everything needed
// to reuse it: hyperparameters, the feature schema it was fit on, and
// accumulated split gains for the importance report.
type Ensemble struct {
	Params       Params    `json:"params"`
	FeatureNames []string  `json:"feature_names"`
	Trees        []Tree    `json:"trees"`
	Gain         []float64 `json:"gain_by_feature"`
}

// Train fits the classifier on x (rows of feature vectors) and binary
// labels y. Row and column subsampling draw from rng, so an identical
// seed reproduces the model exactly.
func Train(x [][]float64, y []int, featureNames []string, p Params, rng *rand.Rand) (*Ensemble, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("boost: no training rows")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("boost: %d rows but %d labels", len(x), len(y))
	}
	numFeat := len(x[0])
	for i, row := range x {
		if len(row) != numFeat {
			return nil, fmt.Errorf("boost: row %d has %d features, want %d", i, len(row), numFeat)
		}
	}

	e := &Ensemble{
		Params:       p,
		FeatureNames: append([]string(nil), featureNames...),
		Gain:         make([]float64, numFeat),
	}

	// Raw margins start at zero (base probability 0.5).
	margin := make([]float64, len(x))
	grad := make([]float64, len(x))
	hess := make([]float64, len(x))

	for round := 0; round < p.Rounds; round++ {
		for i := range x {
			pred := sigmoid(margin[i])
			w := 1.0
			if y[i] == 1 {
				w = p.ScalePosWeight
			}
			grad[i] = w * (pred - float64(y[i]))
			hess[i] = w * pred * (1 - pred)
		}

		rows := sampleRows(len(x), p.Subsample, rng)
		cols := sampleCols(numFeat, p.ColsampleByTree, rng)

		b := &treeBuilder{
			x:             x,
			grad:          grad,
			hess:          hess,
			params:        p,
			features:      cols,
			gainByFeature: e.Gain,
		}
		b.build(rows, 0)
		tree := Tree{Nodes: b.nodes}
		e.Trees = append(e.Trees, tree)

		for i := range x {
			margin[i] += tree.Predict(x[i], p.Missing)
		}
	}
	return e, nil
}

// PredictProba returns P(label=1) for one feature vector.
func (e *Ensemble) PredictProba(x []float64) (float64, error) {
	if len(x) != len(e.Gain) {
		return 0, fmt.Errorf("boost: vector has %d features, model expects %d", len(x), len(e.Gain))
	}
	raw := 0.0
	for i := range e.Trees {
		raw += e.Trees[i].Predict(x, e.Params.Missing)
	}
	return sigmoid(raw), nil
}

// Importance is one feature's share of total split gain.
type Importance struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Importances returns gain-based feature importances, normalized to
// sum to 1 and ranked descending. Features that never split score 0.
func (e *Ensemble) Importances() []Importance {
	total := 0.0
	for _, g := range e.Gain {
		total += g
	}

	out := make([]Importance, len(e.Gain))
	for i, g := range e.Gain {
		name := fmt.Sprintf("f%d", i)
		if i < len(e.FeatureNames) {
			name = e.FeatureNames[i]
		}
		score := 0.0
		if total > 0 {
			score = g / total
		}
		out[i] = Importance{Feature: name, Score: score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SaveFile serializes the ensemble to a JSON file.
func (e *Ensemble) SaveFile(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// LoadFile reads an ensemble serialized by SaveFile.
func LoadFile(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var e Ensemble
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(e.Trees) == 0 {
		return nil, fmt.Errorf("model at %s has no trees", path)
	}
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("model at %s is corrupt: %w", path, err)
	}
	return &e, nil
}

// validate checks the structural integrity of a deserialized ensemble
// so a corrupt artifact is rejected at load time instead of panicking
// or looping during prediction. The builder lays children out strictly
// after their parent, so forward-only child indices also rule out
// cycles.
func (e *Ensemble) validate() error {
	for ti := range e.Trees {
		nodes := e.Trees[ti].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range nodes {
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= len(e.Gain) {
				return fmt.Errorf("tree %d node %d splits on feature %d, model has %d features",
					ti, ni, n.Feature, len(e.Gain))
			}
			if n.Left <= ni || n.Left >= len(nodes) || n.Right <= ni || n.Right >= len(nodes) {
				return fmt.Errorf("tree %d node %d has invalid children %d/%d (of %d nodes)",
					ti, ni, n.Left, n.Right, len(nodes))
			}
		}
	}
	return nil
}

// sampleRows draws a sorted sample of fraction*n row indices without
// replacement. fraction >= 1 returns all rows.
func sampleRows(n int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1.0 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	rows := rng.Perm(n)[:k]
	sort.Ints(rows)
	return rows
}

func sampleCols(n int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1.0 {
		cols := make([]int, n)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	cols := rng.Perm(n)[:k]
	sort.Ints(cols)
	return cols
}
