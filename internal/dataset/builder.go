// Package dataset mines a labeled, leakage-safe training dataset for
// the pair-similarity classifier from the alignment record store.
//
// Positives come from the confirmed matched pairs, the only trusted
// source of "same defect" labels. Negatives come in two flavors: hard
// negatives are unmatched near-misses inside the near-miss window of a
// true match, and easy negatives are random distant cross-run pairs.
// Every negative is checked against the full symmetric matched-pair set
// so a true match can never appear with label 0.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/alignment-data/runmatch/internal/match"
	"github.com/alignment-data/runmatch/internal/monitoring"
	"github.com/alignment-data/runmatch/internal/store"
)

var (
	// ErrNoMatchedPairs means the store holds no confirmed pairs at
	// all, so there is nothing to label from.
	ErrNoMatchedPairs = errors.New("dataset: no matched pairs in record store")

	// ErrNoPositives means matched pairs exist but none could be
	// resolved to two feature records.
	ErrNoPositives = errors.New("dataset: no resolvable positive samples")

	// ErrShapeMismatch means a stored feature vector does not have the
	// expected length; the feature schema has drifted.
	ErrShapeMismatch = errors.New("dataset: feature vector length does not match schema")
)

// Negative sample kinds recorded in audit metadata.
const (
	NegTypeHard = "hard"
	NegTypeEasy = "easy"
)

// BuildConfig controls negative mining and reproducibility.
type BuildConfig struct {
	// NegRatio is the negative:positive target ratio.
	NegRatio float64

	// HardShare is the fraction of target negatives mined as hard
	// near-misses; the rest are easy distant pairs.
	HardShare float64

	// HardNegDistFt is the near-miss window: a hard-negative candidate
	// must lie within this longitudinal distance of the fixed record.
	HardNegDistFt float64

	// HardNegClockHrs is the angular near-miss window, applied only
	// when both clocks are present.
	HardNegClockHrs float64

	// EasySeparationFt is the far-separation floor: easy negatives
	// must be at least this far apart.
	EasySeparationFt float64

	// EasyAttemptFactor bounds easy mining to this multiple of the
	// easy target, guaranteeing termination on sparse catalogs.
	EasyAttemptFactor int

	// Seed fully determines shuffle order and easy-negative sampling.
	Seed int64
}

// DefaultBuildConfig returns the mining parameters used in production.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		NegRatio:          3.0,
		HardShare:         0.6,
		HardNegDistFt:     30.0,
		HardNegClockHrs:   2.0,
		EasySeparationFt:  50.0,
		EasyAttemptFactor: 20,
		Seed:              42,
	}
}

// SampleMeta is the per-row audit record carried alongside the feature
// matrix so any sample can be traced back to its source records.
type SampleMeta struct {
	FeatureA    string   `json:"feature_a"`
	FeatureB    string   `json:"feature_b"`
	JobID       string   `json:"job_id"`
	DetScore    *float64 `json:"det_score"`
	DetCategory string   `json:"det_category"`
	Label       int      `json:"label"`
	NegType     string   `json:"neg_type,omitempty"`
}

// Dataset is one labeled training dataset. Row order is shuffled once
// at construction and significant only for reproducibility.
type Dataset struct {
	BuildID      string       `json:"build_id"`
	Seed         int64        `json:"seed"`
	FeatureNames []string     `json:"feature_names"`
	X            [][]float64  `json:"x"`
	Y            []int        `json:"y"`
	Meta         []SampleMeta `json:"metadata"`
}

// Counts returns the per-class and per-negative-kind sample counts.
func (d *Dataset) Counts() (pos, hard, easy int) {
	for _, m := range d.Meta {
		switch {
		case m.Label == 1:
			pos++
		case m.NegType == NegTypeHard:
			hard++
		case m.NegType == NegTypeEasy:
			easy++
		}
	}
	return pos, hard, easy
}

// Source is the record-store view the builder needs. *store.Store
// satisfies it.
type Source interface {
	ListMatchedPairs(ctx context.Context) ([]store.MatchedPair, error)
	ListRuns(ctx context.Context) (map[string]store.Run, error)
	FeaturesByRun(ctx context.Context, runIDs []string) (map[string][]store.FeatureRecord, map[string]store.FeatureRecord, error)
}

// pairKey identifies an ordered (featureA, featureB) pair. The matched
// set stores both orders so leakage checks are direction-free.
type pairKey struct{ a, b string }

// Build mines a labeled dataset from the record store. The same seed
// against the same store snapshot reproduces the dataset bit for bit:
// composition, shuffle order, and audit metadata order.
func Build(ctx context.Context, src Source, cfg BuildConfig) (*Dataset, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))

	pairs, err := src.ListMatchedPairs(ctx)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[dataset] matched pairs: %d", len(pairs))
	if len(pairs) == 0 {
		return nil, ErrNoMatchedPairs
	}

	runs, err := src.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	// Scope the feature catalog to the runs referenced by matches.
	runIDSet := map[string]bool{}
	for _, p := range pairs {
		runIDSet[p.RunARunID] = true
		runIDSet[p.RunBRunID] = true
	}
	runIDs := make([]string, 0, len(runIDSet))
	for id := range runIDSet {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)

	featsByRun, featsByID, err := src.FeaturesByRun(ctx, runIDs)
	if err != nil {
		return nil, err
	}

	// Symmetric matched set for leakage checks.
	matched := make(map[pairKey]bool, 2*len(pairs))
	for _, p := range pairs {
		matched[pairKey{p.RunAFeatureID, p.RunBFeatureID}] = true
		matched[pairKey{p.RunBFeatureID, p.RunAFeatureID}] = true
	}

	d := &Dataset{
		BuildID:      uuid.NewString(),
		Seed:         cfg.Seed,
		FeatureNames: append([]string(nil), match.FeatureNames...),
	}

	// Positives: every resolvable matched pair, label 1.
	skipped := 0
	for _, p := range pairs {
		a, okA := featsByID[p.RunAFeatureID]
		b, okB := featsByID[p.RunBFeatureID]
		if !okA || !okB {
			skipped++
			continue
		}
		pc := store.PairContextFor(runs, p.RunARunID, p.RunBRunID)
		d.X = append(d.X, match.ExtractFeatures(a.AnomalyRecord, b.AnomalyRecord, pc))
		d.Y = append(d.Y, 1)
		d.Meta = append(d.Meta, SampleMeta{
			FeatureA:    p.RunAFeatureID,
			FeatureB:    p.RunBFeatureID,
			JobID:       p.JobID,
			DetScore:    p.ConfidenceScore,
			DetCategory: p.ConfidenceCategory,
			Label:       1,
		})
	}
	nPos := len(d.X)
	if skipped > 0 {
		monitoring.Logf("[dataset] skipped %d matched pairs with unresolvable records", skipped)
	}
	monitoring.Logf("[dataset] positives: %d", nPos)
	if nPos == 0 {
		return nil, ErrNoPositives
	}

	targetNeg := int(float64(nPos) * cfg.NegRatio)
	targetHard := int(float64(targetNeg) * cfg.HardShare)
	targetEasy := targetNeg - targetHard
	monitoring.Logf("[dataset] negative targets: %d total = %d hard + %d easy",
		targetNeg, targetHard, targetEasy)

	negSet := make(map[pairKey]bool)
	nHard := mineHardNegatives(d, pairs, runs, featsByRun, featsByID, matched, negSet, targetHard, cfg)
	if nHard < targetHard {
		monitoring.Logf("[dataset] WARNING: hard negatives short: %d of %d (matched-pair source exhausted)",
			nHard, targetHard)
	}

	nEasy := mineEasyNegatives(d, rng, runs, runIDs, featsByRun, matched, negSet, targetHard+targetEasy, targetEasy, cfg)
	if nHard+nEasy < targetNeg {
		monitoring.Logf("[dataset] WARNING: negatives short: %d of %d (hard %d, easy %d)",
			nHard+nEasy, targetNeg, nHard, nEasy)
	}
	monitoring.Logf("[dataset] negatives: %d (hard %d, easy %d), ratio %.1f:1",
		nHard+nEasy, nHard, nEasy, float64(nHard+nEasy)/float64(nPos))

	shuffle(d, rng)
	monitoring.Logf("[dataset] final: %d samples x %d features (build %s)",
		len(d.X), len(d.FeatureNames), d.BuildID)
	return d, nil
}

// mineHardNegatives collects unmatched near-misses: for each matched
// pair the newer record is held fixed and the older record's run is
// scanned for other records inside the near-miss window. The scan stops
// at the target or when the matched-pair source is exhausted; a
// shortfall is accepted, never retried.
func mineHardNegatives(
	d *Dataset,
	pairs []store.MatchedPair,
	runs map[string]store.Run,
	featsByRun map[string][]store.FeatureRecord,
	featsByID map[string]store.FeatureRecord,
	matched, negSet map[pairKey]bool,
	targetHard int,
	cfg BuildConfig,
) int {
	count := 0
	for _, p := range pairs {
		if count >= targetHard {
			break
		}
		b, ok := featsByID[p.RunBFeatureID]
		if !ok {
			continue
		}
		for _, cand := range featsByRun[p.RunARunID] {
			if count >= targetHard {
				break
			}
			key := pairKey{cand.FeatureID, p.RunBFeatureID}
			if matched[key] || negSet[key] {
				continue
			}
			// Anchors (girth welds etc.) are landmarks, not defect
			// candidates.
			if cand.IsReferencePoint {
				continue
			}
			if abs(cand.CorrectedDistanceFt-b.CorrectedDistanceFt) > cfg.HardNegDistFt {
				continue
			}
			if cand.ClockPositionHrs != nil && b.ClockPositionHrs != nil {
				if match.ClockDelta(cand.ClockPositionHrs, b.ClockPositionHrs) > cfg.HardNegClockHrs {
					continue
				}
			}

			pc := store.PairContextFor(runs, p.RunARunID, p.RunBRunID)
			d.X = append(d.X, match.ExtractFeatures(cand.AnomalyRecord, b.AnomalyRecord, pc))
			d.Y = append(d.Y, 0)
			d.Meta = append(d.Meta, SampleMeta{
				FeatureA: cand.FeatureID,
				FeatureB: p.RunBFeatureID,
				JobID:    p.JobID,
				Label:    0,
				NegType:  NegTypeHard,
			})
			negSet[key] = true
			count++
		}
	}
	return count
}

// mineEasyNegatives collects random distant cross-run pairs until the
// combined negative total reaches totalTarget or the attempt budget
// (EasyAttemptFactor x targetEasy) runs out. A hard shortfall therefore
// does not widen the easy budget: the loop fills toward the combined
// target but never attempts beyond its own cap.
func mineEasyNegatives(
	d *Dataset,
	rng *rand.Rand,
	runs map[string]store.Run,
	runIDs []string,
	featsByRun map[string][]store.FeatureRecord,
	matched, negSet map[pairKey]bool,
	totalTarget, targetEasy int,
	cfg BuildConfig,
) int {
	if len(runIDs) < 2 {
		return 0
	}
	count := 0
	maxAttempts := targetEasy * cfg.EasyAttemptFactor
	for attempts := 0; len(negSet) < totalTarget && attempts < maxAttempts; attempts++ {
		i := rng.Intn(len(runIDs))
		j := rng.Intn(len(runIDs) - 1)
		if j >= i {
			j++
		}
		r1, r2 := runIDs[i], runIDs[j]
		feats1, feats2 := featsByRun[r1], featsByRun[r2]
		if len(feats1) == 0 || len(feats2) == 0 {
			continue
		}
		a := feats1[rng.Intn(len(feats1))]
		b := feats2[rng.Intn(len(feats2))]

		key := pairKey{a.FeatureID, b.FeatureID}
		if matched[key] || negSet[key] {
			continue
		}
		if abs(a.CorrectedDistanceFt-b.CorrectedDistanceFt) < cfg.EasySeparationFt {
			continue
		}

		pc := store.PairContextFor(runs, r1, r2)
		d.X = append(d.X, match.ExtractFeatures(a.AnomalyRecord, b.AnomalyRecord, pc))
		d.Y = append(d.Y, 0)
		d.Meta = append(d.Meta, SampleMeta{
			FeatureA: a.FeatureID,
			FeatureB: b.FeatureID,
			Label:    0,
			NegType:  NegTypeEasy,
		})
		negSet[key] = true
		count++
	}
	return count
}

// shuffle permutes rows, labels, and metadata in lockstep.
func shuffle(d *Dataset, rng *rand.Rand) {
	perm := rng.Perm(len(d.X))
	x := make([][]float64, len(d.X))
	y := make([]int, len(d.Y))
	meta := make([]SampleMeta, len(d.Meta))
	for to, from := range perm {
		x[to] = d.X[from]
		y[to] = d.Y[from]
		meta[to] = d.Meta[from]
	}
	d.X, d.Y, d.Meta = x, y, meta
}

// Validate checks the shape contract: every row must match the schema
// length and every label must be 0 or 1.
func (d *Dataset) Validate() error {
	for i, row := range d.X {
		if len(row) != len(d.FeatureNames) {
			return fmt.Errorf("%w: row %d has %d values, schema has %d",
				ErrShapeMismatch, i, len(row), len(d.FeatureNames))
		}
	}
	if len(d.Y) != len(d.X) || len(d.Meta) != len(d.X) {
		return fmt.Errorf("%w: rows %d, labels %d, metadata %d",
			ErrShapeMismatch, len(d.X), len(d.Y), len(d.Meta))
	}
	for i, y := range d.Y {
		if y != 0 && y != 1 {
			return fmt.Errorf("dataset: label at row %d is %d, want 0 or 1", i, y)
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
