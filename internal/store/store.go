// Package store reads the alignment record store: inspection runs, the
// anomaly feature catalog, and the confirmed matched pairs that are the
// only source of positive training labels. The store is a sqlite
// database whose schema is managed by embedded migrations.
//
// Dynamic store rows are mapped at this boundary into the explicit
// record structs used by feature extraction, with defaulting rules
// applied here rather than at each access site.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/alignment-data/runmatch/internal/match"
)

// DefaultToolWeight is the API 1163 tool-qualification confidence
// weight assumed when a run has no qualification data.
const DefaultToolWeight = 0.85

// Default run years used when a matched pair references a run that
// cannot be resolved; they preserve a plausible 5-year gap.
const (
	DefaultOlderRunYear = 2000
	DefaultNewerRunYear = 2005
)

type Store struct {
	*sql.DB
}

// Open opens the sqlite record store at path and applies any pending
// schema migrations.
func Open(path string) (*Store, error) {
	s, err := OpenWithoutMigrations(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithoutMigrations opens the store without touching the schema.
// Used by migration tooling and by tests that manage schema manually.
func OpenWithoutMigrations(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return &Store{db}, nil
}

// MatchedPair is one confirmed observation pair from the deterministic
// alignment pipeline. Side A is the older run, side B the newer.
type MatchedPair struct {
	JobID              string
	RunAFeatureID      string
	RunBFeatureID      string
	RunARunID          string
	RunBRunID          string
	ConfidenceScore    *float64
	ConfidenceCategory string
}

// Run is one inspection run of the asset.
type Run struct {
	ID         string
	Year       int
	ToolWeight *float64 // qualification confidence weight, nil if unqualified
}

// FeatureRecord is one anomaly row plus store-only flags that never
// reach the feature vector.
type FeatureRecord struct {
	match.AnomalyRecord
	IsReferencePoint bool
}

// canonical table names with the casing variants probed when a store
// predates the canonical schema. The probe is a single bounded pass
// over sqlite_master, not a retry loop.
var tableVariants = map[string][]string{
	"matched_pairs": {"matched_pairs", "matchedpairs", "MatchedPairs", "matchedPairs", "matchedpair"},
	"features":      {"features", "Features", "feature"},
	"runs":          {"runs", "Runs", "run"},
}

// resolveTable returns the actual table name for the canonical one,
// probing known casing variants against sqlite_master.
func (s *Store) resolveTable(ctx context.Context, canonical string) (string, error) {
	rows, err := s.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := map[string]string{} // lowercased -> actual
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		present[strings.ToLower(name)] = name
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	for _, variant := range tableVariants[canonical] {
		if actual, ok := present[strings.ToLower(variant)]; ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no table found for %q (tried %v)", canonical, tableVariants[canonical])
}

// ListMatchedPairs returns every confirmed matched pair in the store.
func (s *Store) ListMatchedPairs(ctx context.Context) ([]MatchedPair, error) {
	table, err := s.resolveTable(ctx, "matched_pairs")
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, fmt.Sprintf(`
		SELECT job_id, run_a_feature_id, run_b_feature_id,
		       run_a_run_id, run_b_run_id,
		       confidence_score, confidence_category
		FROM %s ORDER BY rowid`, table))
	if err != nil {
		return nil, fmt.Errorf("query matched pairs: %w", err)
	}
	defer rows.Close()

	var pairs []MatchedPair
	for rows.Next() {
		var p MatchedPair
		var score sql.NullFloat64
		var category sql.NullString
		if err := rows.Scan(&p.JobID, &p.RunAFeatureID, &p.RunBFeatureID,
			&p.RunARunID, &p.RunBRunID, &score, &category); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			p.ConfidenceScore = &v
		}
		p.ConfidenceCategory = category.String
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ListRuns returns every run keyed by id.
func (s *Store) ListRuns(ctx context.Context) (map[string]Run, error) {
	table, err := s.resolveTable(ctx, "runs")
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, year, tool_confidence_weight FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make(map[string]Run)
	for rows.Next() {
		var r Run
		var weight sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Year, &weight); err != nil {
			return nil, err
		}
		if weight.Valid {
			v := weight.Float64
			r.ToolWeight = &v
		}
		runs[r.ID] = r
	}
	return runs, rows.Err()
}

// FeaturesByRun returns every anomaly record for the given run ids,
// grouped by run. The returned byID map indexes the same records by
// feature id for pair resolution.
func (s *Store) FeaturesByRun(ctx context.Context, runIDs []string) (byRun map[string][]FeatureRecord, byID map[string]FeatureRecord, err error) {
	table, err := s.resolveTable(ctx, "features")
	if err != nil {
		return nil, nil, err
	}
	if len(runIDs) == 0 {
		return map[string][]FeatureRecord{}, map[string]FeatureRecord{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}

	rows, err := s.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, run_id, event_type_canonical, event_type_raw,
		       log_distance_ft, corrected_distance_ft, clock_position_hrs,
		       depth_percent, length_in, width_in, wall_thickness_in,
		       joint_number, dist_to_upstream_weld_ft, is_reference_point
		FROM %s WHERE run_id IN (%s) ORDER BY id`, table, placeholders), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	byRun = make(map[string][]FeatureRecord)
	byID = make(map[string]FeatureRecord)
	for rows.Next() {
		rec, err := scanFeature(rows)
		if err != nil {
			return nil, nil, err
		}
		byRun[rec.RunID] = append(byRun[rec.RunID], rec)
		byID[rec.FeatureID] = rec
	}
	return byRun, byID, rows.Err()
}

// scanFeature maps one feature row into a FeatureRecord, applying the
// boundary defaults: canonical type falls back to the raw type, and the
// corrected distance falls back to the log distance.
func scanFeature(rows *sql.Rows) (FeatureRecord, error) {
	var rec FeatureRecord
	var rawType sql.NullString
	var canonType sql.NullString
	var corrected, clock, depth, length, width, wall, distToWeld sql.NullFloat64
	var joint sql.NullInt64
	var isRef sql.NullBool

	err := rows.Scan(&rec.FeatureID, &rec.RunID, &canonType, &rawType,
		&rec.LogDistanceFt, &corrected, &clock,
		&depth, &length, &width, &wall,
		&joint, &distToWeld, &isRef)
	if err != nil {
		return rec, err
	}

	switch {
	case canonType.Valid && canonType.String != "":
		rec.EventType = canonType.String
	case rawType.Valid && rawType.String != "":
		rec.EventType = rawType.String
	default:
		rec.EventType = "OTHER"
	}

	rec.CorrectedDistanceFt = rec.LogDistanceFt
	if corrected.Valid {
		rec.CorrectedDistanceFt = corrected.Float64
	}

	rec.ClockPositionHrs = nullFloat(clock)
	rec.DepthPercent = nullFloat(depth)
	rec.LengthIn = nullFloat(length)
	rec.WidthIn = nullFloat(width)
	rec.WallThicknessIn = nullFloat(wall)
	rec.DistToUpstreamWeldFt = nullFloat(distToWeld)
	if joint.Valid {
		v := int(joint.Int64)
		rec.JointNumber = &v
	}
	rec.IsReferencePoint = isRef.Valid && isRef.Bool
	return rec, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// PairContextFor builds the pair context for a matched or candidate
// pair from run metadata: run gap from the two run years and the tool
// weight from the newer run's qualification block, with defaults when
// either run is unresolvable. Alignment residuals are not persisted in
// the store, so they stay nil here.
func PairContextFor(runs map[string]Run, olderRunID, newerRunID string) match.PairContext {
	yearA := DefaultOlderRunYear
	if r, ok := runs[olderRunID]; ok {
		yearA = r.Year
	}
	yearB := DefaultNewerRunYear
	if r, ok := runs[newerRunID]; ok {
		yearB = r.Year
	}

	weight := DefaultToolWeight
	if r, ok := runs[newerRunID]; ok && r.ToolWeight != nil {
		weight = *r.ToolWeight
	}

	gap := yearB - yearA
	if gap < 0 {
		gap = -gap
	}
	return match.PairContext{RunGapYears: float64(gap), ToolWeight: weight}
}
