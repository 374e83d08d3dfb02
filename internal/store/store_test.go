package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRuns(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.Exec(`INSERT INTO runs (id, year, tool_confidence_weight) VALUES
		('run2014', 2014, 0.92),
		('run2019', 2019, NULL)`)
	require.NoError(t, err)
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.GreaterOrEqual(t, version, uint(1))
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	seedRuns(t, s)

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)

	older := runs["run2014"]
	require.Equal(t, 2014, older.Year)
	require.NotNil(t, older.ToolWeight)
	require.InDelta(t, 0.92, *older.ToolWeight, 1e-9)

	newer := runs["run2019"]
	require.Equal(t, 2019, newer.Year)
	require.Nil(t, newer.ToolWeight)
}

func TestListMatchedPairsPreservesInsertOrder(t *testing.T) {
	s := openTestStore(t)
	seedRuns(t, s)

	for i, ids := range [][2]string{{"a1", "b1"}, {"a2", "b2"}, {"a3", "b3"}} {
		var score any
		if i == 0 {
			score = 87.5
		}
		_, err := s.Exec(`INSERT INTO matched_pairs
			(job_id, run_a_feature_id, run_b_feature_id, run_a_run_id, run_b_run_id,
			 confidence_score, confidence_category)
			VALUES ('job-1', ?, ?, 'run2014', 'run2019', ?, 'HIGH')`,
			ids[0], ids[1], score)
		require.NoError(t, err)
	}

	pairs, err := s.ListMatchedPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	require.Equal(t, "a1", pairs[0].RunAFeatureID)
	require.Equal(t, "a3", pairs[2].RunAFeatureID)

	require.NotNil(t, pairs[0].ConfidenceScore)
	require.InDelta(t, 87.5, *pairs[0].ConfidenceScore, 1e-9)
	require.Nil(t, pairs[1].ConfidenceScore)
	require.Equal(t, "HIGH", pairs[1].ConfidenceCategory)
}

func TestFeaturesByRunDefaulting(t *testing.T) {
	s := openTestStore(t)
	seedRuns(t, s)

	_, err := s.Exec(`INSERT INTO features
		(id, run_id, event_type_canonical, event_type_raw, log_distance_ft,
		 corrected_distance_ft, clock_position_hrs, depth_percent, joint_number,
		 is_reference_point)
		VALUES
		('f1', 'run2014', 'METAL_LOSS', 'ext ML', 100.0, 101.5, 3.0, 12.5, 42, 0),
		('f2', 'run2014', NULL, 'corrosion cluster', 250.0, NULL, NULL, NULL, NULL, 0),
		('f3', 'run2014', NULL, NULL, 400.0, NULL, NULL, NULL, NULL, 1)`)
	require.NoError(t, err)

	byRun, byID, err := s.FeaturesByRun(context.Background(), []string{"run2014"})
	require.NoError(t, err)
	require.Len(t, byRun["run2014"], 3)
	require.Len(t, byID, 3)

	f1 := byID["f1"]
	require.Equal(t, "METAL_LOSS", f1.EventType)
	require.InDelta(t, 101.5, f1.CorrectedDistanceFt, 1e-9)
	require.NotNil(t, f1.ClockPositionHrs)
	require.NotNil(t, f1.JointNumber)
	require.Equal(t, 42, *f1.JointNumber)
	require.False(t, f1.IsReferencePoint)

	// Canonical type falls back to raw; corrected distance falls back
	// to the log distance.
	f2 := byID["f2"]
	require.Equal(t, "corrosion cluster", f2.EventType)
	require.InDelta(t, 250.0, f2.CorrectedDistanceFt, 1e-9)
	require.Nil(t, f2.ClockPositionHrs)
	require.Nil(t, f2.DepthPercent)

	f3 := byID["f3"]
	require.Equal(t, "OTHER", f3.EventType)
	require.True(t, f3.IsReferencePoint)
}

func TestFeaturesByRunNoRuns(t *testing.T) {
	s := openTestStore(t)

	byRun, byID, err := s.FeaturesByRun(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, byRun)
	require.Empty(t, byID)
}

func TestResolveTableCasingVariants(t *testing.T) {
	// A legacy store that predates the canonical schema.
	s, err := OpenWithoutMigrations(filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Exec(`CREATE TABLE MatchedPairs (
		job_id TEXT, run_a_feature_id TEXT, run_b_feature_id TEXT,
		run_a_run_id TEXT, run_b_run_id TEXT,
		confidence_score DOUBLE, confidence_category TEXT)`)
	require.NoError(t, err)
	_, err = s.Exec(`INSERT INTO MatchedPairs VALUES
		('job-9', 'a', 'b', 'r1', 'r2', NULL, '')`)
	require.NoError(t, err)

	pairs, err := s.ListMatchedPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "job-9", pairs[0].JobID)
}

func TestResolveTableMissing(t *testing.T) {
	s, err := OpenWithoutMigrations(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ListRuns(context.Background())
	require.Error(t, err)
}

func TestPairContextFor(t *testing.T) {
	w := 0.92
	runs := map[string]Run{
		"older": {ID: "older", Year: 2014},
		"newer": {ID: "newer", Year: 2019, ToolWeight: &w},
	}

	pc := PairContextFor(runs, "older", "newer")
	require.InDelta(t, 5.0, pc.RunGapYears, 1e-9)
	require.InDelta(t, 0.92, pc.ToolWeight, 1e-9)

	// Unresolvable runs fall back to the default 5-year gap and weight.
	pc = PairContextFor(runs, "ghost-a", "ghost-b")
	require.InDelta(t, 5.0, pc.RunGapYears, 1e-9)
	require.InDelta(t, DefaultToolWeight, pc.ToolWeight, 1e-9)

	// Reversed years still yield a positive gap.
	pc = PairContextFor(runs, "newer", "older")
	require.InDelta(t, 5.0, pc.RunGapYears, 1e-9)
}
