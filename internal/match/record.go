// Package match derives the fixed-length numeric feature vector used by
// the pair-similarity classifier. Extraction is a pure function of two
// anomaly records and their pair context: no state, no I/O, no failure
// path. Missing optional inputs surface as the Missing sentinel so the
// classifier can treat absence as information.
package match

// AnomalyRecord is a flat, immutable snapshot of one anomaly observation
// from a single inspection run. Optional measurements are pointers; nil
// means the tool did not report that quantity.
type AnomalyRecord struct {
	FeatureID string
	RunID     string

	// EventType is the canonical event type (e.g. METAL_LOSS, DENT).
	EventType string

	// CorrectedDistanceFt is the corrected longitudinal position along
	// the pipe. Always present; falls back to the log distance upstream.
	CorrectedDistanceFt float64
	LogDistanceFt       float64

	ClockPositionHrs     *float64 // circular, 0-12
	DepthPercent         *float64
	LengthIn             *float64
	WidthIn              *float64
	WallThicknessIn      *float64
	JointNumber          *int
	DistToUpstreamWeldFt *float64
}

// PairContext carries run-level and alignment-level signals for one
// (older, newer) pair. It is derived per pair and never persisted on
// its own.
type PairContext struct {
	RunGapYears float64

	// ToolWeight is the API 1163 tool-qualification confidence weight
	// from the newer run. Callers default it to 0.85 when the run has
	// no qualification block.
	ToolWeight float64

	DTWResidual   *float64 // per-pair DTW alignment confidence
	ICPResidual   *float64 // per-pair ICP RMSE
	AnchorDensity *float64 // anchors per 100 ft in the local segment
}

// Float returns a pointer to v. Convenience for building records with
// optional fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
