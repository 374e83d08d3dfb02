package match

import "math"

// Missing is the sentinel written into a feature slot when the inputs
// needed to compute it are absent. All legitimate feature values are
// non-negative, so -1 is unambiguous, and the boosted-tree classifier
// routes it through a learned default split direction.
const Missing = -1.0

// FeatureNames lists the schema of the extracted vector, in slot order.
// Training and inference must agree on this order; the dataset archive
// and the model artifact both carry it for verification.
var FeatureNames = []string{
	// Spatial (3)
	"abs_delta_distance_ft",
	"abs_delta_clock_hrs", // wrap-aware, Missing if either clock absent
	"same_weld_segment",   // 1.0 or 0.0, never Missing
	// Geometry (4)
	"abs_delta_depth_pct",
	"abs_delta_length_in",
	"abs_delta_width_in",
	"abs_delta_wall_thickness_in",
	// Categorical / context (3)
	"type_compatibility", // 0-1 from the compatibility table, never Missing
	"run_gap_years",
	"api_1163_tool_weight",
	// Alignment signals (3)
	"dtw_residual",
	"icp_residual",
	"anchor_density_in_segment",
}

// NumFeatures is the fixed length of every extracted vector.
var NumFeatures = len(FeatureNames)

// sameSegmentProximityFt is the fallback window for the same-segment
// indicator when joint numbers are unavailable: anomalies within a
// typical joint length are assumed to share a weld-to-weld segment.
const sameSegmentProximityFt = 40.0

// ExtractFeatures computes the feature vector for an (older, newer)
// anomaly pair. It is total: any missing optional input yields the
// Missing sentinel in the corresponding slot, and the result always has
// exactly NumFeatures elements.
func ExtractFeatures(older, newer AnomalyRecord, ctx PairContext) []float64 {
	f := make([]float64, NumFeatures)

	// Spatial
	f[0] = math.Abs(older.CorrectedDistanceFt - newer.CorrectedDistanceFt)
	f[1] = ClockDelta(older.ClockPositionHrs, newer.ClockPositionHrs)
	f[2] = sameWeldSegment(older, newer)

	// Geometry
	f[3] = absDelta(older.DepthPercent, newer.DepthPercent)
	f[4] = absDelta(older.LengthIn, newer.LengthIn)
	f[5] = absDelta(older.WidthIn, newer.WidthIn)
	f[6] = absDelta(older.WallThicknessIn, newer.WallThicknessIn)

	// Categorical / context
	f[7] = TypeCompatibility(older.EventType, newer.EventType)
	f[8] = ctx.RunGapYears
	f[9] = ctx.ToolWeight

	// Alignment signals
	f[10] = orMissing(ctx.DTWResidual)
	f[11] = orMissing(ctx.ICPResidual)
	f[12] = orMissing(ctx.AnchorDensity)

	return f
}

// ClockDelta returns the absolute clock difference in hours, wrapped
// around the 12-hour dial so the result is always the shorter arc in
// [0, 6]. Returns Missing if either clock is absent.
func ClockDelta(a, b *float64) float64 {
	if a == nil || b == nil {
		return Missing
	}
	raw := math.Abs(*a - *b)
	if raw > 6.0 {
		raw = 12.0 - raw
	}
	return raw
}

// sameWeldSegment reports whether two anomalies likely sit in the same
// weld-to-weld segment. Joint numbers decide when both are present;
// otherwise longitudinal proximity within a typical joint length.
func sameWeldSegment(a, b AnomalyRecord) float64 {
	if a.JointNumber != nil && b.JointNumber != nil {
		if *a.JointNumber == *b.JointNumber {
			return 1.0
		}
		return 0.0
	}
	if math.Abs(a.CorrectedDistanceFt-b.CorrectedDistanceFt) < sameSegmentProximityFt {
		return 1.0
	}
	return 0.0
}

func absDelta(a, b *float64) float64 {
	if a == nil || b == nil {
		return Missing
	}
	return math.Abs(*a - *b)
}

func orMissing(v *float64) float64 {
	if v == nil {
		return Missing
	}
	return *v
}
