package match

// typeKey is an unordered pair of canonical event types.
type typeKey struct{ a, b string }

// typeCompat scores known heterogeneous type pairs. Identical types are
// always 1.0 and unknown pairs 0.0, so only the cross-type entries live
// in the table. Entries are stored in both orders to keep lookups
// symmetric.
var typeCompat = map[typeKey]float64{}

func init() {
	add := func(a, b string, score float64) {
		typeCompat[typeKey{a, b}] = score
		typeCompat[typeKey{b, a}] = score
	}
	add("METAL_LOSS", "CORROSION", 0.9)
	add("METAL_LOSS", "CLUSTER", 0.85)
	add("DENT", "DEFORMATION", 0.85)
	add("CRACK", "CRACK_LIKE", 0.8)
	add("METAL_LOSS", "METAL_LOSS_MFG", 0.7)
}

// TypeCompatibility scores how plausible it is that two canonical event
// types describe the same physical defect: identical types 1.0, known
// near-equivalent pairs per the table, anything else 0.0.
func TypeCompatibility(t1, t2 string) float64 {
	if t1 == t2 {
		return 1.0
	}
	return typeCompat[typeKey{t1, t2}]
}
