package stats

import "math"

// roundHalfUp rounds v to places decimal digits using round-half-up
// (ties away from zero), matching the formulas in the machine-stats and
// top-defect-lines aggregations. No example in this codebase reaches for a
// decimal library for a rounding this shallow (a handful of significant
// digits, no currency-grade precision requirement), so this stays on
// math.Round rather than pulling in an arbitrary-precision dependency.
func roundHalfUp(v float64, places int) float64 {
	scale := math.Pow10(places)

	return math.Round(v*scale) / scale
}
