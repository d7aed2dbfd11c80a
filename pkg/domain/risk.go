package domain

// Radon concentration thresholds in Bq/m³.
const (
	riskCautionFloor = 200
	riskActionFloor  = 600
	riskUrgentFloor  = 800

	// MaxConcentration is the upper ceiling accepted for a measurement.
	MaxConcentration = 10000
)

// ClassifyConcentration maps a radon concentration to its risk category.
// The mapping is total and deterministic; callers validate the value with
// ValidConcentration first.
func ClassifyConcentration(value float64) RiskCategory {
	switch {
	case value < riskCautionFloor:
		return RiskBelowGuideline
	case value < riskActionFloor:
		return RiskCaution
	case value < riskUrgentFloor:
		return RiskActionRequired
	default:
		return RiskUrgentAction
	}
}

// ValidConcentration reports whether a measurement is inside the accepted
// range. Out-of-range values are rejected, never clamped.
func ValidConcentration(value float64) bool {
	return value >= 0 && value <= MaxConcentration
}
