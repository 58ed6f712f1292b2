package models

import "fmt"

const (
	ConfidenceMin = 10
	ConfidenceMax = 100
)

// ConfidenceFromPercent maps a slider position to a detector threshold.
// Positions outside [ConfidenceMin, ConfidenceMax] are clamped.
func ConfidenceFromPercent(v int) float32 {
	v = min(max(v, ConfidenceMin), ConfidenceMax)
	return float32(v) / 100.0
}

func FormatConfidence(c float32) string {
	return fmt.Sprintf("%.2f", c)
}
