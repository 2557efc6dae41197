// Package estimator converts raw RSSI readings into a rough distance in
// meters using the log-distance path loss model. The estimate is a
// heuristic for proximity gating, not a positioning primitive.
package estimator

import "math"

const (
	// referencePower is the calibrated RSSI at one meter.
	referencePower = -59.0
	// pathLossExponent assumes free-space propagation.
	pathLossExponent = 2.0
)

// Unknown is the sentinel distance returned when no reading is
// available (RSSI of exactly 0).
const Unknown = -1.0

// Distance estimates the distance in meters to a beacon from a single
// RSSI sample. An RSSI of 0 means "no reading" and yields Unknown.
func Distance(rssi int) float64 {
	if rssi == 0 {
		return Unknown
	}
	return math.Pow(10, (referencePower-float64(rssi))/(10*pathLossExponent))
}
