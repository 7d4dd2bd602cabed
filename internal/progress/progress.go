// Package progress maps engine-reported completion onto the job's unified
// 0-100 scale.
//
// The engine only reports on the encode phase, so the scale reserves
// [0,10) for probing and planning and [90,100] for finalization. Those outer
// bands are assigned explicitly by the orchestrator using the constants below.
package progress

import "math"

const (
	Analyzing    = 1
	Planned      = 5
	Thumbnail    = 8
	EngineStart  = 10
	EngineEnd    = 90
	SizeComputed = 95
	Complete     = 100
)

// Map converts a raw engine percentage in [0,100] into the unified scale.
// Out-of-range input is clamped.
func Map(rawPercent float64) int {
	if math.IsNaN(rawPercent) || rawPercent < 0 {
		rawPercent = 0
	}
	if rawPercent > 100 {
		rawPercent = 100
	}
	return EngineStart + int(math.Floor(rawPercent*float64(EngineEnd-EngineStart)/100))
}
