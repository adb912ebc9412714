// Package calculations holds the pure aggregation functions the control
// loop runs over room readings each tick.
package calculations

import (
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// WeightedAverages returns the weighted average current temperature, target
// temperature, and needed temperature across all readings. Per-room needed
// is clamped at zero so rooms above target never pull the aggregate
// negative. Returns (0, 0, 0) when the weights sum to zero.
func WeightedAverages(readings []model.RoomReading) (avgCurrent, avgTarget, avgNeeded float64) {
	var totalWeight float64
	for _, r := range readings {
		totalWeight += r.Weight
	}
	if totalWeight == 0 {
		return 0, 0, 0
	}

	var sumCurrent, sumTarget, sumNeeded float64
	for _, r := range readings {
		sumCurrent += r.Current * r.Weight
		sumTarget += r.Target * r.Weight

		needed := 0.0
		if r.Target > r.Current {
			needed = r.Target - r.Current
		}
		sumNeeded += needed * r.Weight
	}

	avgCurrent = sumCurrent / totalWeight
	avgTarget = sumTarget / totalWeight
	avgNeeded = sumNeeded / totalWeight

	log.Debug().
		Float64("avg_current", avgCurrent).
		Float64("avg_target", avgTarget).
		Float64("avg_needed", avgNeeded).
		Msg("Calculated weighted averages")

	return avgCurrent, avgTarget, avgNeeded
}

// RoomsBelowTarget counts rooms strictly below their target temperature.
func RoomsBelowTarget(readings []model.RoomReading) int {
	count := 0
	for _, r := range readings {
		if r.Current < r.Target {
			count++
		}
	}
	return count
}

// AnyRoomNeedsHeat reports whether any room is below its target by at least
// threshold (inclusive). Evaluates in input order and stops at the first hit.
func AnyRoomNeedsHeat(readings []model.RoomReading, threshold float64) bool {
	for _, r := range readings {
		diff := r.Target - r.Current
		if diff >= threshold {
			log.Debug().
				Float64("current", r.Current).
				Float64("target", r.Target).
				Float64("diff", diff).
				Float64("threshold", threshold).
				Msg("Room below per-room heat threshold")
			return true
		}
	}
	return false
}
