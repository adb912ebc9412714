package model

import (
	"encoding/json"
	"time"
)

type HVACMode string

const (
	ModeHeat HVACMode = "heat"
	ModeOff  HVACMode = "off"
)

type ControlAlgorithm string

const (
	AlgorithmManual                     ControlAlgorithm = "manual"
	AlgorithmWeightedAverage            ControlAlgorithm = "weighted_average"
	AlgorithmWeightedAverageOutdoorTemp ControlAlgorithm = "weighted_average_outdoor_temp"
	AlgorithmLWTControl                 ControlAlgorithm = "lwt_control"
)

// Algorithms lists the selectable control algorithms in display order.
var Algorithms = []ControlAlgorithm{
	AlgorithmManual,
	AlgorithmWeightedAverage,
	AlgorithmWeightedAverageOutdoorTemp,
	AlgorithmLWTControl,
}

func (a ControlAlgorithm) Label() string {
	switch a {
	case AlgorithmManual:
		return "Manual"
	case AlgorithmWeightedAverage:
		return "Weighted Average"
	case AlgorithmWeightedAverageOutdoorTemp:
		return "Weighted Average + Outdoor Temp"
	case AlgorithmLWTControl:
		return "LWT Control"
	default:
		return string(a)
	}
}

// ParseAlgorithm maps a stored algorithm value to a ControlAlgorithm.
// Unknown values fall back to manual rather than failing.
func ParseAlgorithm(s string) ControlAlgorithm {
	for _, a := range Algorithms {
		if string(a) == s {
			return a
		}
	}
	return AlgorithmManual
}

// AlgorithmFromLabel resolves a display label back to its algorithm.
func AlgorithmFromLabel(label string) (ControlAlgorithm, bool) {
	for _, a := range Algorithms {
		if a.Label() == label {
			return a, true
		}
	}
	return AlgorithmManual, false
}

// RoomConfig describes one room sensor and its weight in the aggregate.
type RoomConfig struct {
	Sensor string  `json:"sensor"`
	Weight float64 `json:"weight"`
}

// RoomReading is a single tick's snapshot for one room. Never persisted.
type RoomReading struct {
	Current float64
	Target  float64
	Weight  float64
}

// ThresholdMapping overrides the base hysteresis thresholds for an outdoor
// temperature range. A nil bound is open-ended; both bounds nil is a
// catch-all. Min is inclusive, max is exclusive.
type ThresholdMapping struct {
	MinTemp             *float64 `json:"min_temp,omitempty"`
	MaxTemp             *float64 `json:"max_temp,omitempty"`
	ThresholdBeforeHeat float64  `json:"threshold_before_heat"`
	ThresholdBeforeOff  float64  `json:"threshold_before_off"`
}

func (m ThresholdMapping) Matches(temp float64) bool {
	if m.MinTemp != nil && temp < *m.MinTemp {
		return false
	}
	if m.MaxTemp != nil && temp >= *m.MaxTemp {
		return false
	}
	return true
}

func (m ThresholdMapping) Equal(other ThresholdMapping) bool {
	return floatPtrEqual(m.MinTemp, other.MinTemp) &&
		floatPtrEqual(m.MaxTemp, other.MaxTemp) &&
		m.ThresholdBeforeHeat == other.ThresholdBeforeHeat &&
		m.ThresholdBeforeOff == other.ThresholdBeforeOff
}

// JSON renders the mapping as a compact JSON object with sorted keys,
// suitable for display as a single sensor value.
func (m ThresholdMapping) JSON() string {
	fields := map[string]any{
		"threshold_before_heat": m.ThresholdBeforeHeat,
		"threshold_before_off":  m.ThresholdBeforeOff,
	}
	if m.MinTemp != nil {
		fields["min_temp"] = *m.MinTemp
	}
	if m.MaxTemp != nil {
		fields["max_temp"] = *m.MaxTemp
	}
	b, _ := json.Marshal(fields)
	return string(b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Status is the computed output of one control tick, surfaced to the
// presentation layer via the API and MQTT.
type Status struct {
	Algorithm              string     `json:"algorithm"`
	AlgorithmLabel         string     `json:"algorithm_label"`
	HVACMode               HVACMode   `json:"hvac_mode"`
	CurrentTemp            float64    `json:"current_temp"`
	TargetTemp             float64    `json:"target_temp"`
	AvgNeededTemp          float64    `json:"avg_needed_temp"`
	ThresholdBeforeHeat    float64    `json:"threshold_before_heat"`
	ThresholdBeforeOff     float64    `json:"threshold_before_off"`
	ThresholdRoomNeedsHeat float64    `json:"threshold_room_needs_heat"`
	RoomsBelowTarget       int        `json:"rooms_below_target"`
	AnyRoomNeedsHeat       bool       `json:"any_room_needs_heat"`
	Paused                 bool       `json:"paused"`
	PauseUntil             *time.Time `json:"pause_until,omitempty"`
	OutdoorTemp            *float64   `json:"outdoor_temp,omitempty"`
	ActiveOutdoorMapping   string     `json:"active_outdoor_mapping,omitempty"`
	LWT                    *LWTStatus `json:"lwt,omitempty"`
}

// LWTStatus is the LWT controller's slice of the tick snapshot.
type LWTStatus struct {
	Active              bool     `json:"active"`
	Deviation           float64  `json:"deviation"`
	Overcapacity        bool     `json:"overcapacity"`
	OffRemainingMinutes *float64 `json:"off_remaining_minutes,omitempty"`
}
