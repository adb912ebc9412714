// Package rooms reads room and outdoor temperatures out of the host's
// entity state. Missing or malformed sensors are skipped with a warning;
// a tick always proceeds with whatever data is available.
package rooms

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/hass"
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// TargetAttribute is the entity attribute carrying a room's target
// temperature. Absent attributes default to 0.
const TargetAttribute = "temperature_target"

type Reader struct {
	states hass.StateStore
}

func NewReader(states hass.StateStore) *Reader {
	return &Reader{states: states}
}

// Read returns one reading per configured room, in configuration order.
// Rooms whose sensor is missing or non-numeric are omitted.
func (r *Reader) Read(configs []model.RoomConfig) []model.RoomReading {
	readings := make([]model.RoomReading, 0, len(configs))

	for _, room := range configs {
		state, ok := r.states.GetState(room.Sensor)
		if !ok {
			log.Warn().Str("sensor", room.Sensor).Msg("Room sensor not found")
			continue
		}

		current, err := strconv.ParseFloat(state.Value, 64)
		if err != nil {
			log.Warn().
				Str("sensor", room.Sensor).
				Str("value", state.Value).
				Msg("Invalid temperature for room sensor")
			continue
		}

		target := 0.0
		if raw, ok := state.Attributes[TargetAttribute]; ok {
			t, ok := toFloat(raw)
			if !ok {
				log.Warn().
					Str("sensor", room.Sensor).
					Interface("value", raw).
					Msg("Invalid target temperature for room sensor")
				continue
			}
			target = t
		}

		log.Debug().
			Str("sensor", room.Sensor).
			Float64("temp", current).
			Float64("target", target).
			Msg("Room temperature read")

		readings = append(readings, model.RoomReading{
			Current: current,
			Target:  target,
			Weight:  room.Weight,
		})
	}

	return readings
}

// ReadSensor reads a single numeric sensor value.
func (r *Reader) ReadSensor(entityID string) (float64, bool) {
	if entityID == "" {
		return 0, false
	}

	state, ok := r.states.GetState(entityID)
	if !ok {
		log.Debug().Str("sensor", entityID).Msg("Sensor not found")
		return 0, false
	}

	value, err := strconv.ParseFloat(state.Value, 64)
	if err != nil {
		log.Debug().
			Str("sensor", entityID).
			Str("value", state.Value).
			Msg("Sensor has non-numeric state")
		return 0, false
	}
	return value, true
}

// ReadOutdoorTemperature tries the primary outdoor sensor, then the
// fallback. Returns false when neither yields a numeric value.
func (r *Reader) ReadOutdoorTemperature(primary, fallback string) (float64, bool) {
	if temp, ok := r.ReadSensor(primary); ok {
		return temp, true
	}

	if fallback != "" {
		log.Info().
			Str("fallback", fallback).
			Msg("Primary outdoor sensor unavailable, trying fallback")
		if temp, ok := r.ReadSensor(fallback); ok {
			return temp, true
		}
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
