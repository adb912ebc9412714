// Package lwtcontroller manages leaving-water-temperature control mode.
// Instead of binary on/off, room setpoints are forced open and a deviation
// value on the heat pump's weather curve is modulated from aggregate demand.
package lwtcontroller

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/hass"
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
	"github.com/thatsimonsguy/heatpump-controller/internal/rooms"
)

// historyWindow bounds the temperature history used for trend detection.
const historyWindow = 30 * time.Minute

// minTrendSamples is the minimum history size for a meaningful regression.
// Below it the trend check is permissive so a restart is never blocked
// indefinitely on thin data.
const minTrendSamples = 5

// setpointAttribute is the climate entity attribute carrying the room's
// current target setpoint.
const setpointAttribute = "temperature"

type Config struct {
	DeviationEntity       string
	ActualSensor          string
	SetpointSensor        string
	MaxRoomSetpoint       float64
	DeviationMin          float64
	DeviationMax          float64
	MinOffTime            time.Duration
	OvercapacityThreshold float64
	OvercapacityDuration  time.Duration
}

type sample struct {
	at   time.Time
	temp float64
}

type Controller struct {
	cfg     Config
	states  hass.StateStore
	actions hass.ActionInvoker
	reader  *rooms.Reader

	originalSetpoints map[string]float64
	overcapacityStart *time.Time
	offSince          *time.Time
	tempHistory       []sample
	currentDeviation  float64
	active            bool

	now func() time.Time
}

func New(cfg Config, states hass.StateStore, actions hass.ActionInvoker) *Controller {
	return &Controller{
		cfg:               cfg,
		states:            states,
		actions:           actions,
		reader:            rooms.NewReader(states),
		originalSetpoints: make(map[string]float64),
		now:               time.Now,
	}
}

func (c *Controller) IsActive() bool { return c.active }

func (c *Controller) CurrentDeviation() float64 { return c.currentDeviation }

// Activate saves each room's current setpoint and forces it to the
// configured maximum so the valves stay fully open and the LWT loop
// becomes the limiting factor.
func (c *Controller) Activate(roomConfigs []model.RoomConfig) {
	log.Info().Msg("Activating LWT control mode")
	c.active = true
	c.originalSetpoints = make(map[string]float64)

	for _, room := range roomConfigs {
		state, ok := c.states.GetState(room.Sensor)
		if !ok {
			continue
		}
		original, ok := toFloat(state.Attributes[setpointAttribute])
		if !ok {
			continue
		}

		c.originalSetpoints[room.Sensor] = original
		log.Info().
			Str("entity", room.Sensor).
			Float64("original", original).
			Float64("max", c.cfg.MaxRoomSetpoint).
			Msg("Overriding room setpoint")

		c.actions.CallAction("climate", "set_temperature", map[string]any{
			"entity_id":   room.Sensor,
			"temperature": c.cfg.MaxRoomSetpoint,
		})
	}
}

// Deactivate restores the saved room setpoints and fully resets the
// controller's state.
func (c *Controller) Deactivate(roomConfigs []model.RoomConfig) {
	log.Info().Msg("Deactivating LWT control mode")
	c.active = false

	for _, room := range roomConfigs {
		original, ok := c.originalSetpoints[room.Sensor]
		if !ok {
			continue
		}
		log.Info().
			Str("entity", room.Sensor).
			Float64("setpoint", original).
			Msg("Restoring room setpoint")
		c.actions.CallAction("climate", "set_temperature", map[string]any{
			"entity_id":   room.Sensor,
			"temperature": original,
		})
	}

	c.originalSetpoints = make(map[string]float64)
	c.overcapacityStart = nil
	c.offSince = nil
	c.tempHistory = nil
}

// IsOvercapacity reports whether the actual LWT has exceeded the setpoint
// by at least the configured threshold for the configured duration. The
// duration requirement debounces transient overshoot. Unavailable sensors
// reset the timer and read as not over capacity.
func (c *Controller) IsOvercapacity() bool {
	actual, okActual := c.reader.ReadSensor(c.cfg.ActualSensor)
	setpoint, okSetpoint := c.reader.ReadSensor(c.cfg.SetpointSensor)
	if !okActual || !okSetpoint {
		c.overcapacityStart = nil
		return false
	}

	over := actual - setpoint
	if over < c.cfg.OvercapacityThreshold {
		if c.overcapacityStart != nil {
			log.Debug().Msg("Overcapacity condition ended")
		}
		c.overcapacityStart = nil
		return false
	}

	if c.overcapacityStart == nil {
		now := c.now()
		c.overcapacityStart = &now
		log.Debug().
			Float64("actual", actual).
			Float64("setpoint", setpoint).
			Float64("over", over).
			Msg("Overcapacity condition started")
	}

	elapsed := c.now().Sub(*c.overcapacityStart)
	if elapsed < c.cfg.OvercapacityDuration {
		return false
	}

	log.Debug().Dur("sustained", elapsed).Msg("Overcapacity sustained")
	return true
}

// RecordTemperature appends a sample to the trend history and prunes
// everything older than the sliding window.
func (c *Controller) RecordTemperature(avgTemp float64) {
	now := c.now()
	c.tempHistory = append(c.tempHistory, sample{at: now, temp: avgTemp})

	cutoff := now.Add(-historyWindow)
	kept := c.tempHistory[:0]
	for _, s := range c.tempHistory {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	c.tempHistory = kept
}

// CanRestart reports whether the unit may turn back on: true if never
// marked off, otherwise the minimum off time must have elapsed and the
// room temperature must not be trending up.
func (c *Controller) CanRestart() bool {
	if c.offSince == nil {
		return true
	}

	offDuration := c.now().Sub(*c.offSince)
	if offDuration < c.cfg.MinOffTime {
		remaining := (c.cfg.MinOffTime - offDuration).Minutes()
		log.Debug().Float64("remaining_minutes", remaining).Msg("Minimum off time not met")
		return false
	}

	if !c.tempTrendingDown() {
		log.Debug().Msg("Temperature not trending down, restart deferred")
		return false
	}

	log.Info().Msg("Restart conditions met: minimum off time passed and temperature trending down")
	return true
}

// tempTrendingDown fits a least-squares line through the history and
// checks the slope. A non-positive slope counts as trending down.
func (c *Controller) tempTrendingDown() bool {
	n := len(c.tempHistory)
	if n < minTrendSamples {
		log.Debug().Int("samples", n).Msg("Not enough history for trend calculation")
		return true
	}

	origin := c.tempHistory[0].at
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range c.tempHistory {
		x := s.at.Sub(origin).Seconds()
		sumX += x
		sumY += s.temp
		sumXY += x * s.temp
		sumXX += x * x
	}

	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return true
	}
	slope := (float64(n)*sumXY - sumX*sumY) / denom

	log.Debug().
		Float64("slope_per_hour", slope*3600).
		Int("samples", n).
		Msg("Temperature trend computed")

	return slope <= 0
}

// MarkOff starts the minimum-off-time clock. Idempotent so repeated calls
// during an off period never reset an in-progress cooldown.
func (c *Controller) MarkOff() {
	if c.offSince != nil {
		return
	}
	now := c.now()
	c.offSince = &now
	log.Info().Msg("Heat pump marked off for minimum off time tracking")
}

// ClearOff ends the off period. Idempotent.
func (c *Controller) ClearOff() {
	if c.offSince == nil {
		return
	}
	log.Info().
		Float64("off_minutes", c.now().Sub(*c.offSince).Minutes()).
		Msg("Heat pump restarted")
	c.offSince = nil
}

// CalculateDeviation maps aggregate heat demand onto the deviation range.
// Demand is normalized against a nominal full scale of 1.0 degrees and
// clamped to [-1, 1], then mapped linearly around the range midpoint.
func (c *Controller) CalculateDeviation(avgNeededTemp float64) float64 {
	normalized := clamp(avgNeededTemp/1.0, -1.0, 1.0)

	span := c.cfg.DeviationMax - c.cfg.DeviationMin
	mid := (c.cfg.DeviationMax + c.cfg.DeviationMin) / 2.0
	deviation := mid + normalized*span/2.0

	log.Debug().
		Float64("avg_needed", avgNeededTemp).
		Float64("normalized", normalized).
		Float64("deviation", deviation).
		Msg("Calculated LWT deviation")
	return deviation
}

// SetDeviation clamps the value into the configured bounds, stores it, and
// pushes it to the deviation entity.
func (c *Controller) SetDeviation(deviation float64) {
	clamped := clamp(deviation, c.cfg.DeviationMin, c.cfg.DeviationMax)

	if abs(clamped-c.currentDeviation) > 0.01 {
		log.Info().
			Float64("deviation", clamped).
			Float64("requested", deviation).
			Msg("Setting LWT deviation")
	}
	c.currentDeviation = clamped

	c.actions.CallAction("number", "set_value", map[string]any{
		"entity_id": c.cfg.DeviationEntity,
		"value":     clamped,
	})
}

// OffRemainingMinutes returns minutes left in the minimum off period, or
// nil when the unit is not marked off.
func (c *Controller) OffRemainingMinutes() *float64 {
	if c.offSince == nil {
		return nil
	}
	remaining := (c.cfg.MinOffTime - c.now().Sub(*c.offSince)).Minutes()
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
