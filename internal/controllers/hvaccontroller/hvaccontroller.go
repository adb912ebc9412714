// Package hvaccontroller decides HEAT/OFF from aggregated demand with
// hysteresis, a per-room override, and a pause state.
package hvaccontroller

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

type Controller struct {
	thresholdBeforeHeat    float64
	thresholdBeforeOff     float64
	thresholdRoomNeedsHeat float64

	pauseUntil *time.Time
	now        func() time.Time
}

func New(thresholdBeforeHeat, thresholdBeforeOff, thresholdRoomNeedsHeat float64) *Controller {
	return &Controller{
		thresholdBeforeHeat:    thresholdBeforeHeat,
		thresholdBeforeOff:     thresholdBeforeOff,
		thresholdRoomNeedsHeat: thresholdRoomNeedsHeat,
		now:                    time.Now,
	}
}

// UpdateHVACMode returns the new mode. Evaluation order is fixed: pause
// dominates the per-room override, which dominates hysteresis.
func (c *Controller) UpdateHVACMode(currentMode model.HVACMode, avgNeededTemp float64, anyRoomNeedsHeat bool) model.HVACMode {
	if c.IsPaused() {
		if currentMode != model.ModeOff {
			log.Info().Msg("Controller paused, turning heat OFF")
		}
		return model.ModeOff
	}

	if anyRoomNeedsHeat {
		if currentMode == model.ModeOff {
			log.Info().Msg("Turning heat ON: at least one room is below target")
		}
		return model.ModeHeat
	}

	if currentMode == model.ModeOff && avgNeededTemp >= c.thresholdBeforeHeat {
		log.Info().
			Float64("avg_needed", avgNeededTemp).
			Float64("threshold_before_heat", c.thresholdBeforeHeat).
			Msg("Turning heat ON: average needed temperature above threshold")
		return model.ModeHeat
	}

	if currentMode == model.ModeHeat && avgNeededTemp < c.thresholdBeforeOff {
		log.Info().
			Float64("avg_needed", avgNeededTemp).
			Float64("threshold_before_off", c.thresholdBeforeOff).
			Msg("Turning heat OFF: average needed temperature below threshold")
		return model.ModeOff
	}

	log.Debug().
		Str("mode", string(currentMode)).
		Float64("avg_needed", avgNeededTemp).
		Float64("threshold_before_heat", c.thresholdBeforeHeat).
		Float64("threshold_before_off", c.thresholdBeforeOff).
		Msg("No mode change needed")
	return currentMode
}

// SetPause pauses the controller. The mode change happens on the next
// evaluation, not here.
func (c *Controller) SetPause(minutes float64) {
	until := c.now().Add(time.Duration(minutes * float64(time.Minute)))
	c.pauseUntil = &until
	log.Info().Time("until", until).Msg("Controller paused")
}

// IsPaused reports whether a pause is active. Expiry is implicit: once the
// deadline passes the controller resumes without an explicit clear.
func (c *Controller) IsPaused() bool {
	return c.pauseUntil != nil && c.now().Before(*c.pauseUntil)
}

// PauseUntil returns the pause deadline, or nil if none was ever set.
func (c *Controller) PauseUntil() *time.Time {
	return c.pauseUntil
}

// SetThresholds updates the hysteresis thresholds. The outdoor manager
// calls this when its algorithm is active.
func (c *Controller) SetThresholds(beforeHeat, beforeOff float64) {
	c.thresholdBeforeHeat = beforeHeat
	c.thresholdBeforeOff = beforeOff
}

func (c *Controller) ThresholdBeforeHeat() float64 { return c.thresholdBeforeHeat }

func (c *Controller) ThresholdBeforeOff() float64 { return c.thresholdBeforeOff }

func (c *Controller) ThresholdRoomNeedsHeat() float64 { return c.thresholdRoomNeedsHeat }
