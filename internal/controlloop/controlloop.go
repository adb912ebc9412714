// Package controlloop ties the readers and controllers together once per
// tick and forwards the resulting decision to the host.
package controlloop

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/calculations"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/hvaccontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/lwtcontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/outdoortemp"
	"github.com/thatsimonsguy/heatpump-controller/internal/datadog"
	"github.com/thatsimonsguy/heatpump-controller/internal/hass"
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
	"github.com/thatsimonsguy/heatpump-controller/internal/mqtt"
	"github.com/thatsimonsguy/heatpump-controller/internal/notifications"
	"github.com/thatsimonsguy/heatpump-controller/internal/rooms"
)

// DefaultPauseMinutes applies when a pause request carries no duration.
const DefaultPauseMinutes = 30.0

// Settings persists the selected algorithm across restarts.
type Settings interface {
	SaveAlgorithm(algorithm model.ControlAlgorithm) error
}

// Options carries everything the loop needs. Publisher and Settings may be
// nil; the loop then skips mirroring and persistence.
type Options struct {
	Rooms                     []model.RoomConfig
	OnOffSwitch               string
	BaseBeforeHeat            float64
	BaseBeforeOff             float64
	PollInterval              time.Duration
	LWTTurnsOffOnOvercapacity bool

	States  hass.StateStore
	Actions hass.ActionInvoker

	HVAC    *hvaccontroller.Controller
	Outdoor *outdoortemp.Manager
	LWT     *lwtcontroller.Controller

	Settings  Settings
	Publisher mqtt.Publisher
}

// Loop runs the control cycle. Ticks are serialized: the scheduler tick
// and the immediate ticks triggered by pause or algorithm changes share
// one mutex, so a slow tick delays rather than overlaps the next.
type Loop struct {
	mu sync.Mutex

	opts   Options
	reader *rooms.Reader

	algorithm model.ControlAlgorithm
	mode      model.HVACMode
	status    model.Status

	sensorsDegraded bool
}

func New(opts Options, initial model.ControlAlgorithm) *Loop {
	return &Loop{
		opts:      opts,
		reader:    rooms.NewReader(opts.States),
		algorithm: initial,
		mode:      model.ModeOff,
	}
}

// Run ticks immediately, then on the configured interval until the
// context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	log.Info().
		Str("algorithm", string(l.algorithm)).
		Dur("interval", l.opts.PollInterval).
		Msg("Starting control loop")

	l.Tick()

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Control loop stopped")
			return
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick runs one full control cycle.
func (l *Loop) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick()
}

func (l *Loop) tick() {
	readings := l.reader.Read(l.opts.Rooms)

	avgCurrent, avgTarget, avgNeeded := calculations.WeightedAverages(readings)
	roomsBelow := calculations.RoomsBelowTarget(readings)
	anyNeedsHeat := calculations.AnyRoomNeedsHeat(readings, l.opts.HVAC.ThresholdRoomNeedsHeat())

	if l.algorithm == model.AlgorithmWeightedAverageOutdoorTemp {
		l.opts.Outdoor.MatchOutdoorThreshold()
		l.opts.HVAC.SetThresholds(l.opts.Outdoor.ThresholdBeforeHeat(), l.opts.Outdoor.ThresholdBeforeOff())
	} else {
		l.opts.HVAC.SetThresholds(l.opts.BaseBeforeHeat, l.opts.BaseBeforeOff)
	}

	if len(readings) > 0 {
		l.mode = l.opts.HVAC.UpdateHVACMode(l.mode, avgNeeded, anyNeedsHeat)
		if l.sensorsDegraded {
			l.sensorsDegraded = false
			if err := notifications.Send("Heat pump controller", "Room sensors recovered"); err != nil {
				log.Debug().Err(err).Msg("Notification not sent")
			}
		}
	} else {
		log.Warn().Msg("No valid room readings this tick")
		if !l.sensorsDegraded {
			l.sensorsDegraded = true
			if err := notifications.Send("Heat pump controller", "No valid room temperature readings, holding last mode"); err != nil {
				log.Debug().Err(err).Msg("Notification not sent")
			}
		}
	}

	switch l.algorithm {
	case model.AlgorithmManual:
		log.Debug().Msg("Manual algorithm selected, skipping automatic control")
	case model.AlgorithmLWTControl:
		if l.opts.LWT == nil {
			log.Warn().Msg("LWT control selected but not configured")
		} else if len(readings) == 0 {
			// Without readings the aggregates are fabricated zeros; feeding
			// them into the trend history or the deviation entity would
			// corrupt the restart gate. Hold last state instead.
			log.Warn().Msg("Skipping LWT update: no valid room readings")
		} else {
			l.tickLWT(avgCurrent, avgNeeded)
		}
	default:
		l.switchHeatPump(l.mode)
	}

	l.status = l.buildStatus(avgCurrent, avgTarget, avgNeeded, roomsBelow, anyNeedsHeat)
	l.publish(l.status)
}

// tickLWT runs the leaving-water-temperature mode: setpoints forced open,
// demand mapped onto the deviation entity, and optionally the unit cycled
// off on sustained overcapacity until a restart is permitted.
func (l *Loop) tickLWT(avgCurrent, avgNeeded float64) {
	lwt := l.opts.LWT
	if !lwt.IsActive() {
		lwt.Activate(l.opts.Rooms)
	}

	lwt.RecordTemperature(avgCurrent)
	lwt.SetDeviation(lwt.CalculateDeviation(avgNeeded))

	if !l.opts.LWTTurnsOffOnOvercapacity {
		return
	}

	switch {
	case lwt.IsOvercapacity():
		log.Info().Msg("Sustained overcapacity, turning heat pump off")
		l.switchHeatPump(model.ModeOff)
		lwt.MarkOff()
	case lwt.OffRemainingMinutes() != nil:
		if lwt.CanRestart() {
			l.switchHeatPump(model.ModeHeat)
			lwt.ClearOff()
		}
	default:
		l.switchHeatPump(model.ModeHeat)
	}
}

// switchHeatPump reads the switch state and only invokes turn_on/turn_off
// on an actual edge.
func (l *Loop) switchHeatPump(mode model.HVACMode) {
	if l.opts.OnOffSwitch == "" {
		log.Debug().Msg("Heat pump switch not configured")
		return
	}

	state, ok := l.opts.States.GetState(l.opts.OnOffSwitch)
	if !ok {
		log.Warn().Str("switch", l.opts.OnOffSwitch).Msg("Switch not found")
		return
	}
	isOn := state.Value == "on"

	if mode == model.ModeHeat && !isOn {
		log.Info().Msg("Turning heat pump switch ON")
		l.opts.Actions.CallAction("switch", "turn_on", map[string]any{
			"entity_id": l.opts.OnOffSwitch,
		})
	} else if mode == model.ModeOff && isOn {
		log.Info().Msg("Turning heat pump switch OFF")
		l.opts.Actions.CallAction("switch", "turn_off", map[string]any{
			"entity_id": l.opts.OnOffSwitch,
		})
	}
}

func (l *Loop) buildStatus(avgCurrent, avgTarget, avgNeeded float64, roomsBelow int, anyNeedsHeat bool) model.Status {
	status := model.Status{
		Algorithm:              string(l.algorithm),
		AlgorithmLabel:         l.algorithm.Label(),
		HVACMode:               l.mode,
		CurrentTemp:            round3(avgCurrent),
		TargetTemp:             round3(avgTarget),
		AvgNeededTemp:          round3(avgNeeded),
		ThresholdBeforeHeat:    l.opts.HVAC.ThresholdBeforeHeat(),
		ThresholdBeforeOff:     l.opts.HVAC.ThresholdBeforeOff(),
		ThresholdRoomNeedsHeat: l.opts.HVAC.ThresholdRoomNeedsHeat(),
		RoomsBelowTarget:       roomsBelow,
		AnyRoomNeedsHeat:       anyNeedsHeat,
		Paused:                 l.opts.HVAC.IsPaused(),
		PauseUntil:             l.opts.HVAC.PauseUntil(),
	}

	if l.algorithm == model.AlgorithmWeightedAverageOutdoorTemp {
		status.OutdoorTemp = l.opts.Outdoor.OutdoorTemp()
		if mapping := l.opts.Outdoor.ActiveMapping(); mapping != nil {
			status.ActiveOutdoorMapping = mapping.JSON()
		}
	}

	if l.algorithm == model.AlgorithmLWTControl && l.opts.LWT != nil {
		status.LWT = &model.LWTStatus{
			Active:              l.opts.LWT.IsActive(),
			Deviation:           l.opts.LWT.CurrentDeviation(),
			Overcapacity:        l.opts.LWT.IsOvercapacity(),
			OffRemainingMinutes: l.opts.LWT.OffRemainingMinutes(),
		}
	}

	return status
}

func (l *Loop) publish(status model.Status) {
	datadog.Gauge("climate.current_temp", status.CurrentTemp)
	datadog.Gauge("climate.target_temp", status.TargetTemp)
	datadog.Gauge("climate.avg_needed_temp", status.AvgNeededTemp)
	datadog.Gauge("climate.rooms_below_target", float64(status.RoomsBelowTarget))
	datadog.Gauge("climate.hvac_mode", boolToGauge(status.HVACMode == model.ModeHeat))
	if status.OutdoorTemp != nil {
		datadog.Gauge("climate.outdoor_temp", *status.OutdoorTemp)
	}
	if status.LWT != nil {
		datadog.Gauge("climate.lwt_deviation", status.LWT.Deviation)
	}

	if l.opts.Publisher == nil {
		return
	}
	if err := l.opts.Publisher.PublishStatus(status); err != nil {
		log.Warn().Err(err).Msg("Failed to publish status snapshot")
	}
}

// ErrLWTNotConfigured is returned when LWT control is selected without the
// LWT entities configured.
var ErrLWTNotConfigured = errors.New("lwt control is not configured")

// SetAlgorithm switches the active control algorithm, persists the choice,
// and runs an immediate tick. Leaving LWT mode restores the saved room
// setpoints before the tick.
func (l *Loop) SetAlgorithm(algorithm model.ControlAlgorithm) error {
	l.mu.Lock()

	if algorithm == l.algorithm {
		l.mu.Unlock()
		return nil
	}
	if algorithm == model.AlgorithmLWTControl && l.opts.LWT == nil {
		log.Warn().Msg("Rejecting LWT control selection: not configured")
		l.mu.Unlock()
		return ErrLWTNotConfigured
	}

	log.Info().
		Str("from", string(l.algorithm)).
		Str("to", string(algorithm)).
		Msg("Control algorithm changed")

	if l.algorithm == model.AlgorithmLWTControl && l.opts.LWT != nil {
		l.opts.LWT.Deactivate(l.opts.Rooms)
	}
	l.algorithm = algorithm

	if l.opts.Settings != nil {
		if err := l.opts.Settings.SaveAlgorithm(algorithm); err != nil {
			log.Warn().Err(err).Msg("Failed to persist algorithm selection")
		}
	}

	l.tick()
	l.mu.Unlock()
	return nil
}

// Pause pauses heating for the given number of minutes and runs an
// immediate tick so the pause takes effect right away.
func (l *Loop) Pause(minutes float64) {
	l.mu.Lock()
	l.opts.HVAC.SetPause(minutes)
	l.tick()
	l.mu.Unlock()
}

// Algorithm returns the active control algorithm.
func (l *Loop) Algorithm() model.ControlAlgorithm {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.algorithm
}

// Status returns the snapshot computed by the most recent tick.
func (l *Loop) Status() model.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
