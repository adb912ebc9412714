// Package outdoortemp matches the outdoor temperature against an ordered
// table of threshold overrides and rate-limits how often the active
// override may switch.
package outdoortemp

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
	"github.com/thatsimonsguy/heatpump-controller/internal/rooms"
)

// DefaultSwitchDelay is the minimum time between switches from one active
// mapping to another. Switching near a boundary would otherwise flip the
// effective thresholds every tick.
const DefaultSwitchDelay = time.Hour

type Manager struct {
	reader   *rooms.Reader
	primary  string
	fallback string
	mappings []model.ThresholdMapping

	baseBeforeHeat float64
	baseBeforeOff  float64
	switchDelay    time.Duration

	outdoorTemp *float64
	active      *model.ThresholdMapping
	lastChange  *time.Time

	now func() time.Time
}

func New(
	reader *rooms.Reader,
	primary, fallback string,
	mappings []model.ThresholdMapping,
	baseBeforeHeat, baseBeforeOff float64,
	switchDelay time.Duration,
) *Manager {
	if switchDelay <= 0 {
		switchDelay = DefaultSwitchDelay
	}
	return &Manager{
		reader:         reader,
		primary:        primary,
		fallback:       fallback,
		mappings:       mappings,
		baseBeforeHeat: baseBeforeHeat,
		baseBeforeOff:  baseBeforeOff,
		switchDelay:    switchDelay,
		now:            time.Now,
	}
}

// MatchOutdoorThreshold re-reads the outdoor temperature and updates the
// active mapping. First structural match wins. A switch between two active
// mappings is suppressed until the switch delay has elapsed since the last
// change; engaging from no active mapping bypasses the limiter.
func (m *Manager) MatchOutdoorThreshold() {
	temp, ok := m.reader.ReadOutdoorTemperature(m.primary, m.fallback)
	if !ok {
		m.outdoorTemp = nil
		if m.active != nil {
			log.Debug().Msg("Clearing active outdoor mapping (outdoor temp unavailable)")
			m.active = nil
			m.lastChange = nil
		}
		return
	}
	m.outdoorTemp = &temp

	for _, mapping := range m.mappings {
		if !mapping.Matches(temp) {
			continue
		}

		if m.active != nil && mapping.Equal(*m.active) {
			return
		}

		if m.active != nil && m.lastChange != nil {
			elapsed := m.now().Sub(*m.lastChange)
			if elapsed < m.switchDelay {
				log.Debug().
					Float64("outdoor_temp", temp).
					Float64("candidate_before_heat", mapping.ThresholdBeforeHeat).
					Float64("candidate_before_off", mapping.ThresholdBeforeOff).
					Dur("since_last_change", elapsed).
					Dur("required_delay", m.switchDelay).
					Msg("Suppressing outdoor mapping switch due to rate limit")
				return
			}
		}

		now := m.now()
		committed := mapping
		m.active = &committed
		m.lastChange = &now
		log.Info().
			Float64("outdoor_temp", temp).
			Str("mapping", mapping.JSON()).
			Msg("Applying outdoor threshold override")
		return
	}

	if m.active != nil {
		log.Debug().Msg("Clearing active outdoor mapping (no mapping matched)")
		m.active = nil
		m.lastChange = nil
	}
}

// ActiveMapping returns the currently active override, or nil.
func (m *Manager) ActiveMapping() *model.ThresholdMapping {
	return m.active
}

// OutdoorTemp returns the last successfully read outdoor temperature.
func (m *Manager) OutdoorTemp() *float64 {
	return m.outdoorTemp
}

// ThresholdBeforeHeat returns the effective heat-on threshold: the active
// override when present, the base value otherwise.
func (m *Manager) ThresholdBeforeHeat() float64 {
	if m.active != nil {
		return m.active.ThresholdBeforeHeat
	}
	return m.baseBeforeHeat
}

// ThresholdBeforeOff returns the effective heat-off threshold.
func (m *Manager) ThresholdBeforeOff() float64 {
	if m.active != nil {
		return m.active.ThresholdBeforeOff
	}
	return m.baseBeforeOff
}
