package controlloop

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/hvaccontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/lwtcontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/outdoortemp"
	"github.com/thatsimonsguy/heatpump-controller/internal/hass"
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
	"github.com/thatsimonsguy/heatpump-controller/internal/mqtt"
	"github.com/thatsimonsguy/heatpump-controller/internal/rooms"
)

type fakeSettings struct {
	saved []model.ControlAlgorithm
}

func (f *fakeSettings) SaveAlgorithm(algorithm model.ControlAlgorithm) error {
	f.saved = append(f.saved, algorithm)
	return nil
}

func ptr(f float64) *float64 { return &f }

func testLoop(fake *hass.Fake, initial model.ControlAlgorithm) (*Loop, *mqtt.FakePublisher, *fakeSettings) {
	roomConfigs := []model.RoomConfig{
		{Sensor: "climate.living_room", Weight: 1.0},
		{Sensor: "climate.bedroom", Weight: 1.5},
	}

	mappings := []model.ThresholdMapping{
		{MinTemp: ptr(-10), MaxTemp: ptr(5), ThresholdBeforeHeat: 0.03, ThresholdBeforeOff: 0.003},
		{MinTemp: ptr(5), MaxTemp: ptr(15), ThresholdBeforeHeat: 0.07, ThresholdBeforeOff: 0.007},
	}

	publisher := mqtt.NewFakePublisher()
	settings := &fakeSettings{}

	loop := New(Options{
		Rooms:          roomConfigs,
		OnOffSwitch:    "switch.heatpump",
		BaseBeforeHeat: 0.07,
		BaseBeforeOff:  0.007,
		PollInterval:   30 * time.Second,

		LWTTurnsOffOnOvercapacity: true,

		States:  fake,
		Actions: fake,

		HVAC:    hvaccontroller.New(0.07, 0.007, 1.0),
		Outdoor: outdoortemp.New(rooms.NewReader(fake), "sensor.outdoor", "", mappings, 0.07, 0.007, time.Hour),
		LWT: lwtcontroller.New(lwtcontroller.Config{
			DeviationEntity:       "number.lwt_deviation",
			ActualSensor:          "sensor.lwt_actual",
			SetpointSensor:        "sensor.lwt_setpoint",
			MaxRoomSetpoint:       28.0,
			DeviationMin:          -10.0,
			DeviationMax:          10.0,
			MinOffTime:            30 * time.Minute,
			OvercapacityThreshold: 3.0,
			OvercapacityDuration:  10 * time.Minute,
		}, fake, fake),

		Settings:  settings,
		Publisher: publisher,
	}, initial)

	return loop, publisher, settings
}

func setRooms(fake *hass.Fake, living, bedroom, target float64) {
	fake.SetState("climate.living_room", formatTemp(living), map[string]any{rooms.TargetAttribute: target})
	fake.SetState("climate.bedroom", formatTemp(bedroom), map[string]any{rooms.TargetAttribute: target})
}

// formatTemp renders a temperature the way entity state values arrive,
// as a decimal string.
func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestTickTurnsSwitchOnWhenDemandHigh(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "off", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmWeightedAverage)
	loop.Tick()

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "switch", fake.Calls[0].Domain)
	assert.Equal(t, "turn_on", fake.Calls[0].Action)
	assert.Equal(t, "switch.heatpump", fake.Calls[0].Payload["entity_id"])

	require.Len(t, publisher.Statuses, 1)
	status := publisher.Statuses[0]
	assert.Equal(t, model.ModeHeat, status.HVACMode)
	assert.InDelta(t, 20.0, status.CurrentTemp, 1e-9)
	assert.InDelta(t, 1.0, status.AvgNeededTemp, 1e-9)
	assert.Equal(t, 2, status.RoomsBelowTarget)
	assert.True(t, status.AnyRoomNeedsHeat)
}

func TestTickEdgeTriggeredSwitch(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "on", nil)

	loop, _, _ := testLoop(fake, model.AlgorithmWeightedAverage)
	loop.Tick()

	// Mode is HEAT and the switch is already on: no call expected.
	assert.Empty(t, fake.Calls)
}

func TestTickManualSkipsActuation(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "off", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmManual)
	loop.Tick()

	assert.Empty(t, fake.Calls)

	// The decision state still updates for display.
	require.Len(t, publisher.Statuses, 1)
	assert.Equal(t, model.ModeHeat, publisher.Statuses[0].HVACMode)
}

func TestTickOutdoorAlgorithmAppliesOverride(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 21.4, 21.4, 21.45)
	fake.SetState("switch.heatpump", "off", nil)
	fake.SetState("sensor.outdoor", "0", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmWeightedAverageOutdoorTemp)
	loop.Tick()

	// avg_needed 0.05 is under the base 0.07 but over the cold-weather 0.03.
	require.Len(t, publisher.Statuses, 1)
	status := publisher.Statuses[0]
	assert.Equal(t, model.ModeHeat, status.HVACMode)
	assert.InDelta(t, 0.03, status.ThresholdBeforeHeat, 1e-9)
	require.NotNil(t, status.OutdoorTemp)
	assert.InDelta(t, 0.0, *status.OutdoorTemp, 1e-9)
	assert.Contains(t, status.ActiveOutdoorMapping, "\"min_temp\":-10")
}

func TestTickLWTMode(t *testing.T) {
	fake := hass.NewFake()
	fake.SetState("climate.living_room", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 21.0})
	fake.SetState("climate.bedroom", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 20.5})
	fake.SetState("switch.heatpump", "off", nil)
	fake.SetState("sensor.lwt_actual", "35.0", nil)
	fake.SetState("sensor.lwt_setpoint", "35.0", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmLWTControl)
	loop.Tick()

	// Setpoints forced open, deviation set, switch turned on.
	var domains []string
	for _, call := range fake.Calls {
		domains = append(domains, call.Domain+"/"+call.Action)
	}
	assert.Equal(t, []string{
		"climate/set_temperature",
		"climate/set_temperature",
		"number/set_value",
		"switch/turn_on",
	}, domains)

	require.Len(t, publisher.Statuses, 1)
	status := publisher.Statuses[0]
	require.NotNil(t, status.LWT)
	assert.True(t, status.LWT.Active)
	assert.InDelta(t, 10.0, status.LWT.Deviation, 1e-9) // full-scale demand
	assert.False(t, status.LWT.Overcapacity)
}

func TestTickLWTSkipsOnSensorDropout(t *testing.T) {
	fake := hass.NewFake()
	fake.SetState("climate.living_room", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 21.0})
	fake.SetState("climate.bedroom", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 20.5})
	fake.SetState("switch.heatpump", "off", nil)
	fake.SetState("sensor.lwt_actual", "35.0", nil)
	fake.SetState("sensor.lwt_setpoint", "35.0", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmLWTControl)
	loop.Tick()
	require.Len(t, publisher.Statuses, 1)
	require.NotNil(t, publisher.Statuses[0].LWT)
	deviation := publisher.Statuses[0].LWT.Deviation

	// All room sensors drop out. The tick must not feed the zero-valued
	// aggregates into the trend history or the deviation entity.
	fake.Reset()
	fake.RemoveState("climate.living_room")
	fake.RemoveState("climate.bedroom")
	loop.Tick()

	assert.Empty(t, fake.Calls)
	require.Len(t, publisher.Statuses, 2)
	require.NotNil(t, publisher.Statuses[1].LWT)
	assert.InDelta(t, deviation, publisher.Statuses[1].LWT.Deviation, 1e-9)
}

func TestSetAlgorithmRejectsLWTWhenUnconfigured(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "off", nil)

	settings := &fakeSettings{}
	loop := New(Options{
		Rooms: []model.RoomConfig{
			{Sensor: "climate.living_room", Weight: 1.0},
			{Sensor: "climate.bedroom", Weight: 1.5},
		},
		OnOffSwitch:    "switch.heatpump",
		BaseBeforeHeat: 0.07,
		BaseBeforeOff:  0.007,
		PollInterval:   30 * time.Second,
		States:         fake,
		Actions:        fake,
		HVAC:           hvaccontroller.New(0.07, 0.007, 1.0),
		Outdoor:        outdoortemp.New(rooms.NewReader(fake), "", "", nil, 0.07, 0.007, time.Hour),
		Settings:       settings,
	}, model.AlgorithmManual)

	err := loop.SetAlgorithm(model.AlgorithmLWTControl)

	assert.ErrorIs(t, err, ErrLWTNotConfigured)
	assert.Equal(t, model.AlgorithmManual, loop.Algorithm())
	assert.Empty(t, settings.saved)
}

func TestPauseForcesOffImmediately(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "on", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmWeightedAverage)
	loop.Pause(30)

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "turn_off", fake.Calls[0].Action)

	require.Len(t, publisher.Statuses, 1)
	status := publisher.Statuses[0]
	assert.True(t, status.Paused)
	require.NotNil(t, status.PauseUntil)
	assert.Equal(t, model.ModeOff, status.HVACMode)
}

func TestSetAlgorithmPersistsAndTicks(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)
	fake.SetState("switch.heatpump", "off", nil)

	loop, publisher, settings := testLoop(fake, model.AlgorithmManual)
	loop.SetAlgorithm(model.AlgorithmWeightedAverage)

	assert.Equal(t, []model.ControlAlgorithm{model.AlgorithmWeightedAverage}, settings.saved)
	assert.Equal(t, model.AlgorithmWeightedAverage, loop.Algorithm())

	// The change triggered an immediate tick that actuated the switch.
	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "turn_on", fake.Calls[0].Action)
	require.Len(t, publisher.Statuses, 1)
	assert.Equal(t, "weighted_average", publisher.Statuses[0].Algorithm)
}

func TestSetAlgorithmNoOpWhenUnchanged(t *testing.T) {
	fake := hass.NewFake()
	setRooms(fake, 20.0, 20.0, 21.0)

	loop, publisher, settings := testLoop(fake, model.AlgorithmManual)
	loop.SetAlgorithm(model.AlgorithmManual)

	assert.Empty(t, settings.saved)
	assert.Empty(t, publisher.Statuses)
}

func TestLeavingLWTRestoresSetpoints(t *testing.T) {
	fake := hass.NewFake()
	fake.SetState("climate.living_room", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 21.0})
	fake.SetState("climate.bedroom", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 20.5})
	fake.SetState("switch.heatpump", "on", nil)
	fake.SetState("sensor.lwt_actual", "35.0", nil)
	fake.SetState("sensor.lwt_setpoint", "35.0", nil)

	loop, _, _ := testLoop(fake, model.AlgorithmLWTControl)
	loop.Tick()
	fake.Reset()
	fake.SetState("climate.living_room", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 28.0})
	fake.SetState("climate.bedroom", "20.0", map[string]any{rooms.TargetAttribute: 21.0, "temperature": 28.0})
	fake.SetState("switch.heatpump", "on", nil)

	loop.SetAlgorithm(model.AlgorithmWeightedAverage)

	// First two calls restore the saved setpoints.
	require.GreaterOrEqual(t, len(fake.Calls), 2)
	restored := map[string]float64{}
	for _, call := range fake.Calls[:2] {
		require.Equal(t, "set_temperature", call.Action)
		restored[call.Payload["entity_id"].(string)] = call.Payload["temperature"].(float64)
	}
	assert.Equal(t, map[string]float64{
		"climate.living_room": 21.0,
		"climate.bedroom":     20.5,
	}, restored)
}

func TestStatusRounding(t *testing.T) {
	fake := hass.NewFake()
	fake.SetState("climate.living_room", "20", map[string]any{rooms.TargetAttribute: 22.0})
	fake.SetState("climate.bedroom", "19", map[string]any{rooms.TargetAttribute: 21.0})
	fake.SetState("switch.heatpump", "off", nil)

	loop, publisher, _ := testLoop(fake, model.AlgorithmWeightedAverage)
	loop.Tick()

	require.Len(t, publisher.Statuses, 1)
	status := publisher.Statuses[0]
	// Weighted values surface rounded to 3 decimals.
	assert.InDelta(t, 19.4, status.CurrentTemp, 1e-9)
	assert.InDelta(t, 21.4, status.TargetTemp, 1e-9)
	assert.InDelta(t, 2.0, status.AvgNeededTemp, 1e-9)
}
