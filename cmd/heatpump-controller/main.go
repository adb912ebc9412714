package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/db"
	"github.com/thatsimonsguy/heatpump-controller/internal/api"
	"github.com/thatsimonsguy/heatpump-controller/internal/config"
	"github.com/thatsimonsguy/heatpump-controller/internal/controlloop"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/hvaccontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/lwtcontroller"
	"github.com/thatsimonsguy/heatpump-controller/internal/controllers/outdoortemp"
	"github.com/thatsimonsguy/heatpump-controller/internal/datadog"
	"github.com/thatsimonsguy/heatpump-controller/internal/env"
	"github.com/thatsimonsguy/heatpump-controller/internal/hass"
	"github.com/thatsimonsguy/heatpump-controller/internal/logging"
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
	"github.com/thatsimonsguy/heatpump-controller/internal/mqtt"
	"github.com/thatsimonsguy/heatpump-controller/internal/notifications"
	"github.com/thatsimonsguy/heatpump-controller/internal/rooms"
	"github.com/thatsimonsguy/heatpump-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Int("rooms", len(cfg.Rooms)).
		Msg("Starting heat pump controller")

	if cfg.EnableDatadog {
		datadog.InitMetrics()
	}
	if cfg.NtfyTopic != "" {
		notifications.Init()
	}

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open settings database")
	}
	shutdown.Register("database", func() { database.Close() })

	settings := db.NewSettings(database)
	algorithm, err := settings.GetLastAlgorithm()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore algorithm, starting in manual")
		algorithm = model.AlgorithmManual
	}
	log.Info().Str("algorithm", string(algorithm)).Msg("Restored control algorithm")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := hass.NewClient(cfg.HassURL, cfg.HassToken)
	go client.Run(ctx)
	shutdown.Register("home assistant client", func() { client.Close() })

	var publisher mqtt.Publisher
	if cfg.MQTTBroker != "" {
		real, err := mqtt.NewRealPublisher(cfg.MQTTBroker)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT broker unreachable, status mirroring disabled")
		} else {
			publisher = real
			shutdown.Register("mqtt publisher", func() { real.Close() })
		}
	}

	reader := rooms.NewReader(client)

	var outdoor *outdoortemp.Manager
	if cfg.Outdoor != nil {
		outdoor = outdoortemp.New(
			reader,
			cfg.Outdoor.Sensor,
			cfg.Outdoor.FallbackSensor,
			cfg.Outdoor.Thresholds,
			cfg.ThresholdBeforeHeat,
			cfg.ThresholdBeforeOff,
			time.Duration(cfg.Outdoor.MappingSwitchDelayMinutes)*time.Minute,
		)
	} else {
		outdoor = outdoortemp.New(reader, "", "", nil, cfg.ThresholdBeforeHeat, cfg.ThresholdBeforeOff, 0)
	}

	var lwt *lwtcontroller.Controller
	lwtTurnsOff := false
	if cfg.LWT != nil {
		lwt = lwtcontroller.New(lwtcontroller.Config{
			DeviationEntity:       cfg.LWT.DeviationEntity,
			ActualSensor:          cfg.LWT.ActualSensor,
			SetpointSensor:        cfg.LWT.SetpointSensor,
			MaxRoomSetpoint:       cfg.LWT.MaxRoomSetpoint,
			DeviationMin:          cfg.LWT.DeviationMin,
			DeviationMax:          cfg.LWT.DeviationMax,
			MinOffTime:            time.Duration(cfg.LWT.MinOffTimeMinutes) * time.Minute,
			OvercapacityThreshold: cfg.LWT.OvercapacityThreshold,
			OvercapacityDuration:  time.Duration(cfg.LWT.OvercapacityDurationMinutes) * time.Minute,
		}, client, client)
		lwtTurnsOff = cfg.LWT.OvercapacityTurnsOff
	} else if algorithm == model.AlgorithmLWTControl {
		log.Warn().Msg("LWT not configured, restored algorithm downgraded to manual")
		algorithm = model.AlgorithmManual
	}

	loop := controlloop.New(controlloop.Options{
		Rooms:          cfg.Rooms,
		OnOffSwitch:    cfg.OnOffSwitch,
		BaseBeforeHeat: cfg.ThresholdBeforeHeat,
		BaseBeforeOff:  cfg.ThresholdBeforeOff,
		PollInterval:   time.Duration(cfg.PollIntervalSeconds) * time.Second,

		LWTTurnsOffOnOvercapacity: lwtTurnsOff,

		States:  client,
		Actions: client,

		HVAC:    hvaccontroller.New(cfg.ThresholdBeforeHeat, cfg.ThresholdBeforeOff, cfg.ThresholdRoomNeedsHeat),
		Outdoor: outdoor,
		LWT:     lwt,

		Settings:  settings,
		Publisher: publisher,
	}, algorithm)
	go loop.Run(ctx)

	server := api.NewServer(loop)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Error().Err(err).Msg("API server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("Shutting down")
	cancel()
	shutdown.Shutdown()
}
