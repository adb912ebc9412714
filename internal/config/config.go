package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// OutdoorConfig enables threshold overrides driven by outdoor temperature.
type OutdoorConfig struct {
	Sensor                    string                   `json:"sensor"`
	FallbackSensor            string                   `json:"fallback_sensor"`
	Thresholds                []model.ThresholdMapping `json:"thresholds"`
	MappingSwitchDelayMinutes int                      `json:"mapping_switch_delay_minutes"`
}

// LWTConfig enables leaving-water-temperature control mode.
type LWTConfig struct {
	DeviationEntity             string  `json:"deviation_entity"`
	ActualSensor                string  `json:"actual_sensor"`
	SetpointSensor              string  `json:"setpoint_sensor"`
	MaxRoomSetpoint             float64 `json:"max_room_setpoint"`
	DeviationMin                float64 `json:"deviation_min"`
	DeviationMax                float64 `json:"deviation_max"`
	MinOffTimeMinutes           int     `json:"min_off_time_minutes"`
	OvercapacityThreshold       float64 `json:"overcapacity_threshold"`
	OvercapacityDurationMinutes int     `json:"overcapacity_duration_minutes"`
	OvercapacityTurnsOff        bool    `json:"overcapacity_turns_off"`
}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level

	HassURL   string `json:"hass_url"`
	HassToken string `json:"hass_token"`

	Rooms       []model.RoomConfig `json:"rooms"`
	OnOffSwitch string             `json:"on_off_switch"`

	ThresholdBeforeHeat    float64 `json:"threshold_before_heat"`
	ThresholdBeforeOff     float64 `json:"threshold_before_off"`
	ThresholdRoomNeedsHeat float64 `json:"threshold_room_needs_heat"`

	Outdoor *OutdoorConfig `json:"outdoor,omitempty"`
	LWT     *LWTConfig     `json:"lwt,omitempty"`

	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	DatabasePath        string `json:"database_path"`
	APIPort             int    `json:"api_port"`
	MQTTBroker          string `json:"mqtt_broker"`
	NtfyTopic           string `json:"ntfy_topic"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 30
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/heatpump-controller.db"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.Outdoor != nil && cfg.Outdoor.MappingSwitchDelayMinutes == 0 {
		cfg.Outdoor.MappingSwitchDelayMinutes = 60
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "heatpump."
	}
	if cfg.DDAgentAddr == "" {
		cfg.DDAgentAddr = "127.0.0.1:8125"
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.HassURL == "" {
		problems = append(problems, "hass_url is required")
	}
	if cfg.HassToken == "" {
		problems = append(problems, "hass_token is required")
	}
	if len(cfg.Rooms) == 0 {
		problems = append(problems, "at least one room is required")
	}
	for i, room := range cfg.Rooms {
		if room.Sensor == "" {
			problems = append(problems, fmt.Sprintf("rooms[%d].sensor is required", i))
		}
		if room.Weight < 0 {
			problems = append(problems, fmt.Sprintf("rooms[%d].weight must not be negative", i))
		}
	}
	if cfg.ThresholdBeforeOff > cfg.ThresholdBeforeHeat {
		problems = append(problems, "threshold_before_off must not exceed threshold_before_heat")
	}

	if cfg.Outdoor != nil {
		if cfg.Outdoor.Sensor == "" {
			problems = append(problems, "outdoor.sensor is required when outdoor is configured")
		}
		for i, mapping := range cfg.Outdoor.Thresholds {
			if mapping.MinTemp != nil && mapping.MaxTemp != nil && *mapping.MinTemp >= *mapping.MaxTemp {
				problems = append(problems, fmt.Sprintf("outdoor.thresholds[%d]: min_temp must be below max_temp", i))
			}
			if mapping.ThresholdBeforeOff > mapping.ThresholdBeforeHeat {
				problems = append(problems, fmt.Sprintf("outdoor.thresholds[%d]: threshold_before_off must not exceed threshold_before_heat", i))
			}
		}
	}

	if cfg.LWT != nil {
		if cfg.LWT.DeviationEntity == "" || cfg.LWT.ActualSensor == "" || cfg.LWT.SetpointSensor == "" {
			problems = append(problems, "lwt requires deviation_entity, actual_sensor and setpoint_sensor")
		}
		if cfg.LWT.DeviationMin >= cfg.LWT.DeviationMax {
			problems = append(problems, "lwt.deviation_min must be below lwt.deviation_max")
		}
		if cfg.LWT.MaxRoomSetpoint <= 0 {
			problems = append(problems, "lwt.max_room_setpoint must be positive")
		}
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
