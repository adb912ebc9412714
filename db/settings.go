package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

const algorithmKey = "control_algorithm"

// Settings is the durable settings store backing the control loop's
// save-on-change / load-on-start persistence hooks.
type Settings struct {
	db *sql.DB
}

func NewSettings(db *sql.DB) *Settings {
	return &Settings{db: db}
}

// GetLastAlgorithm returns the persisted algorithm selection. A missing
// row or an unrecognized stored value yields manual.
func (s *Settings) GetLastAlgorithm() (model.ControlAlgorithm, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, algorithmKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AlgorithmManual, nil
	}
	if err != nil {
		return model.AlgorithmManual, fmt.Errorf("failed to get algorithm: %w", err)
	}

	algorithm := model.ParseAlgorithm(value)
	if string(algorithm) != value {
		log.Warn().Str("stored", value).Msg("Unknown stored algorithm, falling back to manual")
	}
	return algorithm, nil
}

// SaveAlgorithm persists the algorithm selection.
func (s *Settings) SaveAlgorithm(algorithm model.ControlAlgorithm) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		algorithmKey, string(algorithm), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save algorithm: %w", err)
	}
	return nil
}
