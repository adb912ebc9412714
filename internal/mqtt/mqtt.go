// Package mqtt mirrors the controller's status snapshot to an MQTT broker
// for dashboards and the home-automation presentation layer.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// Topic carries the retained status snapshot, republished every tick.
const Topic = "home/heatpump/controller/status"

// Publisher publishes status snapshots to MQTT.
type Publisher interface {
	// PublishStatus sends a status snapshot to the broker.
	// Returns error if publishing fails (must not crash the process).
	PublishStatus(status model.Status) error

	// Close disconnects from the broker.
	Close() error
}

// FormatPayload creates the JSON payload for a status snapshot.
func FormatPayload(status model.Status) ([]byte, error) {
	payload := struct {
		Timestamp string       `json:"timestamp"`
		Status    model.Status `json:"status"`
	}{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal status payload: %w", err)
	}
	return data, nil
}
