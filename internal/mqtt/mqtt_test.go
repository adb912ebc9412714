package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

func TestFormatPayload(t *testing.T) {
	status := model.Status{
		Algorithm:      "weighted_average",
		AlgorithmLabel: "Weighted Average",
		HVACMode:       model.ModeHeat,
		CurrentTemp:    19.857,
		TargetTemp:     21.571,
		AvgNeededTemp:  1.714,
	}

	payload, err := FormatPayload(status)
	require.NoError(t, err)

	var decoded struct {
		Timestamp string       `json:"timestamp"`
		Status    model.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.NotEmpty(t, decoded.Timestamp)
	assert.Equal(t, status, decoded.Status)
}

func TestFakePublisherRecords(t *testing.T) {
	fake := NewFakePublisher()

	require.NoError(t, fake.PublishStatus(model.Status{Algorithm: "manual"}))
	require.Len(t, fake.Statuses, 1)
	require.Len(t, fake.Payloads, 1)
	assert.Equal(t, "manual", fake.Statuses[0].Algorithm)

	fake.Reset()
	assert.Empty(t, fake.Statuses)
}
