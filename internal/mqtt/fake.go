package mqtt

import (
	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// FakePublisher records published snapshots for test assertions.
type FakePublisher struct {
	// Statuses contains all snapshots that were published.
	Statuses []model.Status

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// PublishError, if set, will be returned by PublishStatus.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishStatus records the snapshot.
func (f *FakePublisher) PublishStatus(status model.Status) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Statuses = append(f.Statuses, status)

	payload, err := FormatPayload(status)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded snapshots.
func (f *FakePublisher) Reset() {
	f.Statuses = nil
	f.Payloads = nil
	f.PublishError = nil
	f.Closed = false
}
