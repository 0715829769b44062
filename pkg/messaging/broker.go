package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// TopicPatientsChanged carries a ChangeEvent whenever the patients table is written.
const TopicPatientsChanged = "patients.changed"

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers payloads until ctx is cancelled; the channel is then closed.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

// ChangeEvent describes a write to a table.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Operation string    `json:"operation"`
	ID        int64     `json:"id,omitempty"`
	Source    string    `json:"source,omitempty"`
	At        time.Time `json:"at"`
}

// PublishChange encodes and publishes a change event.
func PublishChange(ctx context.Context, b Broker, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Publish(ctx, TopicPatientsChanged, payload)
}

// DecodeChange parses a payload received on TopicPatientsChanged.
func DecodeChange(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
