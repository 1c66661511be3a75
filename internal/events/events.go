// Package events fans out per-form progress, stage and toast events to
// subscribers, in process or across instances through Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event types published for a form.
const (
	TypeProgress = "progress"
	TypeStage    = "stage"
	TypeToast    = "toast"
)

// Event is one message on a topic. Data is the JSON payload for Type.
type Event struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// New encodes data into an Event.
func New(topic, typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	return Event{Topic: topic, Type: typ, Data: raw}, nil
}

// Bus delivers events to subscribers of a topic. Delivery is best effort:
// a subscriber that falls behind loses events rather than stalling publishers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for topic. The channel is closed
	// once ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
	Close() error
}
