package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire form shared by every bridge.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps ev with a fresh id.
func NewEnvelope(source string, ev Event) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return &Envelope{
		ID:        uuid.New(),
		EventType: ev.EventType(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}
