// Package metadata provides structured parsing and validation for event
// metadata JSON. Event metadata carries delivery context like correlation
// and causation ids, origin, and free-form tags alongside the opaque payload.
package metadata

import (
	"encoding/json"
	"fmt"
)

// EventMetadata defines the standard structure for event metadata JSON.
// All fields are optional; unknown fields are preserved nowhere — callers
// needing extra context should use Tags.
type EventMetadata struct {
	CorrelationID string   `json:"correlation_id,omitempty"` // Groups events of one logical operation
	CausationID   string   `json:"causation_id,omitempty"`   // The event id that caused this event
	Origin        string   `json:"origin,omitempty"`         // Producing component (e.g. "connection-manager")
	UserID        string   `json:"user_id,omitempty"`        // Acting user, if any
	Tags          []string `json:"tags,omitempty"`           // Free-form tags for filtering
}

// Parse parses a JSON document into EventMetadata. An empty document yields
// empty metadata rather than an error.
func Parse(raw json.RawMessage) (*EventMetadata, error) {
	if len(raw) == 0 {
		return &EventMetadata{}, nil
	}

	var meta EventMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse event metadata JSON: %w", err)
	}

	return &meta, nil
}

// JSON serializes metadata back to a JSON document. Empty metadata
// serializes to nil so it is omitted from stored events.
func (m *EventMetadata) JSON() json.RawMessage {
	if m.IsEmpty() {
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	return data
}

// IsEmpty checks if metadata has any non-zero values.
func (m *EventMetadata) IsEmpty() bool {
	return m.CorrelationID == "" &&
		m.CausationID == "" &&
		m.Origin == "" &&
		m.UserID == "" &&
		len(m.Tags) == 0
}

// Validate validates metadata fields and returns error if invalid.
// Validation rules:
// - correlation_id / causation_id: max 128 characters
// - origin: max 64 characters
// - tags: max 10 tags, each tag max 50 characters, no empty tags
func (m *EventMetadata) Validate() error {
	if len(m.CorrelationID) > 128 {
		return fmt.Errorf("correlation_id too long: max 128 characters, got %d", len(m.CorrelationID))
	}
	if len(m.CausationID) > 128 {
		return fmt.Errorf("causation_id too long: max 128 characters, got %d", len(m.CausationID))
	}
	if len(m.Origin) > 64 {
		return fmt.Errorf("origin too long: max 64 characters, got %d", len(m.Origin))
	}

	if len(m.Tags) > 10 {
		return fmt.Errorf("too many tags: max 10 allowed, got %d", len(m.Tags))
	}
	for i, tag := range m.Tags {
		if len(tag) > 50 {
			return fmt.Errorf("tag[%d] too long: max 50 characters, got %d", i, len(tag))
		}
		if tag == "" {
			return fmt.Errorf("tag[%d] is empty", i)
		}
	}

	return nil
}
