package model

import (
	"encoding/json"
	"time"
)

// Event is the unit of the event store: one state change belonging to
// exactly one stream, ordered by version. Within a stream, versions are
// contiguous and strictly increasing starting at 1.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       uint64          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// StreamID returns the stream a pair of aggregate type and id maps to.
func StreamID(aggregateType, aggregateID string) string {
	return aggregateType + "-" + aggregateID
}

// Snapshot is a cached materialized aggregate state at a given version. At
// most one live snapshot exists per aggregate; snapshots are a performance
// optimization, never the source of truth.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       uint64          `json:"version"`
	State         json.RawMessage `json:"state"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Session is the durable record of a logical client session, persisted so a
// restarted process can resume sessions across crashes. The credential is
// encrypted at rest.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Credential  string    `json:"credential"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// BreakerTrippedEvent is emitted to the alert sink when a circuit breaker opens.
type BreakerTrippedEvent struct {
	Name      string
	Reason    string
	TrippedAt time.Time
}

// BreakerRecoveredEvent is emitted to the alert sink when a circuit breaker
// closes after a successful half-open probe sequence.
type BreakerRecoveredEvent struct {
	Name        string
	RecoveredAt time.Time
}
