package biz

import (
	"context"

	"RelayLane/internal/model"
)

// AlertSink receives circuit breaker lifecycle notifications. Absence of a
// functional sink never affects correctness; delivery is best-effort.
type AlertSink interface {
	// NotifyBreakerTripped is called when a circuit breaker opens.
	NotifyBreakerTripped(ctx context.Context, event *model.BreakerTrippedEvent) error

	// NotifyBreakerRecovered is called when a circuit breaker closes after
	// a successful half-open probe sequence.
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error
}
