package data

import (
	"context"
	"time"

	"RelayLane/internal/model"
	"RelayLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// LogAlertSink delivers circuit breaker lifecycle notifications to the
// structured log. Webhook/pager delivery is a later phase; this sink keeps
// the notification path exercised so swapping the implementation is a
// wiring change, not a code change.
type LogAlertSink struct {
	logger *log.Helper
}

// NewLogAlertSink creates a log-backed alert sink.
func NewLogAlertSink(logger log.Logger) *LogAlertSink {
	return &LogAlertSink{
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerTripped logs a breaker trip at warning level.
func (s *LogAlertSink) NotifyBreakerTripped(_ context.Context, event *model.BreakerTrippedEvent) error {
	s.logger.Warnw("msg", "circuit breaker tripped",
		"breaker", event.Name,
		"reason", event.Reason,
		"tripped_at", event.TrippedAt.Format(time.RFC3339),
		"type", "breaker")
	return nil
}

// NotifyBreakerRecovered logs a breaker recovery at info level.
func (s *LogAlertSink) NotifyBreakerRecovered(_ context.Context, event *model.BreakerRecoveredEvent) error {
	s.logger.Infow("msg", "circuit breaker recovered",
		"breaker", event.Name,
		"recovered_at", event.RecoveredAt.Format(time.RFC3339),
		"type", "breaker")
	return nil
}

// alertListener adapts breaker lifecycle callbacks to the alert sink.
// Callbacks run on the breaker's caller goroutine with the lock released,
// so delivery must stay cheap; the sink call is bounded by a short timeout.
type alertListener struct {
	sink *LogAlertSink
}

func newAlertListener(sink *LogAlertSink) *alertListener {
	return &alertListener{sink: sink}
}

func (l *alertListener) OnStateChange(name string, from, to breaker.State, reason string) {
	if l.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case to == breaker.StateOpen:
		_ = l.sink.NotifyBreakerTripped(ctx, &model.BreakerTrippedEvent{
			Name:      name,
			Reason:    reason,
			TrippedAt: time.Now(),
		})
	case from == breaker.StateHalfOpen && to == breaker.StateClosed:
		_ = l.sink.NotifyBreakerRecovered(ctx, &model.BreakerRecoveredEvent{
			Name:        name,
			RecoveredAt: time.Now(),
		})
	}
}

func (l *alertListener) OnSuccess(string, time.Duration) {}

func (l *alertListener) OnFailure(string, error) {}

func (l *alertListener) OnRejected(string, time.Time) {}
