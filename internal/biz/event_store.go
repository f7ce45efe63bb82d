package biz

import (
	"context"
	"fmt"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

// EventStoreRepo defines the persistence contract for the event store.
// Implementations must guarantee atomic multi-event appends: either every
// event of a batch becomes visible, or none does.
type EventStoreRepo interface {
	// Append writes a batch of events to a stream. When expectedVersion is
	// non-nil it is compared against the stream's current version before any
	// write; a mismatch returns a version conflict without side effects.
	// Returns the stream version after the append.
	Append(ctx context.Context, streamID string, events []*model.Event, expectedVersion *uint64) (uint64, error)

	// GetEvents returns the events of a stream in ascending version order.
	// fromVersion filters to events with version >= fromVersion; 0 (or 1)
	// returns the full stream. A stream with no events, including one that
	// was never appended to, returns an empty list, not an error.
	GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]*model.Event, error)

	// GetEventsByType returns events of the given type, ordered by timestamp.
	GetEventsByType(ctx context.Context, eventType string, fromTime time.Time) ([]*model.Event, error)

	// GetEventsByAggregateType returns events across all streams of one
	// aggregate type, ordered by timestamp.
	GetEventsByAggregateType(ctx context.Context, aggregateType string, fromTime time.Time) ([]*model.Event, error)

	// StreamVersion returns the current version of a stream, 0 if absent.
	StreamVersion(ctx context.Context, streamID string) (uint64, error)

	// StreamExists reports whether the stream has at least one event.
	StreamExists(ctx context.Context, streamID string) (bool, error)

	// SaveSnapshot overwrites the snapshot for the snapshot's aggregate.
	SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// GetSnapshot returns the snapshot for an aggregate, or (nil, nil) when
	// none exists or the read fails (snapshots are an optimization).
	GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (*model.Snapshot, error)

	// DeleteStream removes a stream's log, version counter, event bodies,
	// index entries and snapshot. Deleting a missing stream is a no-op.
	DeleteStream(ctx context.Context, streamID string) error

	// Cleanup removes index entries and snapshots older than the cutoff.
	// Stream logs and version counters are never touched.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotFunc is invoked asynchronously when a stream crosses a snapshot
// boundary. Implementations rebuild aggregate state and call SaveSnapshot.
type SnapshotFunc func(ctx context.Context, streamID string, version uint64)

// EventStoreUsecase implements event sourcing business logic on top of
// EventStoreRepo: metadata validation, snapshot scheduling and aggregate
// rehydration.
type EventStoreUsecase struct {
	repo       EventStoreRepo
	conf       *conf.EventStore
	snapshotFn SnapshotFunc
	logger     *log.Helper
}

// NewEventStoreUsecase creates a new event store use case.
func NewEventStoreUsecase(repo EventStoreRepo, c *conf.EventStore, logger log.Logger) *EventStoreUsecase {
	return &EventStoreUsecase{
		repo:   repo,
		conf:   c,
		logger: log.NewHelper(logger),
	}
}

// SetSnapshotter registers the callback invoked when a stream version
// crosses a multiple of the configured snapshot frequency. Must be called
// before Append; a nil snapshotter disables snapshot scheduling.
func (uc *EventStoreUsecase) SetSnapshotter(fn SnapshotFunc) {
	uc.snapshotFn = fn
}

// Append validates and persists a batch of events, then schedules a snapshot
// if the new stream version crossed a snapshot boundary. The snapshot runs in
// a fire-and-forget goroutine; its failure never affects the append.
func (uc *EventStoreUsecase) Append(ctx context.Context, streamID string, events []*model.Event, expectedVersion *uint64) (uint64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("append to stream %s: empty event batch", streamID)
	}

	for _, ev := range events {
		if ev.Type == "" {
			return 0, fmt.Errorf("append to stream %s: event %s has empty type", streamID, ev.ID)
		}
		if len(ev.Metadata) > 0 {
			md, err := metadata.Parse(ev.Metadata)
			if err != nil {
				return 0, fmt.Errorf("append to stream %s: invalid metadata on event %s: %w", streamID, ev.ID, err)
			}
			if err := md.Validate(); err != nil {
				return 0, fmt.Errorf("append to stream %s: invalid metadata on event %s: %w", streamID, ev.ID, err)
			}
		}
	}

	newVersion, err := uc.repo.Append(ctx, streamID, events, expectedVersion)
	if err != nil {
		return 0, err
	}

	uc.logger.Debugw("msg", "events appended",
		"stream_id", streamID,
		"count", len(events),
		"version", newVersion,
		"type", "eventstore")

	uc.maybeScheduleSnapshot(streamID, newVersion, uint64(len(events)))

	return newVersion, nil
}

// maybeScheduleSnapshot fires the snapshot callback when the append crossed a
// snapshot boundary. A batch can cross the boundary without landing exactly
// on it, so the whole covered range is checked.
func (uc *EventStoreUsecase) maybeScheduleSnapshot(streamID string, newVersion, appended uint64) {
	if uc.snapshotFn == nil || uc.conf == nil || uc.conf.SnapshotFrequency <= 0 {
		return
	}

	freq := uint64(uc.conf.SnapshotFrequency)
	firstVersion := newVersion - appended + 1
	crossed := (newVersion / freq) > ((firstVersion - 1) / freq)
	if !crossed {
		return
	}

	go func() {
		// Detached from the request context: the append already succeeded.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				uc.logger.Errorw("msg", "snapshot callback panicked",
					"stream_id", streamID,
					"version", newVersion,
					"panic", fmt.Sprintf("%v", r),
					"type", "eventstore")
			}
		}()

		uc.snapshotFn(ctx, streamID, newVersion)
	}()
}

// GetEvents returns a stream's events in ascending version order, optionally
// starting from a given version.
func (uc *EventStoreUsecase) GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]*model.Event, error) {
	return uc.repo.GetEvents(ctx, streamID, fromVersion)
}

// GetEventsByType returns events of one type recorded at or after fromTime.
func (uc *EventStoreUsecase) GetEventsByType(ctx context.Context, eventType string, fromTime time.Time) ([]*model.Event, error) {
	return uc.repo.GetEventsByType(ctx, eventType, fromTime)
}

// GetEventsByAggregateType returns events across all streams of one aggregate
// type recorded at or after fromTime.
func (uc *EventStoreUsecase) GetEventsByAggregateType(ctx context.Context, aggregateType string, fromTime time.Time) ([]*model.Event, error) {
	return uc.repo.GetEventsByAggregateType(ctx, aggregateType, fromTime)
}

// StreamVersion returns the current version of a stream, 0 if absent.
func (uc *EventStoreUsecase) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	return uc.repo.StreamVersion(ctx, streamID)
}

// SaveSnapshot persists an aggregate snapshot, overwriting any previous one.
func (uc *EventStoreUsecase) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" || snapshot.AggregateType == "" {
		return fmt.Errorf("save snapshot: aggregate type and id are required")
	}
	return uc.repo.SaveSnapshot(ctx, snapshot)
}

// GetSnapshot returns the latest snapshot for an aggregate, or nil when none
// exists. Snapshot read failures are non-fatal and surface as (nil, nil).
func (uc *EventStoreUsecase) GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (*model.Snapshot, error) {
	return uc.repo.GetSnapshot(ctx, aggregateType, aggregateID)
}

// DeleteStream removes a stream and all associated data.
func (uc *EventStoreUsecase) DeleteStream(ctx context.Context, streamID string) error {
	if err := uc.repo.DeleteStream(ctx, streamID); err != nil {
		return err
	}
	uc.logger.Infow("msg", "stream deleted",
		"stream_id", streamID,
		"type", "eventstore")
	return nil
}

// Cleanup removes index entries and snapshots older than the retention
// window. Stream logs stay intact: the log remains the source of truth.
func (uc *EventStoreUsecase) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	removed, err := uc.repo.Cleanup(ctx, cutoff)
	if err != nil {
		uc.logger.Warnw("msg", "event store cleanup failed",
			"cutoff", cutoff.Format(time.RFC3339),
			"error", err.Error(),
			"type", "cleanup")
		return 0, err
	}

	uc.logger.Infow("msg", "event store cleanup completed",
		"cutoff", cutoff.Format(time.RFC3339),
		"removed", removed,
		"type", "cleanup")
	return removed, nil
}

// ApplyFunc folds one event into aggregate state during rehydration.
type ApplyFunc func(event *model.Event) error

// LoadAggregate rehydrates an aggregate: snapshot first (if any), then every
// event after the snapshot version applied in order. Returns the snapshot
// used (nil when replaying from scratch) and the version reached.
func (uc *EventStoreUsecase) LoadAggregate(ctx context.Context, aggregateType, aggregateID string, apply ApplyFunc) (*model.Snapshot, uint64, error) {
	streamID := model.StreamID(aggregateType, aggregateID)

	snapshot, err := uc.repo.GetSnapshot(ctx, aggregateType, aggregateID)
	if err != nil {
		// Snapshots are an optimization: fall back to full replay.
		uc.logger.Warnw("msg", "snapshot read failed, replaying full stream",
			"stream_id", streamID,
			"error", err.Error(),
			"type", "eventstore")
		snapshot = nil
	}

	fromVersion := uint64(1)
	version := uint64(0)
	if snapshot != nil {
		fromVersion = snapshot.Version + 1
		version = snapshot.Version
	}

	events, err := uc.repo.GetEvents(ctx, streamID, fromVersion)
	if err != nil {
		return nil, 0, err
	}

	for _, ev := range events {
		if err := apply(ev); err != nil {
			return snapshot, version, fmt.Errorf("apply event %s (version %d): %w", ev.ID, ev.Version, err)
		}
		version = ev.Version
	}

	return snapshot, version, nil
}
