package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/pkg/breaker"
	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Redis key scheme for the event store. The stream log is the source of
// truth: a list whose index i holds the event at version i+1, so version
// lookups are indexed seeks, never scans.
const (
	streamKeyPrefix   = "es:stream:"   // list of JSON events, RPUSH order = version order
	versionKeyPrefix  = "es:version:"  // integer stream version, WATCHed for CAS
	eventKeyPrefix    = "es:event:"    // JSON event body by event id
	typeIndexPrefix   = "es:idx:type:" // sorted set, score = unix-milli timestamp
	aggIndexPrefix    = "es:idx:agg:"  // sorted set, score = unix-milli timestamp
	snapshotKeyPrefix = "es:snapshot:" // JSON snapshot per aggregate
)

func streamKey(streamID string) string   { return streamKeyPrefix + streamID }
func versionKey(streamID string) string  { return versionKeyPrefix + streamID }
func eventKey(eventID string) string     { return eventKeyPrefix + eventID }
func typeIndexKey(eventType string) string { return typeIndexPrefix + eventType }
func aggIndexKey(aggType string) string  { return aggIndexPrefix + aggType }
func snapshotKey(aggType, aggID string) string {
	return snapshotKeyPrefix + aggType + ":" + aggID
}

// EventStoreRepo implements the event store on Redis. Multi-event appends
// are atomic via WATCH on the stream's version key plus a transactional
// pipeline; concurrent appends to the same stream admit exactly one winner.
// Every operation runs through the "event-store" circuit breaker.
type EventStoreRepo struct {
	rdb     *redis.Client
	breaker *breaker.Breaker
	conf    *conf.EventStore
	logger  *log.Helper
}

// NewEventStoreRepo creates a new Redis-backed event store repository. The
// repository registers its circuit breaker with the shared registry so the
// admin surface can observe it.
func NewEventStoreRepo(d *Data, reg *breaker.Registry, bc *conf.Breaker, esc *conf.EventStore, sink *LogAlertSink, logger log.Logger) *EventStoreRepo {
	br := reg.GetOrCreate(eventStoreBreakerName, breakerConfig(bc),
		breaker.WithListener(newAlertListener(sink)))

	return &EventStoreRepo{
		rdb:     d.GetRedisClient(),
		breaker: br,
		conf:    esc,
		logger:  log.NewHelper(logger),
	}
}

func (r *EventStoreRepo) eventTTL() time.Duration {
	if r.conf == nil || r.conf.EventTtl == nil {
		return 0
	}
	return r.conf.EventTtl.AsDuration()
}

func (r *EventStoreRepo) indexTTL() time.Duration {
	if r.conf == nil || r.conf.IndexTtl == nil {
		return 0
	}
	return r.conf.IndexTtl.AsDuration()
}

func (r *EventStoreRepo) snapshotTTL() time.Duration {
	if r.conf == nil || r.conf.SnapshotTtl == nil {
		return 0
	}
	return r.conf.SnapshotTtl.AsDuration()
}

// Append writes a batch of events to a stream atomically. The version key is
// WATCHed: if a concurrent append commits first, the transaction aborts and
// the loser receives a version conflict, with no partial writes visible.
func (r *EventStoreRepo) Append(ctx context.Context, streamID string, events []*model.Event, expectedVersion *uint64) (uint64, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.append(ctx, streamID, events, expectedVersion)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (r *EventStoreRepo) append(ctx context.Context, streamID string, events []*model.Event, expectedVersion *uint64) (uint64, error) {
	verKey := versionKey(streamID)
	var newVersion uint64

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if expectedVersion != nil && *expectedVersion != current {
			return &pkgerrors.VersionConflictError{
				StreamID:        streamID,
				ExpectedVersion: *expectedVersion,
				CurrentVersion:  current,
			}
		}

		// Versions must continue the stream contiguously: current+1..current+N.
		for i, ev := range events {
			want := current + uint64(i) + 1
			if ev.Version != want {
				return fmt.Errorf("stream %s event %s: version %d, want %d: %w",
					streamID, ev.ID, ev.Version, want, pkgerrors.ErrInvalidVersionSequence)
			}
		}

		newVersion = current + uint64(len(events))
		eventTTL := r.eventTTL()
		indexTTL := r.indexTTL()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, ev := range events {
				body, merr := json.Marshal(ev)
				if merr != nil {
					return fmt.Errorf("marshal event %s: %w", ev.ID, merr)
				}

				score := float64(ev.Timestamp.UnixMilli())
				pipe.RPush(ctx, streamKey(streamID), body)
				pipe.Set(ctx, eventKey(ev.ID), body, eventTTL)
				pipe.ZAdd(ctx, typeIndexKey(ev.Type), redis.Z{Score: score, Member: ev.ID})
				pipe.ZAdd(ctx, aggIndexKey(ev.AggregateType), redis.Z{Score: score, Member: ev.ID})
				if indexTTL > 0 {
					pipe.Expire(ctx, typeIndexKey(ev.Type), indexTTL)
					pipe.Expire(ctx, aggIndexKey(ev.AggregateType), indexTTL)
				}
			}
			pipe.Set(ctx, verKey, newVersion, 0)
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txf, verKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Lost the optimistic-concurrency race: the version key moved while
		// the transaction was in flight.
		current, _ := r.rdb.Get(ctx, verKey).Uint64()
		conflict := &pkgerrors.VersionConflictError{
			StreamID:       streamID,
			CurrentVersion: current,
		}
		if expectedVersion != nil {
			conflict.ExpectedVersion = *expectedVersion
		}
		return 0, conflict
	}
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// GetEvents returns a stream's events in ascending version order. fromVersion
// maps directly to a list index (version v lives at index v-1), so reads
// resuming mid-stream skip the prefix instead of scanning it. Streams exist
// only implicitly through their events, so a stream nothing was ever appended
// to reads as empty, not as an error.
func (r *EventStoreRepo) GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]*model.Event, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		start := int64(0)
		if fromVersion > 1 {
			start = int64(fromVersion) - 1
		}

		raw, err := r.rdb.LRange(ctx, streamKey(streamID), start, -1).Result()
		if err != nil {
			return nil, err
		}

		events := make([]*model.Event, 0, len(raw))
		for _, body := range raw {
			var ev model.Event
			if err := json.Unmarshal([]byte(body), &ev); err != nil {
				return nil, fmt.Errorf("unmarshal event in stream %s: %w", streamID, err)
			}
			events = append(events, &ev)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*model.Event), nil
}

// GetEventsByType returns events of one type at or after fromTime, ordered
// by timestamp. Event ids whose bodies have expired are skipped.
func (r *EventStoreRepo) GetEventsByType(ctx context.Context, eventType string, fromTime time.Time) ([]*model.Event, error) {
	return r.getByIndex(ctx, typeIndexKey(eventType), fromTime)
}

// GetEventsByAggregateType returns events across all streams of one aggregate
// type at or after fromTime, ordered by timestamp.
func (r *EventStoreRepo) GetEventsByAggregateType(ctx context.Context, aggregateType string, fromTime time.Time) ([]*model.Event, error) {
	return r.getByIndex(ctx, aggIndexKey(aggregateType), fromTime)
}

func (r *EventStoreRepo) getByIndex(ctx context.Context, indexKey string, fromTime time.Time) ([]*model.Event, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		min := "-inf"
		if !fromTime.IsZero() {
			min = strconv.FormatInt(fromTime.UnixMilli(), 10)
		}

		ids, err := r.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
			Min: min,
			Max: "+inf",
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []*model.Event{}, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = eventKey(id)
		}

		bodies, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}

		events := make([]*model.Event, 0, len(bodies))
		for _, body := range bodies {
			s, ok := body.(string)
			if !ok {
				// Body expired while still indexed: the index entry is stale,
				// not an error. Cleanup reaps it later.
				continue
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(s), &ev); err != nil {
				return nil, fmt.Errorf("unmarshal indexed event: %w", err)
			}
			events = append(events, &ev)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*model.Event), nil
}

// StreamVersion returns the current version of a stream, 0 if absent.
func (r *EventStoreRepo) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		v, err := r.rdb.Get(ctx, versionKey(streamID)).Uint64()
		if errors.Is(err, redis.Nil) {
			return uint64(0), nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

// StreamExists reports whether the stream has at least one event.
func (r *EventStoreRepo) StreamExists(ctx context.Context, streamID string) (bool, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		n, err := r.rdb.Exists(ctx, streamKey(streamID)).Result()
		if err != nil {
			return nil, err
		}
		return n > 0, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// SaveSnapshot overwrites the aggregate's snapshot unconditionally
// (last write wins).
func (r *EventStoreRepo) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		body, merr := json.Marshal(snapshot)
		if merr != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", merr)
		}
		key := snapshotKey(snapshot.AggregateType, snapshot.AggregateID)
		return nil, r.rdb.Set(ctx, key, body, r.snapshotTTL()).Err()
	})
	return err
}

// GetSnapshot returns the aggregate's snapshot. Snapshots are a performance
// optimization: missing snapshot and read failure both yield (nil, nil) so
// callers fall back to full replay.
func (r *EventStoreRepo) GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (*model.Snapshot, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		body, err := r.rdb.Get(ctx, snapshotKey(aggregateType, aggregateID)).Result()
		if errors.Is(err, redis.Nil) {
			return (*model.Snapshot)(nil), nil
		}
		if err != nil {
			return nil, err
		}

		var snap model.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return &snap, nil
	})
	if err != nil {
		r.logger.Warnw("msg", "snapshot read failed",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"error", err.Error(),
			"type", "eventstore")
		return nil, nil
	}
	return res.(*model.Snapshot), nil
}

// DeleteStream removes the stream log, version counter, event bodies, index
// entries and snapshot. Deleting a missing stream is a no-op.
func (r *EventStoreRepo) DeleteStream(ctx context.Context, streamID string) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		raw, err := r.rdb.LRange(ctx, streamKey(streamID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			// Missing stream: nothing to delete.
			return nil, nil
		}

		events := make([]*model.Event, 0, len(raw))
		for _, body := range raw {
			var ev model.Event
			if err := json.Unmarshal([]byte(body), &ev); err != nil {
				return nil, fmt.Errorf("unmarshal event in stream %s: %w", streamID, err)
			}
			events = append(events, &ev)
		}

		_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, ev := range events {
				pipe.Del(ctx, eventKey(ev.ID))
				pipe.ZRem(ctx, typeIndexKey(ev.Type), ev.ID)
				pipe.ZRem(ctx, aggIndexKey(ev.AggregateType), ev.ID)
			}
			first := events[0]
			pipe.Del(ctx, snapshotKey(first.AggregateType, first.AggregateID))
			pipe.Del(ctx, streamKey(streamID))
			pipe.Del(ctx, versionKey(streamID))
			return nil
		})
		return nil, err
	})
	return err
}

// Cleanup removes index entries and snapshots older than the cutoff. Stream
// logs and version counters are never touched: the log is the source of
// truth, indexes and snapshots are rebuildable.
func (r *EventStoreRepo) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		cutoff := strconv.FormatInt(before.UnixMilli(), 10)
		var removed int64

		for _, prefix := range []string{typeIndexPrefix, aggIndexPrefix} {
			iter := r.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
			for iter.Next(ctx) {
				n, err := r.rdb.ZRemRangeByScore(ctx, iter.Val(), "-inf", "("+cutoff).Result()
				if err != nil {
					return nil, err
				}
				removed += n
			}
			if err := iter.Err(); err != nil {
				return nil, err
			}
		}

		iter := r.rdb.Scan(ctx, 0, snapshotKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			body, err := r.rdb.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}

			var snap model.Snapshot
			if err := json.Unmarshal([]byte(body), &snap); err != nil {
				// Unreadable snapshot is garbage either way.
				if derr := r.rdb.Del(ctx, key).Err(); derr != nil {
					return nil, derr
				}
				removed++
				continue
			}
			if snap.Timestamp.Before(before) {
				if err := r.rdb.Del(ctx, key).Err(); err != nil {
					return nil, err
				}
				removed++
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}

		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}
