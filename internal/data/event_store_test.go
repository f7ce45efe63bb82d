package data

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	pkgerrors "RelayLane/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestEventStore(t *testing.T, esc *conf.EventStore) (*EventStoreRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := log.DefaultLogger
	reg := NewBreakerRegistry(logger)
	sink := NewLogAlertSink(logger)

	repo := NewEventStoreRepo(&Data{redisClient: rdb}, reg, nil, esc, sink, logger)
	return repo, mr
}

func makeEvent(eventType, aggType, aggID string, version uint64) *model.Event {
	payload, _ := json.Marshal(map[string]string{"note": "test"})
	return &model.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateID:   aggID,
		AggregateType: aggType,
		Version:       version,
		Timestamp:     time.Now(),
		Payload:       payload,
	}
}

func TestEventStore_AppendAndGetEvents(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	events := []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
		makeEvent("message.created", "conversation", "c1", 2),
		makeEvent("message.edited", "conversation", "c1", 3),
	}

	newVersion, err := repo.Append(ctx, streamID, events, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), newVersion)

	got, err := repo.GetEvents(ctx, streamID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Versions are contiguous 1..N in ascending order
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Version)
	}
	assert.Equal(t, events[0].ID, got[0].ID)
	assert.Equal(t, events[2].ID, got[2].ID)
}

func TestEventStore_GetEvents_FromVersion(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	var events []*model.Event
	for v := uint64(1); v <= 5; v++ {
		events = append(events, makeEvent("message.created", "conversation", "c1", v))
	}
	_, err := repo.Append(ctx, streamID, events, nil)
	require.NoError(t, err)

	got, err := repo.GetEvents(ctx, streamID, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Version)
	assert.Equal(t, uint64(5), got[1].Version)

	// fromVersion past the end of an existing stream is empty, not an error
	got, err = repo.GetEvents(ctx, streamID, 9)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventStore_GetEvents_NeverAppendedStreamIsEmpty(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)

	// Streams exist only through their events: reading one that nothing was
	// ever appended to yields an empty list, not an error.
	got, err := repo.GetEvents(context.Background(), model.StreamID("conversation", "never-appended"), 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEventStore_Append_VersionConflict(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	_, err := repo.Append(ctx, streamID, []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
	}, nil)
	require.NoError(t, err)

	// Writer holding a stale expected version must lose without side effects
	stale := uint64(0)
	_, err = repo.Append(ctx, streamID, []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
	}, &stale)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	var conflict *pkgerrors.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(0), conflict.ExpectedVersion)
	assert.Equal(t, uint64(1), conflict.CurrentVersion)

	// The losing append wrote nothing
	got, err := repo.GetEvents(ctx, streamID, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	version, err := repo.StreamVersion(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestEventStore_Append_ConcurrentWriters_ExactlyOneWinner(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	expected := uint64(0)

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exp := expected
			_, err := repo.Append(ctx, streamID, []*model.Event{
				makeEvent("message.created", "conversation", "c1", 1),
			}, &exp)
			results[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, pkgerrors.IsConflict(err), "loser must see a version conflict, got: %v", err)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent writer must win")

	version, err := repo.StreamVersion(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestEventStore_Append_NonContiguousVersions(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	_, err := repo.Append(ctx, streamID, []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
		makeEvent("message.created", "conversation", "c1", 3), // gap
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidVersionSequence)

	// Rejected batch must not be partially applied
	got, err := repo.GetEvents(ctx, streamID, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventStore_GetEventsByType(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	_, err := repo.Append(ctx, model.StreamID("conversation", "c1"), []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
		makeEvent("message.edited", "conversation", "c1", 2),
	}, nil)
	require.NoError(t, err)

	_, err = repo.Append(ctx, model.StreamID("conversation", "c2"), []*model.Event{
		makeEvent("message.created", "conversation", "c2", 1),
	}, nil)
	require.NoError(t, err)

	created, err := repo.GetEventsByType(ctx, "message.created", time.Time{})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	for _, ev := range created {
		assert.Equal(t, "message.created", ev.Type)
	}

	edited, err := repo.GetEventsByType(ctx, "message.edited", time.Time{})
	require.NoError(t, err)
	assert.Len(t, edited, 1)

	// Unknown type yields an empty result, not an error
	none, err := repo.GetEventsByType(ctx, "message.deleted", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventStore_GetEventsByAggregateType_FromTime(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	old := makeEvent("presence.changed", "user", "u1", 1)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	recent := makeEvent("presence.changed", "user", "u1", 2)

	_, err := repo.Append(ctx, model.StreamID("user", "u1"), []*model.Event{old, recent}, nil)
	require.NoError(t, err)

	all, err := repo.GetEventsByAggregateType(ctx, "user", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyRecent, err := repo.GetEventsByAggregateType(ctx, "user", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, onlyRecent, 1)
	assert.Equal(t, recent.ID, onlyRecent[0].ID)
}

func TestEventStore_ExpiredBodiesSkippedInIndexReads(t *testing.T) {
	esc := &conf.EventStore{
		EventTtl: durationpb.New(time.Minute),
	}
	repo, mr := newTestEventStore(t, esc)
	ctx := context.Background()

	_, err := repo.Append(ctx, model.StreamID("conversation", "c1"), []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
	}, nil)
	require.NoError(t, err)

	// Expire the event bodies; index entries remain until cleanup
	mr.FastForward(2 * time.Minute)

	got, err := repo.GetEventsByType(ctx, "message.created", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got, "expired bodies must be skipped, not surfaced as errors")
}

func TestEventStore_Snapshots(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	// Missing snapshot is (nil, nil)
	snap, err := repo.GetSnapshot(ctx, "conversation", "c1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	state, _ := json.Marshal(map[string]int{"messages": 42})
	err = repo.SaveSnapshot(ctx, &model.Snapshot{
		AggregateID:   "c1",
		AggregateType: "conversation",
		Version:       42,
		State:         state,
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)

	snap, err = repo.GetSnapshot(ctx, "conversation", "c1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(42), snap.Version)

	// Last write wins
	err = repo.SaveSnapshot(ctx, &model.Snapshot{
		AggregateID:   "c1",
		AggregateType: "conversation",
		Version:       100,
		State:         state,
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)

	snap, err = repo.GetSnapshot(ctx, "conversation", "c1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(100), snap.Version)
}

func TestEventStore_DeleteStream(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	streamID := model.StreamID("conversation", "c1")
	events := []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
		makeEvent("message.created", "conversation", "c1", 2),
	}
	_, err := repo.Append(ctx, streamID, events, nil)
	require.NoError(t, err)

	state, _ := json.Marshal(map[string]int{"messages": 2})
	require.NoError(t, repo.SaveSnapshot(ctx, &model.Snapshot{
		AggregateID:   "c1",
		AggregateType: "conversation",
		Version:       2,
		State:         state,
		Timestamp:     time.Now(),
	}))

	require.NoError(t, repo.DeleteStream(ctx, streamID))

	gone, err := repo.GetEvents(ctx, streamID, 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	version, err := repo.StreamVersion(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)

	snap, err := repo.GetSnapshot(ctx, "conversation", "c1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	byType, err := repo.GetEventsByType(ctx, "message.created", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, byType)

	// Deleting a missing stream is a no-op
	assert.NoError(t, repo.DeleteStream(ctx, streamID))
}

func TestEventStore_Cleanup(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	old := makeEvent("message.created", "conversation", "c1", 1)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	recent := makeEvent("message.created", "conversation", "c1", 2)

	streamID := model.StreamID("conversation", "c1")
	_, err := repo.Append(ctx, streamID, []*model.Event{old, recent}, nil)
	require.NoError(t, err)

	state, _ := json.Marshal(map[string]int{})
	require.NoError(t, repo.SaveSnapshot(ctx, &model.Snapshot{
		AggregateID:   "stale",
		AggregateType: "conversation",
		Version:       1,
		State:         state,
		Timestamp:     time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.SaveSnapshot(ctx, &model.Snapshot{
		AggregateID:   "fresh",
		AggregateType: "conversation",
		Version:       1,
		State:         state,
		Timestamp:     time.Now(),
	}))

	removed, err := repo.Cleanup(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	// Old event in both indexes + stale snapshot
	assert.Equal(t, int64(3), removed)

	// Indexes no longer serve the old event
	byType, err := repo.GetEventsByType(ctx, "message.created", time.Time{})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, recent.ID, byType[0].ID)

	// Stream log is untouched: full replay still works
	events, err := repo.GetEvents(ctx, streamID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	snap, err := repo.GetSnapshot(ctx, "conversation", "fresh")
	require.NoError(t, err)
	assert.NotNil(t, snap)

	stale, err := repo.GetSnapshot(ctx, "conversation", "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestEventStore_StreamExists(t *testing.T) {
	repo, _ := newTestEventStore(t, nil)
	ctx := context.Background()

	exists, err := repo.StreamExists(ctx, "conversation-c1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Append(ctx, "conversation-c1", []*model.Event{
		makeEvent("message.created", "conversation", "c1", 1),
	}, nil)
	require.NoError(t, err)

	exists, err = repo.StreamExists(ctx, "conversation-c1")
	require.NoError(t, err)
	assert.True(t, exists)
}
