package data

import (
	"context"
	"testing"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	pkgerrors "RelayLane/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestSessionRepo(t *testing.T, rc *conf.Realtime) (*SessionRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := log.DefaultLogger
	reg := NewBreakerRegistry(logger)
	sink := NewLogAlertSink(logger)

	aes, err := NewAESCrypto(&conf.Auth{
		Encryption: &conf.Auth_Encryption{Key: "0123456789abcdef0123456789abcdef"},
	})
	require.NoError(t, err)

	repo := NewSessionRepo(&Data{redisClient: rdb}, reg, nil, rc, aes, sink, logger)
	return repo, mr
}

func TestSessionRepo_SaveAndGet(t *testing.T) {
	repo, mr := newTestSessionRepo(t, nil)
	ctx := context.Background()

	now := time.Now()
	session := &model.Session{
		ID:          "sess-1",
		UserID:      "user-1",
		Credential:  "bearer-token-secret",
		ConnectedAt: now,
		LastSeenAt:  now,
	}

	require.NoError(t, repo.Save(ctx, session))

	// Credential must not reach Redis in plaintext
	stored, err := mr.Get(sessionKey("sess-1"))
	require.NoError(t, err)
	assert.NotContains(t, stored, "bearer-token-secret")

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "bearer-token-secret", got.Credential)
}

func TestSessionRepo_Get_Missing(t *testing.T) {
	repo, _ := newTestSessionRepo(t, nil)

	_, err := repo.Get(context.Background(), "sess-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
}

func TestSessionRepo_TTLExpiry(t *testing.T) {
	rc := &conf.Realtime{
		SessionTtl: durationpb.New(time.Hour),
	}
	repo, mr := newTestSessionRepo(t, rc)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		Credential: "cred",
	}))

	mr.FastForward(2 * time.Hour)

	_, err := repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
}

func TestSessionRepo_Touch_RefreshesTTL(t *testing.T) {
	rc := &conf.Realtime{
		SessionTtl: durationpb.New(time.Hour),
	}
	repo, mr := newTestSessionRepo(t, rc)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		Credential: "cred",
	}))

	// Heartbeat just before expiry keeps the session alive
	mr.FastForward(50 * time.Minute)
	require.NoError(t, repo.Touch(ctx, "sess-1"))
	mr.FastForward(50 * time.Minute)

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, got.LastSeenAt.IsZero())
}

func TestSessionRepo_Touch_Missing(t *testing.T) {
	repo, _ := newTestSessionRepo(t, nil)

	err := repo.Touch(context.Background(), "sess-missing")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
}

func TestSessionRepo_Delete(t *testing.T) {
	repo, _ := newTestSessionRepo(t, nil)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		Credential: "cred",
	}))

	require.NoError(t, repo.Delete(ctx, "sess-1"))

	_, err := repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)

	// Deleting a missing session is a no-op
	assert.NoError(t, repo.Delete(ctx, "sess-1"))
}
