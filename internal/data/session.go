package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/pkg/breaker"
	"RelayLane/pkg/crypto"
	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

const defaultSessionTTL = 24 * time.Hour

// SessionRepo persists logical client sessions in Redis so a restarted
// process can resume them. Credentials are AES-GCM encrypted before they
// leave the process; plaintext never reaches Redis. Every operation runs
// through the "session-store" circuit breaker.
type SessionRepo struct {
	rdb     *redis.Client
	crypto  *crypto.AESCrypto
	breaker *breaker.Breaker
	ttl     time.Duration
	logger  *log.Helper
}

// NewSessionRepo creates a new Redis-backed session repository.
func NewSessionRepo(d *Data, reg *breaker.Registry, bc *conf.Breaker, rc *conf.Realtime, aes *crypto.AESCrypto, sink *LogAlertSink, logger log.Logger) *SessionRepo {
	ttl := defaultSessionTTL
	if rc != nil && rc.SessionTtl != nil && rc.SessionTtl.AsDuration() > 0 {
		ttl = rc.SessionTtl.AsDuration()
	}

	br := reg.GetOrCreate(sessionStoreBreakerName, breakerConfig(bc),
		breaker.WithListener(newAlertListener(sink)))

	return &SessionRepo{
		rdb:     d.GetRedisClient(),
		crypto:  aes,
		breaker: br,
		ttl:     ttl,
		logger:  log.NewHelper(logger),
	}
}

// Save persists a session with the configured TTL. The credential field is
// encrypted at rest.
func (r *SessionRepo) Save(ctx context.Context, session *model.Session) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		encrypted, err := r.crypto.Encrypt(session.Credential)
		if err != nil {
			return nil, fmt.Errorf("encrypt session credential: %w", err)
		}

		stored := *session
		stored.Credential = encrypted

		body, err := json.Marshal(&stored)
		if err != nil {
			return nil, fmt.Errorf("marshal session %s: %w", session.ID, err)
		}

		return nil, r.rdb.Set(ctx, sessionKey(session.ID), body, r.ttl).Err()
	})
	return err
}

// Get returns a session by id with the credential decrypted. Missing or
// expired sessions return ErrSessionNotFound.
func (r *SessionRepo) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		body, err := r.rdb.Get(ctx, sessionKey(sessionID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, pkgerrors.ErrSessionNotFound)
		}
		if err != nil {
			return nil, err
		}

		var session model.Session
		if err := json.Unmarshal([]byte(body), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
		}

		plaintext, err := r.crypto.Decrypt(session.Credential)
		if err != nil {
			return nil, fmt.Errorf("decrypt session credential: %w", err)
		}
		session.Credential = plaintext

		return &session, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Session), nil
}

// Touch refreshes the session TTL and last-seen timestamp. Called on every
// heartbeat; the credential stays encrypted as stored.
func (r *SessionRepo) Touch(ctx context.Context, sessionID string) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		key := sessionKey(sessionID)

		body, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, pkgerrors.ErrSessionNotFound)
		}
		if err != nil {
			return nil, err
		}

		var session model.Session
		if err := json.Unmarshal([]byte(body), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
		}
		session.LastSeenAt = time.Now()

		updated, err := json.Marshal(&session)
		if err != nil {
			return nil, fmt.Errorf("marshal session %s: %w", sessionID, err)
		}

		return nil, r.rdb.Set(ctx, key, updated, r.ttl).Err()
	})
	return err
}

// Delete removes a session. Deleting a missing session is a no-op.
func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, r.rdb.Del(ctx, sessionKey(sessionID)).Err()
	})
	return err
}
