package biz

import (
	"context"
	"fmt"
	"time"

	"RelayLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// SessionRepo defines the persistence contract for logical client sessions.
// Credentials are encrypted at rest by the implementation; callers only ever
// see plaintext.
type SessionRepo interface {
	// Save persists a session with the configured TTL.
	Save(ctx context.Context, session *model.Session) error

	// Get returns a session by id, with the credential decrypted.
	// Missing or expired sessions return a typed not-found error.
	Get(ctx context.Context, sessionID string) (*model.Session, error)

	// Touch refreshes the session TTL and last-seen timestamp.
	Touch(ctx context.Context, sessionID string) error

	// Delete removes a session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, sessionID string) error
}

// SessionUsecase implements session lifecycle logic: create on connect,
// touch on heartbeat, resume after restart, delete on logout or auth
// rejection.
type SessionUsecase struct {
	repo   SessionRepo
	logger *log.Helper
}

// NewSessionUsecase creates a new session use case.
func NewSessionUsecase(repo SessionRepo, logger log.Logger) *SessionUsecase {
	return &SessionUsecase{
		repo:   repo,
		logger: log.NewHelper(logger),
	}
}

// Create builds and persists a new session for a connected client.
func (uc *SessionUsecase) Create(ctx context.Context, userID, credential string) (*model.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("create session: user id is required")
	}
	if credential == "" {
		return nil, fmt.Errorf("create session: credential is required")
	}

	now := time.Now()
	session := &model.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Credential:  credential,
		ConnectedAt: now,
		LastSeenAt:  now,
	}

	if err := uc.repo.Save(ctx, session); err != nil {
		return nil, err
	}

	uc.logger.Infow("msg", "session created",
		"session_id", session.ID,
		"user_id", userID,
		"type", "session")

	return session, nil
}

// Resume returns a previously persisted session so a restarted process can
// re-establish the logical connection with the stored credential.
func (uc *SessionUsecase) Resume(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := uc.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	uc.logger.Infow("msg", "session resumed",
		"session_id", session.ID,
		"user_id", session.UserID,
		"type", "session")

	return session, nil
}

// Heartbeat refreshes a session's TTL. Called on every transport heartbeat;
// failures are logged and returned so the caller can decide whether the
// session is still trustworthy.
func (uc *SessionUsecase) Heartbeat(ctx context.Context, sessionID string) error {
	if err := uc.repo.Touch(ctx, sessionID); err != nil {
		uc.logger.Warnw("msg", "session heartbeat failed",
			"session_id", sessionID,
			"error", err.Error(),
			"type", "session")
		return err
	}
	return nil
}

// Terminate removes a session on explicit logout or auth rejection.
func (uc *SessionUsecase) Terminate(ctx context.Context, sessionID string) error {
	if err := uc.repo.Delete(ctx, sessionID); err != nil {
		return err
	}

	uc.logger.Infow("msg", "session terminated",
		"session_id", sessionID,
		"type", "session")

	return nil
}
