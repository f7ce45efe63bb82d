package service

import (
	"context"
	goerrors "errors"
	"time"

	"RelayLane/internal/biz"
	"RelayLane/internal/model"
	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// SessionService exposes the session lifecycle over HTTP: create on connect,
// heartbeat to keep alive, resume after a restart, terminate on logout.
// Replies never carry the stored credential; it stays between the usecase
// and the in-process consumers.
type SessionService struct {
	uc     *biz.SessionUsecase
	logger *log.Helper
}

// NewSessionService creates a new session service.
func NewSessionService(uc *biz.SessionUsecase, logger log.Logger) *SessionService {
	return &SessionService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	UserID     string `json:"user_id"`
	Credential string `json:"credential"`
}

// SessionReply is the credential-free view of a session.
type SessionReply struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func sessionReply(s *model.Session) *SessionReply {
	return &SessionReply{
		ID:          s.ID,
		UserID:      s.UserID,
		ConnectedAt: s.ConnectedAt,
		LastSeenAt:  s.LastSeenAt,
	}
}

// CreateSession persists a new session for a connected client.
func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionReply, error) {
	if req == nil || req.UserID == "" || req.Credential == "" {
		return nil, errors.BadRequest("INVALID_SESSION_REQUEST", "user_id and credential are required")
	}

	session, err := s.uc.Create(ctx, req.UserID, req.Credential)
	if err != nil {
		return nil, s.mapError(err)
	}
	return sessionReply(session), nil
}

// GetSession returns a session's credential-free metadata, confirming the
// session is still resumable.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*SessionReply, error) {
	session, err := s.uc.Resume(ctx, sessionID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return sessionReply(session), nil
}

// HeartbeatSession refreshes a session's TTL.
func (s *SessionService) HeartbeatSession(ctx context.Context, sessionID string) error {
	if err := s.uc.Heartbeat(ctx, sessionID); err != nil {
		return s.mapError(err)
	}
	return nil
}

// TerminateSession removes a session.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID string) error {
	if err := s.uc.Terminate(ctx, sessionID); err != nil {
		return s.mapError(err)
	}
	return nil
}

// mapError translates domain errors into transport errors. Anything
// unmapped surfaces as an internal error via the default kratos encoder.
func (s *SessionService) mapError(err error) error {
	switch {
	case goerrors.Is(err, pkgerrors.ErrSessionNotFound):
		return errors.NotFound("SESSION_NOT_FOUND", "session is missing or expired")
	case pkgerrors.IsCircuitOpen(err):
		return errors.ServiceUnavailable("SESSION_STORE_UNAVAILABLE", "session store is temporarily unavailable")
	default:
		return err
	}
}
