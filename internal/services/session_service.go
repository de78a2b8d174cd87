package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jastalk/jastalk/internal/models"
	mongorepo "github.com/jastalk/jastalk/internal/repositories/mongo"
	"github.com/jastalk/jastalk/internal/utils"
)

type SessionService interface {
	Create(ctx context.Context, userID, agentIdentity string, questions []models.Question) (*models.InterviewSession, error)
	Get(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	MarkActive(ctx context.Context, sessionID string) error
	// SaveSnapshot persists the resumable state of a session on pause
	// (or the final state on completion).
	SaveSnapshot(ctx context.Context, sessionID string, status models.SessionStatus, history []models.ConversationTurn, questionIndex int, elapsedSeconds int64) error
	Complete(ctx context.Context, sessionID string, elapsedSeconds int64) (*models.InterviewSession, error)
	SetAnalysis(ctx context.Context, sessionID, analysis string) error
}

type sessionService struct {
	sessions mongorepo.SessionRepository
}

func NewSessionService(sessions mongorepo.SessionRepository) SessionService {
	return &sessionService{sessions: sessions}
}

func (s *sessionService) Create(ctx context.Context, userID, agentIdentity string, questions []models.Question) (*models.InterviewSession, error) {
	const op = "SessionService.Create"

	if userID == "" || agentIdentity == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and agent_identity are required", nil)
	}
	if len(questions) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "a question set is required", nil)
	}

	session := &models.InterviewSession{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		AgentIdentity: agentIdentity,
		Questions:     questions,
		Status:        models.SessionNotStarted,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session", err)
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) MarkActive(ctx context.Context, sessionID string) error {
	const op = "SessionService.MarkActive"

	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if err := s.sessions.SetStatus(ctx, sessionID, models.SessionActive); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to mark session active", err)
	}
	return nil
}

func (s *sessionService) SaveSnapshot(ctx context.Context, sessionID string, status models.SessionStatus, history []models.ConversationTurn, questionIndex int, elapsedSeconds int64) error {
	const op = "SessionService.SaveSnapshot"

	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if status != models.SessionPaused && status != models.SessionCompleted {
		return utils.E(utils.CodeInvalidArgument, op, "snapshot status must be paused or completed", nil)
	}
	if err := s.sessions.SaveSnapshot(ctx, sessionID, status, history, questionIndex, elapsedSeconds); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save session snapshot", err)
	}
	return nil
}

func (s *sessionService) Complete(ctx context.Context, sessionID string, elapsedSeconds int64) (*models.InterviewSession, error) {
	const op = "SessionService.Complete"

	ss, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.sessions.Complete(ctx, sessionID, now, elapsedSeconds); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to complete session", err)
	}

	ss.Status = models.SessionCompleted
	ss.EndedAt = &now
	ss.ElapsedSeconds = elapsedSeconds
	return ss, nil
}

func (s *sessionService) SetAnalysis(ctx context.Context, sessionID, analysis string) error {
	const op = "SessionService.SetAnalysis"

	if sessionID == "" || analysis == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id and analysis are required", nil)
	}
	if err := s.sessions.SetAnalysis(ctx, sessionID, analysis); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store analysis", err)
	}
	return nil
}
