package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/utils"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.InterviewSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	SetStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	// SaveSnapshot persists the resumable portion of a session:
	// conversation history, elapsed time, question position, status.
	SaveSnapshot(ctx context.Context, sessionID string, status models.SessionStatus, history []models.ConversationTurn, questionIndex int, elapsedSeconds int64) error
	Complete(ctx context.Context, sessionID string, endedAt time.Time, elapsedSeconds int64) error
	SetAnalysis(ctx context.Context, sessionID, analysis string) error
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("interview_sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.InterviewSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) SetStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"status": status}},
	)
	return err
}

func (r *sessionRepo) SaveSnapshot(ctx context.Context, sessionID string, status models.SessionStatus, history []models.ConversationTurn, questionIndex int, elapsedSeconds int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"status":                 status,
			"history":                history,
			"current_question_index": questionIndex,
			"elapsed_seconds":        elapsedSeconds,
		}},
	)
	return err
}

func (r *sessionRepo) Complete(ctx context.Context, sessionID string, endedAt time.Time, elapsedSeconds int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"status":          models.SessionCompleted,
			"ended_at":        endedAt.UTC(),
			"elapsed_seconds": elapsedSeconds,
		}},
	)
	return err
}

func (r *sessionRepo) SetAnalysis(ctx context.Context, sessionID, analysis string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"analysis": analysis}},
	)
	return err
}
