package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionActive     SessionStatus = "active"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
)

// Question is one generated interview question, ordered within a session.
type Question struct {
	Text  string `bson:"text" json:"text"`
	Topic string `bson:"topic,omitempty" json:"topic,omitempty"`
}

// ConversationTurn is one utterance in the interview, either side.
type ConversationTurn struct {
	Speaker   string    `bson:"speaker" json:"speaker"` // user|agent
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// InterviewSession is the persisted snapshot of one interview attempt.
// It is written best-effort on pause and completion so a paused
// interview can be resumed with its history and question position intact.
type InterviewSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	UserID    string             `bson:"user_id" json:"user_id"`       // uuid from Supabase Auth

	AgentIdentity        string        `bson:"agent_identity" json:"agent_identity"`
	Questions            []Question    `bson:"questions" json:"questions"`
	CurrentQuestionIndex int           `bson:"current_question_index" json:"current_question_index"`
	Status               SessionStatus `bson:"status" json:"status"`

	History []ConversationTurn `bson:"history,omitempty" json:"history,omitempty"`

	StartedAt      *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	ElapsedSeconds int64      `bson:"elapsed_seconds" json:"elapsed_seconds"`

	// Analysis is filled after completion by the analysis pipeline.
	Analysis string `bson:"analysis,omitempty" json:"analysis,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
}
