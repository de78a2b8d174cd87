package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// ConversationLog is the durable per-turn record of an interview,
// queryable across sessions (the in-session history snapshot lives on
// InterviewSession). The embedding column is optional and feeds
// semantic lookups over past answers.
type ConversationLog struct {
	ID        string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string          `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	SessionID string          `gorm:"column:session_id;type:uuid;index" json:"session_id"`
	Speaker   string          `gorm:"column:speaker;type:text" json:"speaker"` // "user" | "agent"
	Content   string          `gorm:"column:content;type:text" json:"content"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"embedding"`
	Timestamp time.Time       `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ConversationLog) TableName() string { return "conversation_logs" }
