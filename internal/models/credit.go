package models

import "time"

// UserCredit is the ledger row of a user's remaining interview time.
// Writes are idempotent sets, not relative decrements, except for the
// atomic Deduct path in the ledger store.
type UserCredit struct {
	UserID          string    `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	TotalMinutes    int       `gorm:"column:total_minutes;type:integer" json:"total_minutes"`
	LeftoverSeconds int       `gorm:"column:leftover_seconds;type:integer" json:"leftover_seconds"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (UserCredit) TableName() string { return "user_credits" }
