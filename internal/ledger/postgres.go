package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jastalk/jastalk/internal/models"
)

// PostgresStore keeps user_credits rows in Postgres via gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balance reads the remaining time. A user with no row simply has no
// credit yet; that is not an error.
func (s *PostgresStore) Balance(ctx context.Context, userID string) (int, int, error) {
	var row models.UserCredit
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return row.TotalMinutes, row.LeftoverSeconds, nil
}

func (s *PostgresStore) SetRemaining(ctx context.Context, userID string, minutes, seconds int) error {
	row := models.UserCredit{
		UserID:          userID,
		TotalMinutes:    minutes,
		LeftoverSeconds: seconds,
		UpdatedAt:       time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_minutes", "leftover_seconds", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *PostgresStore) Add(ctx context.Context, userID string, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.UserCredit{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_minutes": gorm.Expr("total_minutes + ?", minutes),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.SetRemaining(ctx, userID, minutes, 0)
	}
	return nil
}

// Deduct removes totalSeconds atomically: the row is locked for the
// duration of the transaction so concurrent deductions serialize.
func (s *PostgresStore) Deduct(ctx context.Context, userID string, totalSeconds int) (Deduction, error) {
	var out Deduction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.UserCredit
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}

		total := row.TotalMinutes*60 + row.LeftoverSeconds
		if total < totalSeconds {
			return ErrInsufficientCredits
		}

		remaining := total - totalSeconds
		row.TotalMinutes = remaining / 60
		row.LeftoverSeconds = remaining % 60
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		out = Deduction{
			DeductedMinutes:  (totalSeconds + 59) / 60,
			RemainingMinutes: row.TotalMinutes,
			LeftoverSeconds:  row.LeftoverSeconds,
		}
		return nil
	})
	return out, err
}
