package postgres

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/utils"
)

type JobDescriptionRepo interface {
	Insert(ctx context.Context, jd *models.JobDescription) error
	GetByID(ctx context.Context, userID, id string) (*models.JobDescription, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.JobDescription, error)
	SetTopics(ctx context.Context, id string, topics []string) error
}

type jobDescriptionRepo struct {
	db *gorm.DB
}

func NewJobDescriptionRepo(db *gorm.DB) JobDescriptionRepo {
	return &jobDescriptionRepo{db: db}
}

func (r *jobDescriptionRepo) Insert(ctx context.Context, jd *models.JobDescription) error {
	return r.db.WithContext(ctx).Create(jd).Error
}

func (r *jobDescriptionRepo) GetByID(ctx context.Context, userID, id string) (*models.JobDescription, error) {
	var row models.JobDescription
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *jobDescriptionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.JobDescription, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.JobDescription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *jobDescriptionRepo) SetTopics(ctx context.Context, id string, topics []string) error {
	return r.db.WithContext(ctx).
		Model(&models.JobDescription{}).
		Where("id = ?", id).
		Update("topics", pq.StringArray(topics)).Error
}
