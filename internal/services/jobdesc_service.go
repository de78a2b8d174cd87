package services

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jastalk/jastalk/internal/models"
	pgrepo "github.com/jastalk/jastalk/internal/repositories/postgres"
	"github.com/jastalk/jastalk/internal/storage"
	"github.com/jastalk/jastalk/internal/utils"
)

type JobDescriptionService interface {
	Upload(ctx context.Context, userID, title, fileName string, fileSize int, mimeType, objectName, rawText string, r io.Reader) (*models.JobDescription, error)
	Get(ctx context.Context, userID, id string) (*models.JobDescription, error)
	List(ctx context.Context, userID string, limit int) ([]models.JobDescription, error)
}

type jobDescriptionService struct {
	repo     pgrepo.JobDescriptionRepo
	uploader storage.Uploader
}

func NewJobDescriptionService(repo pgrepo.JobDescriptionRepo, uploader storage.Uploader) JobDescriptionService {
	return &jobDescriptionService{repo: repo, uploader: uploader}
}

func (s *jobDescriptionService) Upload(ctx context.Context, userID, title, fileName string, fileSize int, mimeType, objectName, rawText string, r io.Reader) (*models.JobDescription, error) {
	const op = "JobDescriptionService.Upload"

	if userID == "" || rawText == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and job description text are required", nil)
	}

	storedPath := ""
	if r != nil && objectName != "" {
		if s.uploader == nil {
			return nil, utils.E(utils.CodeInternal, op, "uploader is not configured", nil)
		}
		var err error
		storedPath, err = s.uploader.Upload(ctx, objectName, mimeType, r)
		if err != nil {
			return nil, utils.E(utils.CodeUnavailable, op, "failed to upload file", err)
		}
	}

	row := &models.JobDescription{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		FileName:   fileName,
		FilePath:   storedPath,
		FileSize:   fileSize,
		MimeType:   mimeType,
		RawText:    rawText,
		UploadedAt: time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist job description", err)
	}
	return row, nil
}

func (s *jobDescriptionService) Get(ctx context.Context, userID, id string) (*models.JobDescription, error) {
	const op = "JobDescriptionService.Get"

	if userID == "" || id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and id are required", nil)
	}
	jd, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		if err == utils.ErrNotFound {
			return nil, utils.E(utils.CodeNotFound, op, "job description not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get job description", err)
	}
	return jd, nil
}

func (s *jobDescriptionService) List(ctx context.Context, userID string, limit int) ([]models.JobDescription, error) {
	const op = "JobDescriptionService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list job descriptions", err)
	}
	return rows, nil
}
