package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
)

type ImageRequestRepo interface {
	Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, prompt string, imageIndex int, isCover bool) (*types.ImageRequest, error)
	MarkOutcome(ctx context.Context, tx *gorm.DB, id uuid.UUID, imagePath string, success bool, errorMessage string, retryCount int) error
	ListByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.ImageRequest, error)
}

type imageRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImageRequestRepo(db *gorm.DB, baseLog *logger.Logger) ImageRequestRepo {
	repoLog := baseLog.With("repo", "ImageRequestRepo")
	return &imageRequestRepo{db: db, log: repoLog}
}

func (r *imageRequestRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *imageRequestRepo) Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, prompt string, imageIndex int, isCover bool) (*types.ImageRequest, error) {
	req := &types.ImageRequest{
		ID:           uuid.New(),
		GenerationID: generationID,
		Prompt:       prompt,
		ImageIndex:   imageIndex,
		IsCover:      isCover,
	}
	if err := r.conn(tx).WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *imageRequestRepo) MarkOutcome(ctx context.Context, tx *gorm.DB, id uuid.UUID, imagePath string, success bool, errorMessage string, retryCount int) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.ImageRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"image_path":    imagePath,
			"success":       success,
			"error_message": errorMessage,
			"retry_count":   retryCount,
		}).Error
}

func (r *imageRequestRepo) ListByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.ImageRequest, error) {
	var results []*types.ImageRequest
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("image_index ASC, created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
