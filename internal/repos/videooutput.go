package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
)

type VideoOutputRepo interface {
	Create(ctx context.Context, tx *gorm.DB, out *types.VideoOutput) (*types.VideoOutput, error)
	LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.VideoOutput, error)
}

type videoOutputRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoOutputRepo(db *gorm.DB, baseLog *logger.Logger) VideoOutputRepo {
	repoLog := baseLog.With("repo", "VideoOutputRepo")
	return &videoOutputRepo{db: db, log: repoLog}
}

func (r *videoOutputRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *videoOutputRepo) Create(ctx context.Context, tx *gorm.DB, out *types.VideoOutput) (*types.VideoOutput, error) {
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoOutputRepo) LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.VideoOutput, error) {
	var out types.VideoOutput
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}
