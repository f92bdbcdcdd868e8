package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
)

type GenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, topicKey, topicName, language, stockCode string) (*types.Generation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error)
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Generation, error)

	// UpdateStatus enforces monotonic transitions: a generation never moves
	// backwards, a completed generation never changes again, and re-asserting
	// the current status is a no-op. A failed generation may advance again so
	// a resumed run can recover. extra carries artifact path columns written
	// as the owning stage completes.
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errorMessage string, extra map[string]interface{}) error
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	repoLog := baseLog.With("repo", "GenerationRepo")
	return &generationRepo{db: db, log: repoLog}
}

func (r *generationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *generationRepo) Create(ctx context.Context, tx *gorm.DB, topicKey, topicName, language, stockCode string) (*types.Generation, error) {
	if language == "" {
		language = "CN"
	}
	gen := &types.Generation{
		ID:        uuid.New(),
		TopicKey:  topicKey,
		TopicName: topicName,
		Language:  language,
		StockCode: stockCode,
		Status:    types.StatusPending,
	}
	if err := r.conn(tx).WithContext(ctx).Create(gen).Error; err != nil {
		return nil, err
	}
	return gen, nil
}

func (r *generationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var gen types.Generation
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&gen).Error
	if err != nil {
		return nil, err
	}
	if gen.ID == uuid.Nil {
		return nil, nil
	}
	return &gen, nil
}

func (r *generationRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Generation, error) {
	if limit <= 0 {
		limit = 10
	}
	var results []*types.Generation
	err := r.conn(tx).WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errorMessage string, extra map[string]interface{}) error {
	current, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("generation %s not found", id)
	}

	if current.Status == status {
		return nil
	}
	if current.Status == types.StatusCompleted {
		return fmt.Errorf("generation %s is already completed, refusing transition to %s", id, status)
	}
	// A failed generation may be picked up again by resume, so failed is
	// terminal for a run but not for the row.
	if status != types.StatusFailed && current.Status != types.StatusFailed {
		newRank, ok := types.StatusRank(status)
		if !ok {
			return fmt.Errorf("unknown status %q", status)
		}
		curRank, _ := types.StatusRank(current.Status)
		if newRank <= curRank {
			return fmt.Errorf("generation %s cannot move from %s back to %s", id, current.Status, status)
		}
	} else if status != types.StatusFailed {
		if _, ok := types.StatusRank(status); !ok {
			return fmt.Errorf("unknown status %q", status)
		}
	}

	updates := map[string]interface{}{"status": status}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	} else if current.Status == types.StatusFailed {
		updates["error_message"] = ""
	}
	if status == types.StatusCompleted {
		updates["completed_at"] = time.Now()
	}
	for k, v := range extra {
		switch k {
		case "dialogue_json_path", "audio_path", "video_path":
			updates[k] = v
		}
	}

	return r.conn(tx).WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}
