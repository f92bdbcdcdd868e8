package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
)

type AudioRequestRepo interface {
	Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, dialogueCount int) (*types.AudioRequest, error)
	MarkSuccess(ctx context.Context, tx *gorm.DB, id uuid.UUID, audioPath string, durationSeconds float64, segments []types.VoiceSegment) error
	MarkFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, errorMessage string) error
	LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.AudioRequest, error)
}

type audioRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAudioRequestRepo(db *gorm.DB, baseLog *logger.Logger) AudioRequestRepo {
	repoLog := baseLog.With("repo", "AudioRequestRepo")
	return &audioRequestRepo{db: db, log: repoLog}
}

func (r *audioRequestRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *audioRequestRepo) Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, dialogueCount int) (*types.AudioRequest, error) {
	req := &types.AudioRequest{
		ID:            uuid.New(),
		GenerationID:  generationID,
		DialogueCount: dialogueCount,
	}
	if err := r.conn(tx).WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *audioRequestRepo) MarkSuccess(ctx context.Context, tx *gorm.DB, id uuid.UUID, audioPath string, durationSeconds float64, segments []types.VoiceSegment) error {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshal voice segments: %w", err)
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.AudioRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"audio_path":          audioPath,
			"duration_seconds":    durationSeconds,
			"voice_segments_json": datatypes.JSON(segmentsJSON),
			"success":             true,
			"error_message":       "",
		}).Error
}

func (r *audioRequestRepo) MarkFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, errorMessage string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.AudioRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success":       false,
			"error_message": errorMessage,
		}).Error
}

func (r *audioRequestRepo) LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.AudioRequest, error) {
	var req types.AudioRequest
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at DESC").
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}
