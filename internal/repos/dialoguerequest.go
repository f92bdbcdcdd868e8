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

type DialogueRequestRepo interface {
	Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, prompt string) (*types.DialogueRequest, error)
	MarkSuccess(ctx context.Context, tx *gorm.DB, id uuid.UUID, responseRaw string, payload *types.DialoguePayload) error
	MarkFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, errorMessage string) error
	LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.DialogueRequest, error)

	// RecentSummaries returns up to limit summaries of successful requests for
	// a topic key, newest first. Used to keep fresh dialogue from repeating
	// recent episodes.
	RecentSummaries(ctx context.Context, tx *gorm.DB, topicKey string, limit int) ([]string, error)
}

type dialogueRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDialogueRequestRepo(db *gorm.DB, baseLog *logger.Logger) DialogueRequestRepo {
	repoLog := baseLog.With("repo", "DialogueRequestRepo")
	return &dialogueRequestRepo{db: db, log: repoLog}
}

func (r *dialogueRequestRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *dialogueRequestRepo) Create(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, prompt string) (*types.DialogueRequest, error) {
	req := &types.DialogueRequest{
		ID:           uuid.New(),
		GenerationID: generationID,
		Prompt:       prompt,
	}
	if err := r.conn(tx).WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *dialogueRequestRepo) MarkSuccess(ctx context.Context, tx *gorm.DB, id uuid.UUID, responseRaw string, payload *types.DialoguePayload) error {
	dialogueJSON, err := json.Marshal(payload.Dialogue)
	if err != nil {
		return fmt.Errorf("marshal dialogue: %w", err)
	}
	refsJSON, err := json.Marshal(payload.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}

	wordCount := 0
	for _, line := range payload.Dialogue {
		wordCount += len([]rune(line.Text))
	}

	return r.conn(tx).WithContext(ctx).
		Model(&types.DialogueRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"response_raw":    responseRaw,
			"dialogue_json":   datatypes.JSON(dialogueJSON),
			"references_json": datatypes.JSON(refsJSON),
			"summary":         payload.Summary,
			"title":           payload.Title,
			"word_count":      wordCount,
			"success":         true,
			"error_message":   "",
		}).Error
}

func (r *dialogueRequestRepo) MarkFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, errorMessage string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.DialogueRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success":       false,
			"error_message": errorMessage,
		}).Error
}

func (r *dialogueRequestRepo) LatestByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.DialogueRequest, error) {
	var req types.DialogueRequest
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

func (r *dialogueRequestRepo) RecentSummaries(ctx context.Context, tx *gorm.DB, topicKey string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	var summaries []string
	err := r.conn(tx).WithContext(ctx).
		Model(&types.DialogueRequest{}).
		Joins("JOIN generation ON generation.id = dialogue_request.generation_id").
		Where("generation.topic_key = ? AND dialogue_request.success = ? AND dialogue_request.summary <> ''", topicKey, true).
		Order("dialogue_request.created_at DESC").
		Limit(limit).
		Pluck("dialogue_request.summary", &summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
