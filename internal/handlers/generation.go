package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/services"
)

type GenerationHandler struct {
	log      *logger.Logger
	cfg      *config.Config
	workflow services.WorkflowService

	genRepo      repos.GenerationRepo
	dialogueRepo repos.DialogueRequestRepo
	audioRepo    repos.AudioRequestRepo
	imageRepo    repos.ImageRequestRepo
	videoRepo    repos.VideoOutputRepo
}

func NewGenerationHandler(
	cfg *config.Config,
	workflow services.WorkflowService,
	genRepo repos.GenerationRepo,
	dialogueRepo repos.DialogueRequestRepo,
	audioRepo repos.AudioRequestRepo,
	imageRepo repos.ImageRequestRepo,
	videoRepo repos.VideoOutputRepo,
	log *logger.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		log:          log.With("handler", "GenerationHandler"),
		cfg:          cfg,
		workflow:     workflow,
		genRepo:      genRepo,
		dialogueRepo: dialogueRepo,
		audioRepo:    audioRepo,
		imageRepo:    imageRepo,
		videoRepo:    videoRepo,
	}
}

// GET /api/generations?limit=N
func (h *GenerationHandler) List(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	gens, err := h.genRepo.ListRecent(c.Request.Context(), nil, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"generations": gens})
}

// GET /api/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	genID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}

	ctx := c.Request.Context()
	gen, err := h.genRepo.GetByID(ctx, nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if gen == nil {
		RespondError(c, http.StatusNotFound, "generation_not_found", fmt.Errorf("generation %s not found", genID))
		return
	}

	dialogueReq, err := h.dialogueRepo.LatestByGeneration(ctx, nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	audioReq, err := h.audioRepo.LatestByGeneration(ctx, nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	imageReqs, err := h.imageRepo.ListByGeneration(ctx, nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	videoOut, err := h.videoRepo.LatestByGeneration(ctx, nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"generation":       gen,
		"dialogue_request": dialogueReq,
		"audio_request":    audioReq,
		"image_requests":   imageReqs,
		"video_output":     videoOut,
	})
}

type createGenerationRequest struct {
	TopicKey    string `json:"topic_key"`
	CustomTopic string `json:"custom_topic"`
	StockCode   string `json:"stock_code"`
	Language    string `json:"language"`
}

// POST /api/generations
func (h *GenerationHandler) Create(c *gin.Context) {
	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	topicKey := req.TopicKey
	topicName := ""
	switch {
	case req.CustomTopic != "":
		topicKey = "custom"
		topicName = req.CustomTopic
	case topicKey != "":
		name, err := h.cfg.TopicName(topicKey)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "unknown_topic", err)
			return
		}
		topicName = name
	default:
		RespondError(c, http.StatusBadRequest, "missing_topic", fmt.Errorf("topic_key or custom_topic required"))
		return
	}

	gen, err := h.genRepo.Create(c.Request.Context(), nil, topicKey, topicName, req.Language, req.StockCode)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}

	// The pipeline runs for minutes; kick it off and return immediately.
	go func() {
		if _, err := h.workflow.Run(context.Background(), gen); err != nil {
			h.log.Error("Background generation failed", "generation_id", gen.ID, "error", err.Error())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"generation": gen})
}

// POST /api/generations/:id/resume
func (h *GenerationHandler) Resume(c *gin.Context) {
	genID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}

	gen, err := h.genRepo.GetByID(c.Request.Context(), nil, genID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if gen == nil {
		RespondError(c, http.StatusNotFound, "generation_not_found", fmt.Errorf("generation %s not found", genID))
		return
	}

	go func() {
		if _, err := h.workflow.Resume(context.Background(), genID); err != nil {
			h.log.Error("Background resume failed", "generation_id", genID, "error", err.Error())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"generation": gen})
}
