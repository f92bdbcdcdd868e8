package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/types"
)

// WorkflowService sequences the four stages of a generation. A fresh run
// executes them in order and aborts on first failure; Resume re-derives which
// stages already hold a confirmed artifact and re-runs only from the first
// unconfirmed one.
type WorkflowService interface {
	Run(ctx context.Context, gen *types.Generation) (string, error)
	Resume(ctx context.Context, generationID uuid.UUID) (string, error)
}

type workflowService struct {
	log *logger.Logger
	cfg *config.Config

	dialogue DialogueService
	audio    AudioService
	image    ImageService
	video    VideoService

	genRepo      repos.GenerationRepo
	dialogueRepo repos.DialogueRequestRepo
	audioRepo    repos.AudioRequestRepo
	imageRepo    repos.ImageRequestRepo
	videoRepo    repos.VideoOutputRepo
}

func NewWorkflowService(
	cfg *config.Config,
	dialogue DialogueService,
	audio AudioService,
	image ImageService,
	video VideoService,
	genRepo repos.GenerationRepo,
	dialogueRepo repos.DialogueRequestRepo,
	audioRepo repos.AudioRequestRepo,
	imageRepo repos.ImageRequestRepo,
	videoRepo repos.VideoOutputRepo,
	log *logger.Logger,
) WorkflowService {
	return &workflowService{
		log:          log.With("service", "WorkflowService"),
		cfg:          cfg,
		dialogue:     dialogue,
		audio:        audio,
		image:        image,
		video:        video,
		genRepo:      genRepo,
		dialogueRepo: dialogueRepo,
		audioRepo:    audioRepo,
		imageRepo:    imageRepo,
		videoRepo:    videoRepo,
	}
}

// GenerationDir returns the per-generation artifact directory.
func GenerationDir(outputRoot string, generationID uuid.UUID) string {
	return filepath.Join(outputRoot, fmt.Sprintf("gen_%s", generationID))
}

func (s *workflowService) Run(ctx context.Context, gen *types.Generation) (string, error) {
	outputDir := GenerationDir(s.cfg.Output.Directory, gen.ID)
	return s.runFrom(ctx, gen, outputDir, nil)
}

// stageState carries artifacts recovered from confirmed stages into the
// stages still to run.
type stageState struct {
	payload        *types.DialoguePayload
	audio          *AudioResult
	imagePaths     []string
	coverImagePath string
}

func (s *workflowService) runFrom(ctx context.Context, gen *types.Generation, outputDir string, state *stageState) (string, error) {
	if state == nil {
		state = &stageState{}
	}

	if state.payload == nil {
		s.log.Info("Stage 1/4: dialogue", "generation_id", gen.ID, "language", gen.Language)
		payload, err := s.dialogue.Generate(ctx, gen, outputDir)
		if err != nil {
			return "", err
		}
		state.payload = payload
	}

	if state.audio == nil {
		s.log.Info("Stage 2/4: audio", "generation_id", gen.ID, "lines", len(state.payload.Dialogue))
		audio, err := s.audio.Generate(ctx, gen, state.payload.Dialogue, outputDir)
		if err != nil {
			return "", err
		}
		state.audio = audio
	}

	if s.cfg.Video.Mode == config.VideoModeVeoLoop {
		s.log.Info("Stage 3/4: visuals handled by loop background, skipping images", "generation_id", gen.ID)
	} else if state.imagePaths == nil {
		s.log.Info("Stage 3/4: images", "generation_id", gen.ID)
		paths, err := s.image.Generate(ctx, gen, state.payload.Dialogue, state.payload.Summary, outputDir)
		if err != nil {
			return "", err
		}
		state.imagePaths = paths

		if state.coverImagePath == "" {
			state.coverImagePath = s.image.GenerateCover(ctx, gen, state.payload.Title, state.payload.Summary, outputDir)
		}
	}

	s.log.Info("Stage 4/4: video", "generation_id", gen.ID)
	videoPath, err := s.video.Generate(ctx, gen, VideoInput{
		ImagePaths:     state.imagePaths,
		AudioPath:      state.audio.AudioPath,
		AudioDuration:  state.audio.DurationSeconds,
		VoiceSegments:  state.audio.Segments,
		Dialogue:       state.payload.Dialogue,
		Title:          state.payload.Title,
		CoverImagePath: state.coverImagePath,
		OutputDir:      outputDir,
	})
	if err != nil {
		return "", err
	}

	s.log.Info("Generation complete", "generation_id", gen.ID, "video_path", videoPath)
	return videoPath, nil
}

func (s *workflowService) Resume(ctx context.Context, generationID uuid.UUID) (string, error) {
	gen, err := s.genRepo.GetByID(ctx, nil, generationID)
	if err != nil {
		return "", err
	}
	if gen == nil {
		return "", fmt.Errorf("generation %s not found", generationID)
	}

	outputDir := GenerationDir(s.cfg.Output.Directory, gen.ID)
	state := &stageState{}

	// Artifact confirmation walks the stages in order and stops at the first
	// unconfirmed one; everything downstream re-runs.
	payload, ok, err := s.confirmDialogue(ctx, gen)
	if err != nil {
		return "", err
	}
	if !ok {
		s.log.Info("Resuming from dialogue stage", "generation_id", gen.ID)
		return s.runFrom(ctx, gen, outputDir, state)
	}
	state.payload = payload

	audio, ok, err := s.confirmAudio(ctx, gen)
	if err != nil {
		return "", err
	}
	if !ok {
		s.log.Info("Resuming from audio stage", "generation_id", gen.ID)
		return s.runFrom(ctx, gen, outputDir, state)
	}
	state.audio = audio

	if s.cfg.Video.Mode != config.VideoModeVeoLoop {
		imagePaths, coverPath, ok, err := s.confirmImages(ctx, gen)
		if err != nil {
			return "", err
		}
		if !ok {
			s.log.Info("Resuming from image stage", "generation_id", gen.ID)
			return s.runFrom(ctx, gen, outputDir, state)
		}
		state.imagePaths = imagePaths
		state.coverImagePath = coverPath
	}

	videoPath, ok, err := s.confirmVideo(ctx, gen)
	if err != nil {
		return "", err
	}
	if ok {
		s.log.Info("All stages already confirmed, nothing to do",
			"generation_id", gen.ID, "video_path", videoPath)
		return videoPath, nil
	}

	s.log.Info("Resuming from video stage", "generation_id", gen.ID)
	return s.runFrom(ctx, gen, outputDir, state)
}

// A stage is confirmed only when its DB record is marked success AND the
// artifact still exists on disk. A file with no success row re-runs; a
// success row with no file re-runs.

func (s *workflowService) confirmDialogue(ctx context.Context, gen *types.Generation) (*types.DialoguePayload, bool, error) {
	req, err := s.dialogueRepo.LatestByGeneration(ctx, nil, gen.ID)
	if err != nil {
		return nil, false, err
	}
	if req == nil || !req.Success {
		return nil, false, nil
	}
	if gen.DialogueJSONPath == "" || !fileExists(gen.DialogueJSONPath) {
		return nil, false, nil
	}

	raw, err := os.ReadFile(gen.DialogueJSONPath)
	if err != nil {
		return nil, false, nil
	}
	var payload types.DialoguePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.log.Warn("Stored dialogue JSON unreadable, re-running stage",
			"generation_id", gen.ID, "error", err.Error())
		return nil, false, nil
	}
	if len(payload.Dialogue) == 0 {
		return nil, false, nil
	}
	return &payload, true, nil
}

func (s *workflowService) confirmAudio(ctx context.Context, gen *types.Generation) (*AudioResult, bool, error) {
	req, err := s.audioRepo.LatestByGeneration(ctx, nil, gen.ID)
	if err != nil {
		return nil, false, err
	}
	if req == nil || !req.Success {
		return nil, false, nil
	}
	if req.AudioPath == "" || !fileExists(req.AudioPath) {
		return nil, false, nil
	}

	var segments []types.VoiceSegment
	if len(req.VoiceSegmentsJSON) > 0 {
		if err := json.Unmarshal(req.VoiceSegmentsJSON, &segments); err != nil {
			s.log.Warn("Stored voice segments unreadable, re-running stage",
				"generation_id", gen.ID, "error", err.Error())
			return nil, false, nil
		}
	}

	return &AudioResult{
		AudioPath:       req.AudioPath,
		DurationSeconds: req.DurationSeconds,
		Segments:        segments,
	}, true, nil
}

func (s *workflowService) confirmImages(ctx context.Context, gen *types.Generation) ([]string, string, bool, error) {
	reqs, err := s.imageRepo.ListByGeneration(ctx, nil, gen.ID)
	if err != nil {
		return nil, "", false, err
	}

	var imagePaths []string
	coverPath := ""
	for _, req := range reqs {
		if !req.Success || req.ImagePath == "" || !fileExists(req.ImagePath) {
			continue
		}
		if req.IsCover {
			coverPath = req.ImagePath
			continue
		}
		imagePaths = append(imagePaths, req.ImagePath)
	}

	if len(imagePaths) == 0 {
		return nil, "", false, nil
	}
	return imagePaths, coverPath, true, nil
}

func (s *workflowService) confirmVideo(ctx context.Context, gen *types.Generation) (string, bool, error) {
	out, err := s.videoRepo.LatestByGeneration(ctx, nil, gen.ID)
	if err != nil {
		return "", false, err
	}
	if out == nil || !out.Success {
		return "", false, nil
	}
	if out.VideoPath == "" || !fileExists(out.VideoPath) {
		return "", false, nil
	}
	return out.VideoPath, true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
