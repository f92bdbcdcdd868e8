package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/types"
)

// VideoService composes the final video: visual assets (slideshow timeline or
// a generated loop), subtitles, background music, then one ffmpeg render.
type VideoService interface {
	Generate(ctx context.Context, gen *types.Generation, in VideoInput) (string, error)
}

type VideoInput struct {
	ImagePaths     []string
	AudioPath      string
	AudioDuration  float64
	VoiceSegments  []types.VoiceSegment
	Dialogue       []types.DialogueLine
	Title          string
	CoverImagePath string
	OutputDir      string
}

type videoService struct {
	log       *logger.Logger
	cfg       *config.Config
	veo       VeoClient
	renderer  Renderer
	cover     CoverComposer
	videoRepo repos.VideoOutputRepo
	genRepo   repos.GenerationRepo
}

func NewVideoService(
	cfg *config.Config,
	veo VeoClient,
	renderer Renderer,
	cover CoverComposer,
	videoRepo repos.VideoOutputRepo,
	genRepo repos.GenerationRepo,
	log *logger.Logger,
) VideoService {
	return &videoService{
		log:       log.With("service", "VideoService"),
		cfg:       cfg,
		veo:       veo,
		renderer:  renderer,
		cover:     cover,
		videoRepo: videoRepo,
		genRepo:   genRepo,
	}
}

func (s *videoService) Generate(ctx context.Context, gen *types.Generation, in VideoInput) (string, error) {
	outputPath, genErr := s.generate(ctx, gen, in)
	if genErr != nil {
		s.recordOutput(ctx, gen, "", 0, 0, false, genErr.Error())
		msg := fmt.Sprintf("Video generation failed: %v", genErr)
		if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusFailed, msg, nil); err != nil {
			s.log.Error("Failed to mark generation failed", "generation_id", gen.ID, "error", err.Error())
		}
		return "", genErr
	}

	var fileSize int64
	if info, err := os.Stat(outputPath); err == nil {
		fileSize = info.Size()
	}
	s.recordOutput(ctx, gen, outputPath, in.AudioDuration, fileSize, true, "")

	if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusCompleted, "", map[string]interface{}{
		"video_path": outputPath,
	}); err != nil {
		return "", fmt.Errorf("advance generation status: %w", err)
	}

	s.log.Info("Video rendered", "generation_id", gen.ID, "path", outputPath, "bytes", fileSize)
	return outputPath, nil
}

func (s *videoService) generate(ctx context.Context, gen *types.Generation, in VideoInput) (string, error) {
	if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(in.OutputDir, fmt.Sprintf("podcast_%s.%s", gen.ID, s.cfg.Output.VideoFormat))

	plan := RenderPlan{
		AudioPath:         in.AudioPath,
		AudioDuration:     in.AudioDuration,
		OutputPath:        outputPath,
		EnableTransitions: s.cfg.Video.EnableTransitions,
		IntroClipPath:     s.cfg.Video.IntroClipPath,
	}

	switch s.cfg.Video.Mode {
	case config.VideoModeVeoLoop:
		bgPath, err := s.prepareLoopBackground(ctx, gen, in.Title, in.OutputDir)
		if err != nil {
			return "", err
		}
		plan.VideoBackgroundPath = bgPath
	default:
		s.prepareSlideshow(gen, in, &plan)
	}

	if len(in.Dialogue) > 0 && len(in.Dialogue) == len(in.VoiceSegments) {
		srt, err := BuildSRT(in.Dialogue, in.VoiceSegments)
		if err == nil {
			srtPath := filepath.Join(in.OutputDir, "subtitles.srt")
			if werr := os.WriteFile(srtPath, []byte(srt), 0o644); werr == nil {
				plan.SubtitlePath = srtPath
			} else {
				s.log.Warn("Subtitle write failed, rendering without subtitles", "error", werr.Error())
			}
		}
	}

	if music := s.renderer.PickBackgroundMusic(); music != "" {
		s.log.Info("Adding background music", "track", filepath.Base(music))
		plan.MusicPath = music
	}

	if err := s.renderer.Render(ctx, plan); err != nil {
		return "", err
	}
	return outputPath, nil
}

// prepareSlideshow fills in the image sequence, per-slide hold times, and the
// title cover frame when source art exists. The cover rides ahead of the
// slideshow as its own static frame, borrowing its hold from the first slide.
func (s *videoService) prepareSlideshow(gen *types.Generation, in VideoInput, plan *RenderPlan) {
	plan.ImagePaths = in.ImagePaths
	plan.Durations = ImageDurations(in.AudioDuration, in.VoiceSegments, len(in.ImagePaths))

	coverSource := ""
	titleOverlay := ""
	if in.CoverImagePath != "" {
		if _, err := os.Stat(in.CoverImagePath); err == nil {
			coverSource = in.CoverImagePath
		}
	}
	if coverSource == "" && len(in.ImagePaths) > 0 {
		coverSource = in.ImagePaths[0]
		titleOverlay = in.Title
	}
	if coverSource == "" {
		return
	}

	coverPath := filepath.Join(in.OutputDir, "cover.jpg")
	if err := s.cover.Compose(coverSource, coverPath, titleOverlay); err != nil {
		s.log.Warn("Cover composition failed, continuing without cover", "error", err.Error())
		return
	}
	s.log.Info("Cover image saved", "path", coverPath)

	plan.CoverPath = coverPath
	plan.CoverDuration, plan.Durations = CoverTiming(plan.Durations)
}

func (s *videoService) prepareLoopBackground(ctx context.Context, gen *types.Generation, title, outputDir string) (string, error) {
	prompt := "A high quality, cinematic video background."
	if title != "" {
		prompt = fmt.Sprintf("Cinematic background for podcast about %s, professional studio setting, 4k, highly detailed, subtle motion.", title)
	}

	clipPath := filepath.Join(outputDir, fmt.Sprintf("veo_bg_%s.mp4", gen.ID))
	if _, err := os.Stat(clipPath); err == nil {
		s.log.Info("Reusing existing loop background", "path", clipPath)
		return clipPath, nil
	}

	raw, err := s.veo.GenerateClip(ctx, VeoClipRequest{
		Model:           s.cfg.Video.Veo.Model,
		ProjectID:       s.cfg.Video.Veo.ProjectID,
		Location:        s.cfg.Video.Veo.Location,
		Prompt:          prompt,
		DurationSeconds: s.cfg.Video.Veo.DurationSeconds,
		Resolution:      s.cfg.Video.Veo.Resolution,
		AspectRatio:     s.cfg.Video.Veo.AspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("loop background generation: %w", err)
	}
	if err := os.WriteFile(clipPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write loop background: %w", err)
	}
	return clipPath, nil
}

func (s *videoService) recordOutput(ctx context.Context, gen *types.Generation, path string, duration float64, fileSize int64, success bool, errorMessage string) {
	out := &types.VideoOutput{
		GenerationID:    gen.ID,
		VideoPath:       path,
		DurationSeconds: duration,
		Resolution:      s.cfg.Output.VideoResolution,
		FileSizeBytes:   fileSize,
		Success:         success,
		ErrorMessage:    errorMessage,
	}
	if path != "" {
		out.CommandPath = filepath.Join(filepath.Dir(path), "ffmpeg_cmd.txt")
	}
	if _, err := s.videoRepo.Create(ctx, nil, out); err != nil {
		s.log.Error("Failed to record video output", "generation_id", gen.ID, "error", err.Error())
	}
}
