package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/types"
)

// ImageService illustrates the episode: it asks a text model for key scenes,
// renders each scene as an image with bounded retries, and optionally
// produces dedicated cover art.
type ImageService interface {
	Generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, summary, outputDir string) ([]string, error)

	// GenerateCover is best-effort: a failure returns an empty path, never an
	// error that should stop the pipeline.
	GenerateCover(ctx context.Context, gen *types.Generation, title, summary, outputDir string) string
}

const scenePromptTemplate = `You are an expert visual storyteller. Analyze the podcast dialogue below and extract【exactly %d】key scenes that are most visually impactful.
This is CRITICAL: You must return exactly %d scenes.

Dialogue Context:
%s

Topic Summary:
%s

Task:
Generate a detailed English image prompt for %d distinct scenes.
For each scene, consider the cultural likely context (e.g., if talking about Chinese history, specify "ancient China style"; if modern tech, "futuristic modern lab"). DO NOT default to any specific ethnicity unless the context implies it.

Requirements:
1. Return a JSON array with exactly %d objects.
2. Prompts must be highly detailed, describing:
   - Subject (who/what)
   - Action (what is happening)
   - Environment (lighting, background, weather)
   - Mood/Atmosphere
   - Photographic Style: %s, cinematic lighting, 8k resolution, highly detailed
3. Ensure visual variety across scenes.

Output Format (JSON Array):
` + "```json" + `
[
  {"scene": "Brief description of scene 1", "prompt": "Detailed English prompt for scene 1, including subject, action, lighting, style"},
  {"scene": "Brief description of scene 2", "prompt": "Detailed English prompt for scene 2"},
  ...
]
` + "```"

const coverPromptTemplate = `You are an expert graphical designer for podcast covers.
Title: "%s"
Topic Summary: "%s"

Task:
Create a high-impact, minimalist, and professional podcast cover art prompt.

Requirements:
1. **Style**: %s. Must look premium and eye-catching on small screens (like Spotify/Apple Podcasts).
2. **Typography**: The image MUST include the title "%s" integrated into the design. The text should be bold, legible, and artistic.
3. **Composition**: Center-weighted or balanced. Text should be the focal point or seamlessly integrated with the imagery.
4. **Elements**: Use symbolic or metaphorical imagery representing the topic. Avoid clutter.
5. **Lighting**: Dramatic, studio quality, or soft natural light depending on the mood.

Return ONLY the English image prompt descriptions.
`

const (
	imageMaxRetries    = 3
	imageRetryDelay    = 2 * time.Second
	coverImageModel    = "gemini-3-pro-image-preview"
	sceneExtractTokens = 4096
)

// Scene is one illustrated moment extracted from the dialogue.
type Scene struct {
	Scene  string `json:"scene"`
	Prompt string `json:"prompt"`
}

type imageService struct {
	log       *logger.Logger
	cfg       *config.Config
	gemini    GeminiClient
	imageRepo repos.ImageRequestRepo
	genRepo   repos.GenerationRepo

	cooldown   time.Duration
	retryDelay time.Duration
}

func NewImageService(
	cfg *config.Config,
	gemini GeminiClient,
	imageRepo repos.ImageRequestRepo,
	genRepo repos.GenerationRepo,
	log *logger.Logger,
) ImageService {
	return &imageService{
		log:        log.With("service", "ImageService"),
		cfg:        cfg,
		gemini:     gemini,
		imageRepo:  imageRepo,
		genRepo:    genRepo,
		cooldown:   time.Duration(cfg.Images.CooldownSec) * time.Second,
		retryDelay: imageRetryDelay,
	}
}

// ImageCountForDialogue scales illustration count to dialogue length, one
// image per countPerLines lines, clamped to [minCount, maxCount].
func ImageCountForDialogue(dialogueLen, countPerLines, minCount, maxCount int) int {
	if countPerLines <= 0 {
		countPerLines = 1
	}
	count := dialogueLen / countPerLines
	if count < 1 {
		count = 1
	}
	if count < minCount {
		count = minCount
	}
	if count > maxCount {
		count = maxCount
	}
	return count
}

func (s *imageService) Generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, summary, outputDir string) ([]string, error) {
	paths, genErr := s.generate(ctx, gen, dialogue, summary, outputDir)
	if genErr != nil {
		msg := fmt.Sprintf("Image generation failed: %v", genErr)
		if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusFailed, msg, nil); err != nil {
			s.log.Error("Failed to mark generation failed", "generation_id", gen.ID, "error", err.Error())
		}
		return nil, genErr
	}

	if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusImagesComplete, "", nil); err != nil {
		return nil, fmt.Errorf("advance generation status: %w", err)
	}
	return paths, nil
}

func (s *imageService) generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, summary, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	imageCount := ImageCountForDialogue(len(dialogue),
		s.cfg.Images.CountPerLines, s.cfg.Images.MinCount, s.cfg.Images.MaxCount)

	scenes, err := s.extractScenes(ctx, dialogue, summary, imageCount)
	if err != nil {
		return nil, fmt.Errorf("scene extraction: %w", err)
	}
	if len(scenes) > imageCount {
		scenes = scenes[:imageCount]
	}

	var imagePaths []string
	for i, scene := range scenes {
		if strings.TrimSpace(scene.Prompt) == "" {
			continue
		}

		req, err := s.imageRepo.Create(ctx, nil, gen.ID, scene.Prompt, i, false)
		if err != nil {
			return nil, fmt.Errorf("create image request: %w", err)
		}

		imagePath := filepath.Join(outputDir, fmt.Sprintf("image_%s_%d.png", gen.ID, i))
		raw, retries, genErr := s.generateWithRetry(ctx, scene.Prompt, s.cfg.Images.Model)

		if genErr != nil {
			if err := s.imageRepo.MarkOutcome(ctx, nil, req.ID, "", false, genErr.Error(), retries); err != nil {
				s.log.Error("Failed to record image failure", "request_id", req.ID, "error", err.Error())
			}
			s.log.Warn("Image failed after retries",
				"generation_id", gen.ID, "image_index", i, "retries", retries, "error", genErr.Error())
			continue
		}

		if err := os.WriteFile(imagePath, raw, 0o644); err != nil {
			return nil, fmt.Errorf("write image %d: %w", i, err)
		}
		if err := s.imageRepo.MarkOutcome(ctx, nil, req.ID, imagePath, true, "", retries); err != nil {
			s.log.Error("Failed to record image success", "request_id", req.ID, "error", err.Error())
		}
		imagePaths = append(imagePaths, imagePath)

		if i < len(scenes)-1 && s.cooldown > 0 {
			s.log.Debug("Cooling down between image generations", "sleep", s.cooldown.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cooldown):
			}
		}
	}

	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no images were generated successfully")
	}
	return imagePaths, nil
}

// generateWithRetry runs the bounded retry loop without touching the
// database; the caller records the final outcome once.
func (s *imageService) generateWithRetry(ctx context.Context, prompt, model string) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt < imageMaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}

		raw, err := s.gemini.GenerateImage(ctx, GeminiImageRequest{
			Model:       model,
			Prompt:      prompt,
			AspectRatio: s.cfg.Images.AspectRatio,
		})
		if err == nil {
			return raw, attempt, nil
		}
		lastErr = err

		if !IsRetryableContentError(err) {
			return nil, attempt + 1, err
		}
		if attempt < imageMaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, attempt + 1, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
	return nil, imageMaxRetries, lastErr
}

func (s *imageService) extractScenes(ctx context.Context, dialogue []types.DialogueLine, summary string, count int) ([]Scene, error) {
	var lines []string
	for _, line := range dialogue {
		lines = append(lines, fmt.Sprintf("%s: %s", line.Speaker, line.Text))
	}

	prompt := fmt.Sprintf(scenePromptTemplate,
		count, count, strings.Join(lines, "\n"), summary, count, count, s.cfg.Images.Style)

	result, err := s.gemini.GenerateText(ctx, GeminiTextRequest{
		Model:           s.cfg.Dialogue.Model,
		Prompt:          prompt,
		Temperature:     0.7,
		MaxOutputTokens: sceneExtractTokens,
	})
	if err != nil {
		return nil, err
	}
	return ParseScenes(result.Text)
}

var fencedArrayRe = regexp.MustCompile(`\[[\s\S]*\]`)

// ParseScenes decodes the JSON scene array out of a possibly-fenced reply.
func ParseScenes(text string) ([]Scene, error) {
	var jsonStr string
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		jsonStr = strings.TrimSpace(m[1])
	} else if m := fencedArrayRe.FindString(text); m != "" {
		jsonStr = m
	} else {
		return nil, fmt.Errorf("no JSON found in scene response")
	}

	var scenes []Scene
	if err := json.Unmarshal([]byte(jsonStr), &scenes); err != nil {
		return nil, fmt.Errorf("parse scene JSON: %w", err)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("scene response contained no scenes")
	}
	return scenes, nil
}

func (s *imageService) GenerateCover(ctx context.Context, gen *types.Generation, title, summary, outputDir string) string {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		s.log.Warn("Cover output dir unavailable", "error", err.Error())
		return ""
	}
	coverPath := filepath.Join(outputDir, fmt.Sprintf("cover_%s_raw.png", gen.ID))

	refinePrompt := fmt.Sprintf(coverPromptTemplate, title, summary, s.cfg.Images.Style, title)
	refined, err := s.gemini.GenerateText(ctx, GeminiTextRequest{
		Model:           s.cfg.Dialogue.Model,
		Prompt:          refinePrompt,
		Temperature:     0.7,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		s.log.Warn("Cover prompt refinement failed", "generation_id", gen.ID, "error", err.Error())
		return ""
	}
	imagePrompt := strings.TrimSpace(refined.Text)

	req, err := s.imageRepo.Create(ctx, nil, gen.ID, imagePrompt, 0, true)
	if err != nil {
		s.log.Warn("Cover request record failed", "generation_id", gen.ID, "error", err.Error())
		return ""
	}

	raw, retries, genErr := s.generateWithRetry(ctx, imagePrompt, coverImageModel)
	if genErr != nil {
		if err := s.imageRepo.MarkOutcome(ctx, nil, req.ID, "", false, genErr.Error(), retries); err != nil {
			s.log.Error("Failed to record cover failure", "request_id", req.ID, "error", err.Error())
		}
		s.log.Warn("Cover art generation failed", "generation_id", gen.ID, "error", genErr.Error())
		return ""
	}

	if err := os.WriteFile(coverPath, raw, 0o644); err != nil {
		s.log.Warn("Cover write failed", "path", coverPath, "error", err.Error())
		return ""
	}
	if err := s.imageRepo.MarkOutcome(ctx, nil, req.ID, coverPath, true, "", retries); err != nil {
		s.log.Error("Failed to record cover success", "request_id", req.ID, "error", err.Error())
	}

	s.log.Info("Cover art generated", "generation_id", gen.ID, "path", coverPath)
	return coverPath
}
