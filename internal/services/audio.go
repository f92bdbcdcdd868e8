package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/types"
)

// AudioService turns the dialogue script into a single narrated MP3 with
// per-line timing, optionally sped up by the configured ratio.
type AudioService interface {
	Generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, outputDir string) (*AudioResult, error)
}

type AudioResult struct {
	AudioPath       string
	DurationSeconds float64
	Segments        []types.VoiceSegment
}

type audioService struct {
	log       *logger.Logger
	cfg       *config.Config
	tts       ElevenLabsClient
	tools     MediaTools
	audioRepo repos.AudioRequestRepo
	genRepo   repos.GenerationRepo
}

func NewAudioService(
	cfg *config.Config,
	tts ElevenLabsClient,
	tools MediaTools,
	audioRepo repos.AudioRequestRepo,
	genRepo repos.GenerationRepo,
	log *logger.Logger,
) AudioService {
	return &audioService{
		log:       log.With("service", "AudioService"),
		cfg:       cfg,
		tts:       tts,
		tools:     tools,
		audioRepo: audioRepo,
		genRepo:   genRepo,
	}
}

func (s *audioService) Generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, outputDir string) (*AudioResult, error) {
	req, err := s.audioRepo.Create(ctx, nil, gen.ID, len(dialogue))
	if err != nil {
		return nil, fmt.Errorf("create audio request: %w", err)
	}

	result, genErr := s.generate(ctx, gen, dialogue, outputDir)
	if genErr != nil {
		s.failRequest(ctx, req.ID, gen.ID, genErr)
		return nil, genErr
	}

	if err := s.audioRepo.MarkSuccess(ctx, nil, req.ID, result.AudioPath, result.DurationSeconds, result.Segments); err != nil {
		return nil, fmt.Errorf("record audio success: %w", err)
	}
	if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusAudioComplete, "", map[string]interface{}{
		"audio_path": result.AudioPath,
	}); err != nil {
		return nil, fmt.Errorf("advance generation status: %w", err)
	}

	s.log.Info("Audio generated",
		"generation_id", gen.ID,
		"duration_seconds", result.DurationSeconds,
		"segments", len(result.Segments),
	)
	return result, nil
}

func (s *audioService) generate(ctx context.Context, gen *types.Generation, dialogue []types.DialogueLine, outputDir string) (*AudioResult, error) {
	voiceMap := s.cfg.VoiceMap(gen.Language)

	inputs := make([]DialogueInput, 0, len(dialogue))
	for _, line := range dialogue {
		voiceID, ok := voiceMap[line.Speaker]
		if !ok {
			return nil, fmt.Errorf("unknown speaker: %s", line.Speaker)
		}
		inputs = append(inputs, DialogueInput{VoiceID: voiceID, Text: line.Text})
	}

	synth, err := s.tts.TextToDialogue(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("text-to-dialogue: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	originalPath := filepath.Join(outputDir, fmt.Sprintf("audio_%s_original.mp3", gen.ID))
	finalPath := filepath.Join(outputDir, fmt.Sprintf("audio_%s.mp3", gen.ID))

	if err := os.WriteFile(originalPath, synth.Audio, 0o644); err != nil {
		return nil, fmt.Errorf("write original audio: %w", err)
	}

	segments := synth.Segments
	speedRatio := s.cfg.Audio.SpeedRatio
	if math.Abs(speedRatio-1.0) > 0.01 {
		if err := s.tools.AdjustAudioSpeed(ctx, originalPath, finalPath, speedRatio); err != nil {
			s.log.Warn("Audio speed-up failed, keeping original pace", "error", err.Error())
			if err := copyFile(originalPath, finalPath); err != nil {
				return nil, err
			}
		} else {
			segments = rescaleSegments(segments, speedRatio)
		}
	} else {
		if err := copyFile(originalPath, finalPath); err != nil {
			return nil, err
		}
	}

	duration := types.SpeechDuration(segments)

	// The segment timeline is authoritative; the probe only flags drift
	// between the written file and the timings the render will use.
	if probed, err := s.tools.ProbeDuration(ctx, finalPath); err != nil {
		s.log.Debug("Audio duration probe failed", "path", finalPath, "error", err.Error())
	} else if math.Abs(probed-duration) > 1.0 {
		s.log.Warn("Audio file duration diverges from segment timings",
			"probed_seconds", probed,
			"segment_seconds", duration,
		)
	}

	return &AudioResult{
		AudioPath:       finalPath,
		DurationSeconds: duration,
		Segments:        segments,
	}, nil
}

// rescaleSegments maps segment timings onto the sped-up track: a clip played
// at ratio r finishes in 1/r of the original time.
func rescaleSegments(segments []types.VoiceSegment, ratio float64) []types.VoiceSegment {
	scale := 1.0 / ratio
	scaled := make([]types.VoiceSegment, len(segments))
	for i, seg := range segments {
		scaled[i] = types.VoiceSegment{
			StartTimeSeconds: seg.StartTimeSeconds * scale,
			EndTimeSeconds:   seg.EndTimeSeconds * scale,
			VoiceID:          seg.VoiceID,
		}
	}
	return scaled
}

func (s *audioService) failRequest(ctx context.Context, reqID, genID uuid.UUID, cause error) {
	if err := s.audioRepo.MarkFailure(ctx, nil, reqID, cause.Error()); err != nil {
		s.log.Error("Failed to record audio failure", "request_id", reqID, "error", err.Error())
	}
	msg := fmt.Sprintf("Audio generation failed: %v", cause)
	if err := s.genRepo.UpdateStatus(ctx, nil, genID, types.StatusFailed, msg, nil); err != nil {
		s.log.Error("Failed to mark generation failed", "generation_id", genID, "error", err.Error())
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}
