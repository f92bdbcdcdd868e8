package services

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/castforge/castforge-backend/internal/logger"
)

// MediaTools shells out to ffmpeg/ffprobe for probing and transcoding.
type MediaTools interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	AdjustAudioSpeed(ctx context.Context, inPath, outPath string, ratio float64) error
	RunFFmpeg(ctx context.Context, args []string) error
}

type mediaTools struct {
	log         *logger.Logger
	ffmpegPath  string
	ffprobePath string
}

func NewMediaTools(log *logger.Logger) MediaTools {
	return &mediaTools{
		log:         log.With("service", "MediaTools"),
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

func (m *mediaTools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := exec.CommandContext(ctx, m.ffprobePath, args...).CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w; out=%s", err, string(out))
	}
	val := strings.TrimSpace(string(out))
	dur, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration parse %q: %w", val, err)
	}
	return dur, nil
}

// AdjustAudioSpeed re-encodes the track through an atempo filter. Ratios are
// clamped to ffmpeg's single-filter range of 0.5..2.0.
func (m *mediaTools) AdjustAudioSpeed(ctx context.Context, inPath, outPath string, ratio float64) error {
	if ratio < 0.5 {
		ratio = 0.5
	}
	if ratio > 2.0 {
		ratio = 2.0
	}

	args := []string{
		"-y",
		"-i", inPath,
		"-filter:a", fmt.Sprintf("atempo=%.4f", ratio),
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		outPath,
	}
	out, err := exec.CommandContext(ctx, m.ffmpegPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg atempo failed: %w; out=%s", err, string(out))
	}
	return nil
}

func (m *mediaTools) RunFFmpeg(ctx context.Context, args []string) error {
	m.log.Debug("Running ffmpeg", "arg_count", len(args))
	out, err := exec.CommandContext(ctx, m.ffmpegPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w; out=%s", err, string(out))
	}
	return nil
}
