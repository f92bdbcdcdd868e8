package services

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
)

// Renderer assembles and runs the final ffmpeg composition: slideshow or
// looping background, crossfades, fade-out, subtitles, voice and music mix.
type Renderer interface {
	BuildFFmpegArgs(plan RenderPlan) ([]string, error)
	Render(ctx context.Context, plan RenderPlan) error
	PickBackgroundMusic() string
}

// RenderPlan is the full input to one ffmpeg invocation.
type RenderPlan struct {
	ImagePaths []string
	Durations  []float64
	AudioPath  string
	OutputPath string

	AudioDuration float64
	SubtitlePath  string
	MusicPath     string

	// CoverPath is held as a static opening frame ahead of the intro clip
	// and the slideshow. It never gets motion or crossfades.
	CoverPath     string
	CoverDuration float64

	// VideoBackgroundPath switches to loop mode: a single clip looped for
	// the whole runtime instead of the slideshow.
	VideoBackgroundPath string
	IntroClipPath       string

	EnableTransitions bool
}

type renderer struct {
	log   *logger.Logger
	tools MediaTools

	resolution       string
	width            string
	height           string
	subtitleFontSize int
	subtitleMargin   int
	fadeDuration     float64
	transitionDur    float64
	enableMotion     bool
	musicDir         string
}

func NewRenderer(cfg *config.Config, tools MediaTools, log *logger.Logger) (Renderer, error) {
	res := cfg.Output.VideoResolution
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid video resolution %q", res)
	}
	return &renderer{
		log:              log.With("service", "Renderer"),
		tools:            tools,
		resolution:       res,
		width:            parts[0],
		height:           parts[1],
		subtitleFontSize: cfg.Output.SubtitleFontSize,
		subtitleMargin:   20,
		fadeDuration:     0.3,
		transitionDur:    0.5,
		enableMotion:     cfg.Video.MotionEffect,
		musicDir:         cfg.Assets.MusicDir,
	}, nil
}

func (r *renderer) letterboxFilter(inputIdx int, outLabel string) string {
	return fmt.Sprintf("[%d:v]scale=%s:%s:force_original_aspect_ratio=decrease,"+
		"pad=%s:%s:(ow-iw)/2:(oh-ih)/2:black,setsar=1[%s]",
		inputIdx, r.width, r.height, r.width, r.height, outLabel)
}

func (r *renderer) kenBurnsFilter(inputIdx int, outLabel string) string {
	return fmt.Sprintf("[%d:v]scale=1920:-2,"+
		"zoompan=z='min(zoom+0.0005,1.15)':d=700:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=%s:fps=24,"+
		"setsar=1[%s]",
		inputIdx, r.resolution, outLabel)
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func (r *renderer) BuildFFmpegArgs(plan RenderPlan) ([]string, error) {
	var inputs []string
	var filterParts []string
	var concatNodes []string
	inputCounter := 0

	nextInput := func() int {
		idx := inputCounter
		inputCounter++
		return idx
	}

	if plan.VideoBackgroundPath != "" {
		inputs = append(inputs, "-stream_loop", "-1", "-i", plan.VideoBackgroundPath)
		idx := nextInput()
		filterParts = append(filterParts, r.letterboxFilter(idx, "vconcat"))
	} else {
		if plan.CoverPath != "" {
			coverDur := plan.CoverDuration
			if coverDur <= 0 {
				coverDur = coverHoldSeconds
			}
			inputs = append(inputs, "-loop", "1", "-t", formatSeconds(coverDur), "-i", plan.CoverPath)
			idx := nextInput()
			filterParts = append(filterParts, r.letterboxFilter(idx, "v_cover"))
			concatNodes = append(concatNodes, "[v_cover]")
		}

		if plan.IntroClipPath != "" {
			inputs = append(inputs, "-i", plan.IntroClipPath)
			idx := nextInput()
			filterParts = append(filterParts, r.letterboxFilter(idx, "v_intro"))
			concatNodes = append(concatNodes, "[v_intro]")
		}

		if len(plan.ImagePaths) != len(plan.Durations) {
			return nil, fmt.Errorf("image/duration count mismatch: %d vs %d",
				len(plan.ImagePaths), len(plan.Durations))
		}

		var slideshowNodes []string
		for i, imgPath := range plan.ImagePaths {
			inputDuration := plan.Durations[i]
			if plan.EnableTransitions && i < len(plan.ImagePaths)-1 {
				// Crossfades overlap, so each input runs past its slot.
				inputDuration += r.transitionDur
			}

			inputs = append(inputs, "-loop", "1", "-t", formatSeconds(inputDuration), "-i", imgPath)
			idx := nextInput()

			label := fmt.Sprintf("v_img_%d", i)
			if r.enableMotion && plan.EnableTransitions {
				filterParts = append(filterParts, r.kenBurnsFilter(idx, label))
			} else {
				filterParts = append(filterParts, r.letterboxFilter(idx, label))
			}
			slideshowNodes = append(slideshowNodes, "["+label+"]")
		}

		if len(slideshowNodes) > 0 {
			if plan.EnableTransitions && len(slideshowNodes) > 1 {
				current := slideshowNodes[0]
				offset := plan.Durations[0] - r.transitionDur
				for i := 1; i < len(slideshowNodes); i++ {
					out := fmt.Sprintf("[v_slide_out_%d]", i)
					filterParts = append(filterParts, fmt.Sprintf(
						"%s%sxfade=transition=fade:duration=%s:offset=%.2f%s",
						current, slideshowNodes[i], formatSeconds(r.transitionDur), offset, out))
					current = out
					offset += plan.Durations[i] - r.transitionDur
				}
				concatNodes = append(concatNodes, current)
			} else {
				concatNodes = append(concatNodes, slideshowNodes...)
			}
		}

		if len(concatNodes) == 0 {
			return nil, fmt.Errorf("no visual inputs")
		}
		if len(concatNodes) > 1 {
			filterParts = append(filterParts, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[vconcat]",
				strings.Join(concatNodes, ""), len(concatNodes)))
		} else {
			filterParts = append(filterParts, concatNodes[0]+"copy[vconcat]")
		}
	}

	fadeOutStart := plan.AudioDuration + tailPadSeconds - r.fadeDuration
	filterParts = append(filterParts, fmt.Sprintf("[vconcat]fade=t=out:st=%s:d=%s[vfaded]",
		formatSeconds(fadeOutStart), formatSeconds(r.fadeDuration)))

	if plan.SubtitlePath != "" {
		escaped := strings.ReplaceAll(plan.SubtitlePath, ":", `\:`)
		escaped = strings.ReplaceAll(escaped, "'", `\'`)
		filterParts = append(filterParts, fmt.Sprintf(
			"[vfaded]subtitles='%s':force_style='FontSize=%d,PrimaryColour=&HFFFFFF&,"+
				"OutlineColour=&H000000&,Outline=2,MarginV=%d'[outv]",
			escaped, r.subtitleFontSize, r.subtitleMargin))
	} else {
		filterParts = append(filterParts, "[vfaded]copy[outv]")
	}

	audioIdx := nextInput()
	inputs = append(inputs, "-i", plan.AudioPath)

	filterParts = append(filterParts, fmt.Sprintf(
		"[%d:a]apad=pad_dur=2,afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=2.00[voice_a]",
		audioIdx, formatSeconds(r.fadeDuration), formatSeconds(plan.AudioDuration)))

	if plan.MusicPath != "" {
		musicIdx := nextInput()
		inputs = append(inputs, "-i", plan.MusicPath)
		filterParts = append(filterParts, fmt.Sprintf(
			"[%d:a]aloop=loop=-1:size=2e+09,volume=0.1,afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=2.00[music_a]",
			musicIdx, formatSeconds(r.fadeDuration), formatSeconds(plan.AudioDuration)))
		filterParts = append(filterParts,
			"[voice_a][music_a]amix=inputs=2:duration=first:dropout_transition=2[outa]")
	} else {
		filterParts = append(filterParts, "[voice_a]acopy[outa]")
	}

	args := []string{"-y"}
	args = append(args, inputs...)
	args = append(args,
		"-filter_complex", strings.Join(filterParts, ";"),
		"-map", "[outv]",
		"-map", "[outa]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-shortest",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		plan.OutputPath,
	)
	return args, nil
}

func (r *renderer) Render(ctx context.Context, plan RenderPlan) error {
	args, err := r.BuildFFmpegArgs(plan)
	if err != nil {
		return err
	}

	// Keep the exact invocation next to the output for debugging.
	cmdPath := filepath.Join(filepath.Dir(plan.OutputPath), "ffmpeg_cmd.txt")
	if err := os.WriteFile(cmdPath, []byte("ffmpeg "+strings.Join(args, " ")), 0o644); err != nil {
		r.log.Warn("Failed to persist ffmpeg command", "path", cmdPath, "error", err.Error())
	}

	r.log.Info("Rendering video", "output", plan.OutputPath, "inputs", len(plan.ImagePaths))
	return r.tools.RunFFmpeg(ctx, args)
}

// PickBackgroundMusic returns a random mp3/wav from the music directory, or
// empty when none are available.
func (r *renderer) PickBackgroundMusic() string {
	if r.musicDir == "" {
		return ""
	}
	entries, err := os.ReadDir(r.musicDir)
	if err != nil {
		return ""
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".mp3" || ext == ".wav" {
			candidates = append(candidates, filepath.Join(r.musicDir, e.Name()))
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}
