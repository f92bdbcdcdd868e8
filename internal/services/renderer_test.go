package services

import (
	"strings"
	"testing"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
)

func testRenderer(t *testing.T, motion bool) Renderer {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := &config.Config{}
	cfg.Output.VideoResolution = "1920x1080"
	cfg.Output.SubtitleFontSize = 24
	cfg.Video.MotionEffect = motion

	r, err := NewRenderer(cfg, NewMediaTools(log), log)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func filterComplex(t *testing.T, args []string) string {
	t.Helper()
	for i, a := range args {
		if a == "-filter_complex" && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("no -filter_complex in %v", args)
	return ""
}

func TestBuildFFmpegArgsSlideshow(t *testing.T) {
	r := testRenderer(t, true)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		ImagePaths:        []string{"a.png", "b.png", "c.png"},
		Durations:         []float64{6, 7, 9},
		AudioPath:         "voice.mp3",
		OutputPath:        "/tmp/out.mp4",
		AudioDuration:     20,
		EnableTransitions: true,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	joined := strings.Join(args, " ")

	// All but the last still run past their slot by one transition.
	for _, want := range []string{
		"-loop 1 -t 6.50 -i a.png",
		"-loop 1 -t 7.50 -i b.png",
		"-loop 1 -t 9.00 -i c.png",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}

	fc := filterComplex(t, args)
	for _, want := range []string{
		"zoompan=z='min(zoom+0.0005,1.15)':d=700",
		"s=1920x1080:fps=24",
		"[v_img_0][v_img_1]xfade=transition=fade:duration=0.50:offset=5.50[v_slide_out_1]",
		"[v_slide_out_1][v_img_2]xfade=transition=fade:duration=0.50:offset=12.00[v_slide_out_2]",
		"[v_slide_out_2]copy[vconcat]",
		"[vconcat]fade=t=out:st=21.70:d=0.30[vfaded]",
		"[vfaded]copy[outv]",
		"[3:a]apad=pad_dur=2,afade=t=in:st=0:d=0.30,afade=t=out:st=20.00:d=2.00[voice_a]",
		"[voice_a]acopy[outa]",
	} {
		if !strings.Contains(fc, want) {
			t.Fatalf("filter graph missing %q: %s", want, fc)
		}
	}

	tail := strings.Join(args[len(args)-20:], " ")
	want := "-map [outv] -map [outa] -c:v libx264 -preset veryfast -crf 23 -c:a aac -b:a 128k -shortest -pix_fmt yuv420p -movflags +faststart /tmp/out.mp4"
	if tail != want {
		t.Fatalf("output args %q, want %q", tail, want)
	}
}

func TestBuildFFmpegArgsCoverLeadsIntro(t *testing.T) {
	r := testRenderer(t, true)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		CoverPath:         "cover.jpg",
		CoverDuration:     1.0,
		IntroClipPath:     "intro.mp4",
		ImagePaths:        []string{"a.png", "b.png"},
		Durations:         []float64{5, 7},
		AudioPath:         "voice.mp3",
		OutputPath:        "out.mp4",
		AudioDuration:     12,
		EnableTransitions: true,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	joined := strings.Join(args, " ")
	coverAt := strings.Index(joined, "-loop 1 -t 1.00 -i cover.jpg")
	introAt := strings.Index(joined, "-i intro.mp4")
	if coverAt < 0 || introAt < 0 {
		t.Fatalf("cover or intro input missing: %s", joined)
	}
	if coverAt > introAt {
		t.Fatalf("cover input must precede intro: %s", joined)
	}

	fc := filterComplex(t, args)

	// The cover is a static letterboxed frame, never zoompan'd.
	if !strings.Contains(fc, "[0:v]scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2:black,setsar=1[v_cover]") {
		t.Fatalf("cover must be letterboxed without motion: %s", fc)
	}
	if strings.Contains(fc, "[v_cover][v_img") {
		t.Fatalf("cover must not feed the crossfade chain: %s", fc)
	}

	// Crossfades run only inside the slideshow; cover and intro hard-concat
	// ahead of it.
	for _, want := range []string{
		"[v_img_0][v_img_1]xfade=transition=fade:duration=0.50:offset=4.50[v_slide_out_1]",
		"[v_cover][v_intro][v_slide_out_1]concat=n=3:v=1:a=0[vconcat]",
	} {
		if !strings.Contains(fc, want) {
			t.Fatalf("filter graph missing %q: %s", want, fc)
		}
	}
}

func TestBuildFFmpegArgsCoverDefaultHold(t *testing.T) {
	r := testRenderer(t, false)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		CoverPath:     "cover.jpg",
		ImagePaths:    []string{"a.png"},
		Durations:     []float64{5},
		AudioPath:     "voice.mp3",
		OutputPath:    "out.mp4",
		AudioDuration: 4,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-loop 1 -t 1.00 -i cover.jpg") {
		t.Fatalf("cover hold should default to 1.00s: %s", joined)
	}

	fc := filterComplex(t, args)
	if !strings.Contains(fc, "[v_cover][v_img_0]concat=n=2:v=1:a=0[vconcat]") {
		t.Fatalf("cover must hard-concat ahead of the slides: %s", fc)
	}
}

func TestBuildFFmpegArgsHardCuts(t *testing.T) {
	r := testRenderer(t, false)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		ImagePaths:        []string{"a.png", "b.png"},
		Durations:         []float64{5, 5},
		AudioPath:         "voice.mp3",
		OutputPath:        "out.mp4",
		AudioDuration:     8,
		EnableTransitions: false,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-loop 1 -t 5.00 -i a.png") {
		t.Fatalf("hard cuts must not extend input durations: %s", joined)
	}

	fc := filterComplex(t, args)
	if strings.Contains(fc, "xfade") {
		t.Fatalf("hard cuts must not use xfade: %s", fc)
	}
	if strings.Contains(fc, "zoompan") {
		t.Fatalf("motion disabled, zoompan unexpected: %s", fc)
	}
	if !strings.Contains(fc, "[v_img_0][v_img_1]concat=n=2:v=1:a=0[vconcat]") {
		t.Fatalf("expected concat of both slides: %s", fc)
	}
	if !strings.Contains(fc, "scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2:black,setsar=1") {
		t.Fatalf("expected letterbox filter: %s", fc)
	}
}

func TestBuildFFmpegArgsLoopBackground(t *testing.T) {
	r := testRenderer(t, true)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		VideoBackgroundPath: "bg.mp4",
		AudioPath:           "voice.mp3",
		OutputPath:          "out.mp4",
		AudioDuration:       30,
		EnableTransitions:   true,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-stream_loop -1 -i bg.mp4") {
		t.Fatalf("loop background input missing: %s", joined)
	}

	fc := filterComplex(t, args)
	if !strings.Contains(fc, "setsar=1[vconcat]") {
		t.Fatalf("loop background must feed [vconcat] directly: %s", fc)
	}
	if strings.Contains(fc, "xfade") || strings.Contains(fc, "concat=n=") {
		t.Fatalf("loop mode must not build a slideshow: %s", fc)
	}
}

func TestBuildFFmpegArgsMusicMix(t *testing.T) {
	r := testRenderer(t, false)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		ImagePaths:    []string{"a.png"},
		Durations:     []float64{12},
		AudioPath:     "voice.mp3",
		MusicPath:     "music.mp3",
		OutputPath:    "out.mp4",
		AudioDuration: 10,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	fc := filterComplex(t, args)
	for _, want := range []string{
		"aloop=loop=-1:size=2e+09,volume=0.1",
		"afade=t=out:st=10.00:d=2.00[music_a]",
		"[voice_a][music_a]amix=inputs=2:duration=first:dropout_transition=2[outa]",
	} {
		if !strings.Contains(fc, want) {
			t.Fatalf("music chain missing %q: %s", want, fc)
		}
	}
	if strings.Contains(fc, "acopy") {
		t.Fatalf("acopy should not appear when music is mixed: %s", fc)
	}
}

func TestBuildFFmpegArgsSubtitleEscaping(t *testing.T) {
	r := testRenderer(t, false)

	args, err := r.BuildFFmpegArgs(RenderPlan{
		ImagePaths:    []string{"a.png"},
		Durations:     []float64{5},
		AudioPath:     "voice.mp3",
		SubtitlePath:  "C:/tmp/it's.srt",
		OutputPath:    "out.mp4",
		AudioDuration: 3,
	})
	if err != nil {
		t.Fatalf("BuildFFmpegArgs: %v", err)
	}

	fc := filterComplex(t, args)
	if !strings.Contains(fc, `subtitles='C\:/tmp/it\'s.srt':force_style='FontSize=24,PrimaryColour=&HFFFFFF&,OutlineColour=&H000000&,Outline=2,MarginV=20'[outv]`) {
		t.Fatalf("subtitle escaping wrong: %s", fc)
	}
}

func TestBuildFFmpegArgsMismatchedDurations(t *testing.T) {
	r := testRenderer(t, false)

	if _, err := r.BuildFFmpegArgs(RenderPlan{
		ImagePaths:    []string{"a.png", "b.png"},
		Durations:     []float64{5},
		AudioPath:     "voice.mp3",
		OutputPath:    "out.mp4",
		AudioDuration: 3,
	}); err == nil {
		t.Fatalf("expected error for mismatched image/duration counts")
	}
}

func TestBuildFFmpegArgsNoVisuals(t *testing.T) {
	r := testRenderer(t, false)

	if _, err := r.BuildFFmpegArgs(RenderPlan{
		AudioPath:     "voice.mp3",
		OutputPath:    "out.mp4",
		AudioDuration: 3,
	}); err == nil {
		t.Fatalf("expected error when no visual inputs are given")
	}
}
