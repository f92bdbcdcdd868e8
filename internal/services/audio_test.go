package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
)

type fakeTTSClient struct {
	audio    []byte
	segments []types.VoiceSegment
	inputs   []DialogueInput
	err      error
}

func (f *fakeTTSClient) TextToDialogue(ctx context.Context, inputs []DialogueInput) (*DialogueAudio, error) {
	f.inputs = inputs
	if f.err != nil {
		return nil, f.err
	}
	return &DialogueAudio{Audio: f.audio, Segments: f.segments}, nil
}

type fakeMediaTools struct {
	probeDuration float64
	probeErr      error
	probeCalls    int
	probedPath    string

	adjustRatio float64
	adjustCalls int
	adjustErr   error
}

func (f *fakeMediaTools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.probeCalls++
	f.probedPath = path
	return f.probeDuration, f.probeErr
}

func (f *fakeMediaTools) AdjustAudioSpeed(ctx context.Context, inPath, outPath string, ratio float64) error {
	f.adjustCalls++
	f.adjustRatio = ratio
	if f.adjustErr != nil {
		return f.adjustErr
	}
	return os.WriteFile(outPath, []byte("adjusted"), 0o644)
}

func (f *fakeMediaTools) RunFFmpeg(ctx context.Context, args []string) error {
	return nil
}

func audioTestConfig(speedRatio float64) *config.Config {
	cfg := &config.Config{}
	cfg.Audio.SpeedRatio = speedRatio
	cfg.Dialogue.Speakers = map[string][]config.Speaker{
		"CN": {
			{Name: "晓琳", VoiceID: "voice-a"},
			{Name: "老王", VoiceID: "voice-b"},
		},
	}
	return cfg
}

func newAudioFixture(t *testing.T, speedRatio float64, tts *fakeTTSClient, tools *fakeMediaTools) (AudioService, *fakeGenerationRepo, *types.Generation) {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	gen := &types.Generation{Language: "CN", Status: types.StatusDialogueComplete}
	genRepo := &fakeGenerationRepo{gen: gen}
	svc := NewAudioService(audioTestConfig(speedRatio), tts, tools, &fakeAudioRequestRepo{}, genRepo, log)
	return svc, genRepo, gen
}

func TestRescaleSegments(t *testing.T) {
	segments := []types.VoiceSegment{
		{StartTimeSeconds: 0, EndTimeSeconds: 6, VoiceID: "voice-a"},
		{StartTimeSeconds: 6, EndTimeSeconds: 12, VoiceID: "voice-b"},
	}

	cases := []struct {
		name  string
		ratio float64
		want  []types.VoiceSegment
	}{
		{
			name:  "speed_up_compresses_timeline",
			ratio: 1.2,
			want: []types.VoiceSegment{
				{StartTimeSeconds: 0, EndTimeSeconds: 5, VoiceID: "voice-a"},
				{StartTimeSeconds: 5, EndTimeSeconds: 10, VoiceID: "voice-b"},
			},
		},
		{
			name:  "slow_down_stretches_timeline",
			ratio: 0.5,
			want: []types.VoiceSegment{
				{StartTimeSeconds: 0, EndTimeSeconds: 12, VoiceID: "voice-a"},
				{StartTimeSeconds: 12, EndTimeSeconds: 24, VoiceID: "voice-b"},
			},
		},
		{
			name:  "unit_ratio_is_identity",
			ratio: 1.0,
			want:  segments,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rescaleSegments(segments, tc.ratio)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d segments, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if !almostEqual(got[i].StartTimeSeconds, tc.want[i].StartTimeSeconds) ||
					!almostEqual(got[i].EndTimeSeconds, tc.want[i].EndTimeSeconds) {
					t.Fatalf("segment[%d]=%+v, want %+v", i, got[i], tc.want[i])
				}
				if got[i].VoiceID != tc.want[i].VoiceID {
					t.Fatalf("segment[%d] voice=%q, want %q", i, got[i].VoiceID, tc.want[i].VoiceID)
				}
			}
		})
	}
}

func TestAudioGenerateSpeedUp(t *testing.T) {
	tts := &fakeTTSClient{
		audio: []byte("mp3"),
		segments: []types.VoiceSegment{
			{StartTimeSeconds: 0, EndTimeSeconds: 12, VoiceID: "voice-a"},
			{StartTimeSeconds: 12, EndTimeSeconds: 24, VoiceID: "voice-b"},
		},
	}
	tools := &fakeMediaTools{probeDuration: 20.0}
	svc, _, gen := newAudioFixture(t, 1.2, tts, tools)

	dialogue := []types.DialogueLine{
		{Speaker: "晓琳", Text: "大家好"},
		{Speaker: "老王", Text: "欢迎收听"},
	}
	result, err := svc.Generate(context.Background(), gen, dialogue, t.TempDir())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if tools.adjustCalls != 1 || !almostEqual(tools.adjustRatio, 1.2) {
		t.Fatalf("adjust calls=%d ratio=%v", tools.adjustCalls, tools.adjustRatio)
	}
	if !almostEqual(result.DurationSeconds, 20.0) {
		t.Fatalf("duration=%v, want 24/1.2=20", result.DurationSeconds)
	}
	if !almostEqual(result.Segments[1].EndTimeSeconds, 20.0) {
		t.Fatalf("last segment end=%v, want 20", result.Segments[1].EndTimeSeconds)
	}
	if len(tts.inputs) != 2 || tts.inputs[0].VoiceID != "voice-a" || tts.inputs[1].VoiceID != "voice-b" {
		t.Fatalf("tts inputs=%+v", tts.inputs)
	}
	if tools.probeCalls != 1 || tools.probedPath != result.AudioPath {
		t.Fatalf("probe calls=%d path=%q, want final audio %q", tools.probeCalls, tools.probedPath, result.AudioPath)
	}
}

func TestAudioGenerateAtempoFailureKeepsOriginalPace(t *testing.T) {
	tts := &fakeTTSClient{
		audio: []byte("mp3"),
		segments: []types.VoiceSegment{
			{StartTimeSeconds: 0, EndTimeSeconds: 10, VoiceID: "voice-a"},
		},
	}
	tools := &fakeMediaTools{adjustErr: errors.New("atempo exploded"), probeDuration: 10.0}
	svc, _, gen := newAudioFixture(t, 1.5, tts, tools)

	result, err := svc.Generate(context.Background(), gen, []types.DialogueLine{{Speaker: "晓琳", Text: "你好"}}, t.TempDir())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !almostEqual(result.DurationSeconds, 10.0) {
		t.Fatalf("duration=%v, want unscaled 10", result.DurationSeconds)
	}
	if _, err := os.Stat(result.AudioPath); err != nil {
		t.Fatalf("fallback copy missing: %v", err)
	}
}

func TestAudioGenerateSegmentsStayAuthoritative(t *testing.T) {
	tts := &fakeTTSClient{
		audio: []byte("mp3"),
		segments: []types.VoiceSegment{
			{StartTimeSeconds: 0, EndTimeSeconds: 8, VoiceID: "voice-a"},
		},
	}
	// A wildly different file duration must not leak into the result.
	tools := &fakeMediaTools{probeDuration: 55.5}
	svc, _, gen := newAudioFixture(t, 1.0, tts, tools)

	result, err := svc.Generate(context.Background(), gen, []types.DialogueLine{{Speaker: "晓琳", Text: "你好"}}, t.TempDir())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !almostEqual(result.DurationSeconds, 8.0) {
		t.Fatalf("duration=%v, want segment-derived 8", result.DurationSeconds)
	}
}

func TestAudioGenerateUnknownSpeaker(t *testing.T) {
	tts := &fakeTTSClient{audio: []byte("mp3")}
	tools := &fakeMediaTools{}
	svc, _, gen := newAudioFixture(t, 1.0, tts, tools)

	_, err := svc.Generate(context.Background(), gen, []types.DialogueLine{{Speaker: "无名氏", Text: "……"}}, t.TempDir())
	if err == nil {
		t.Fatalf("expected error for unmapped speaker")
	}
}
