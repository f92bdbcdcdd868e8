package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "topics:\n  custom:\n    name: custom\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Output.VideoResolution != "1920x1080" {
		t.Fatalf("resolution=%q", cfg.Output.VideoResolution)
	}
	if cfg.Output.VideoFormat != "mp4" || cfg.Output.SubtitleFontSize != 24 {
		t.Fatalf("output defaults: %+v", cfg.Output)
	}
	if cfg.Dialogue.Model == "" || cfg.Dialogue.TargetWordCount != 180 {
		t.Fatalf("dialogue defaults: %+v", cfg.Dialogue)
	}
	if cfg.Audio.SpeedRatio != 1.0 {
		t.Fatalf("speed ratio default: %v", cfg.Audio.SpeedRatio)
	}
	if cfg.Images.MinCount != 3 || cfg.Images.MaxCount != 10 || cfg.Images.CountPerLines != 2 {
		t.Fatalf("image defaults: %+v", cfg.Images)
	}
	if cfg.Video.Mode != VideoModeStaticImages {
		t.Fatalf("video mode default: %q", cfg.Video.Mode)
	}
}

func TestLoadSpeedRatioEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "audio:\n  speed_ratio: 1.1\n")

	t.Run("env_wins_over_file", func(t *testing.T) {
		t.Setenv("AUDIO_SPEED_RATIO", "1.35")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Audio.SpeedRatio != 1.35 {
			t.Fatalf("speed ratio=%v, want env override 1.35", cfg.Audio.SpeedRatio)
		}
	})

	t.Run("unset_env_keeps_file_value", func(t *testing.T) {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Audio.SpeedRatio != 1.1 {
			t.Fatalf("speed ratio=%v, want file value 1.1", cfg.Audio.SpeedRatio)
		}
	})

	t.Run("garbage_env_keeps_file_value", func(t *testing.T) {
		t.Setenv("AUDIO_SPEED_RATIO", "fast")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Audio.SpeedRatio != 1.1 {
			t.Fatalf("speed ratio=%v, want file value 1.1", cfg.Audio.SpeedRatio)
		}
	})

	t.Run("non_positive_env_ignored", func(t *testing.T) {
		t.Setenv("AUDIO_SPEED_RATIO", "-2")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Audio.SpeedRatio != 1.1 {
			t.Fatalf("speed ratio=%v, want file value 1.1", cfg.Audio.SpeedRatio)
		}
	})
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "prompts.yaml", "templates:\n  default: \"topic={topic}\"\n")
	path := writeConfig(t, dir, "config.yaml", `
database:
  path: data/app.db
output:
  directory: out
assets:
  music_dir: assets/music
prompts_path: prompts.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, got := range []string{cfg.Database.Path, cfg.Output.Directory, cfg.Assets.MusicDir, cfg.PromptsPath} {
		if !filepath.IsAbs(got) {
			t.Fatalf("path not resolved: %q", got)
		}
	}
	if cfg.Database.Path != filepath.Join(dir, "data/app.db") {
		t.Fatalf("db path=%q", cfg.Database.Path)
	}
	if cfg.Prompts.Templates["default"] != "topic={topic}" {
		t.Fatalf("prompts not loaded: %+v", cfg.Prompts)
	}
}

func TestLoadAbsolutePathsUntouched(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "database:\n  path: /var/lib/app.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/app.db" {
		t.Fatalf("absolute path rewritten: %q", cfg.Database.Path)
	}
}

func TestLoadMissingPromptsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "prompts_path: nope.yaml\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing prompts file")
	}
}

func TestSpeakersFor(t *testing.T) {
	cfg := &Config{}
	cfg.Dialogue.Speakers = map[string][]Speaker{
		"CN": {{Name: "晓琳", VoiceID: "v1"}, {Name: "老王", VoiceID: "v2"}},
		"EN": {{Name: "Alex", VoiceID: "v3"}},
	}

	cases := []struct {
		name     string
		language string
		want     string
	}{
		{name: "exact_language", language: "EN", want: "Alex"},
		{name: "unknown_falls_back_to_cn", language: "JP", want: "晓琳"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cfg.SpeakersFor(tc.language)
			if len(got) == 0 || got[0].Name != tc.want {
				t.Fatalf("got %+v, want first speaker %q", got, tc.want)
			}
		})
	}

	t.Run("no_speakers_configured", func(t *testing.T) {
		empty := &Config{}
		if got := empty.SpeakersFor("CN"); got != nil {
			t.Fatalf("got %+v, want nil", got)
		}
	})
}

func TestVoiceMap(t *testing.T) {
	cfg := &Config{}
	cfg.Dialogue.Speakers = map[string][]Speaker{
		"CN": {{Name: "晓琳", VoiceID: "v1"}, {Name: "老王", VoiceID: "v2"}},
	}
	m := cfg.VoiceMap("CN")
	if len(m) != 2 || m["晓琳"] != "v1" || m["老王"] != "v2" {
		t.Fatalf("voice map: %+v", m)
	}
}

func TestTopicName(t *testing.T) {
	cfg := &Config{Topics: map[string]TopicConfig{"life_tips": {Name: "生活小妙招"}}}

	name, err := cfg.TopicName("life_tips")
	if err != nil || name != "生活小妙招" {
		t.Fatalf("name=%q err=%v", name, err)
	}
	if _, err := cfg.TopicName("bogus"); err == nil {
		t.Fatalf("expected error for unknown topic")
	}
}
