// Package config loads the application configuration once at process start.
// The resulting Config value is immutable: components receive it by pointer
// and never write to it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/castforge/castforge-backend/internal/utils"
)

type Speaker struct {
	Name    string `yaml:"name"`
	Role    string `yaml:"role"`
	VoiceID string `yaml:"voice_id"`
}

type TopicConfig struct {
	Name           string `yaml:"name"`
	PromptTemplate string `yaml:"prompt_template"`
	Model          string `yaml:"model"`
	UseSearch      bool   `yaml:"use_search"`
	WordCount      int    `yaml:"word_count"`
}

type DialogueConfig struct {
	Model           string `yaml:"model"`
	TargetWordCount int    `yaml:"target_word_count"`
	// Speakers are keyed by language code (CN, EN, JP).
	Speakers map[string][]Speaker `yaml:"speakers"`
}

type AudioConfig struct {
	SpeedRatio float64 `yaml:"speed_ratio"`
}

type ImagesConfig struct {
	Model         string `yaml:"model"`
	CountPerLines int    `yaml:"count_per_lines"`
	MinCount      int    `yaml:"min_count"`
	MaxCount      int    `yaml:"max_count"`
	AspectRatio   string `yaml:"aspect_ratio"`
	Style         string `yaml:"style"`
	CooldownSec   int    `yaml:"cooldown_seconds"`
}

const (
	VideoModeStaticImages = "static_images"
	VideoModeVeoLoop      = "veo_loop"
)

type VeoConfig struct {
	Model           string `yaml:"model"`
	ProjectID       string `yaml:"project_id"`
	Location        string `yaml:"location"`
	DurationSeconds int    `yaml:"duration_seconds"`
	Resolution      string `yaml:"resolution"`
	AspectRatio     string `yaml:"aspect_ratio"`
}

type VideoConfig struct {
	// Mode is either "static_images" or "veo_loop".
	Mode              string    `yaml:"mode"`
	MotionEffect      bool      `yaml:"motion_effect"`
	EnableTransitions bool      `yaml:"enable_transitions"`
	IntroClipPath     string    `yaml:"intro_clip_path"`
	Veo               VeoConfig `yaml:"veo"`
}

type OutputConfig struct {
	Directory        string `yaml:"directory"`
	VideoResolution  string `yaml:"video_resolution"`
	VideoFormat      string `yaml:"video_format"`
	SubtitleFontSize int    `yaml:"subtitle_font_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AssetsConfig struct {
	MusicDir string `yaml:"music_dir"`
	FontPath string `yaml:"font_path"`
}

type LanguagePrompt struct {
	Instruction string `yaml:"instruction"`
	Culture     string `yaml:"culture"`
}

// Prompts holds the dialogue prompt templates and per-language instructions,
// loaded from a separate YAML file referenced by the main config.
type Prompts struct {
	Templates map[string]string         `yaml:"templates"`
	Languages map[string]LanguagePrompt `yaml:"languages"`
}

type Config struct {
	Database DatabaseConfig         `yaml:"database"`
	Output   OutputConfig           `yaml:"output"`
	Dialogue DialogueConfig         `yaml:"dialogue"`
	Audio    AudioConfig            `yaml:"audio"`
	Images   ImagesConfig           `yaml:"images"`
	Video    VideoConfig            `yaml:"video"`
	Assets   AssetsConfig           `yaml:"assets"`
	Topics   map[string]TopicConfig `yaml:"topics"`

	PromptsPath string `yaml:"prompts_path"`
	Prompts     Prompts
}

// Load reads the YAML config at path, applies defaults and resolves relative
// paths against the config file's directory.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	cfg.resolvePaths(base)

	if cfg.PromptsPath != "" {
		prompts, err := loadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, err
		}
		cfg.Prompts = *prompts
	}

	return cfg, nil
}

func loadPrompts(path string) (*Prompts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	p := &Prompts{}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}

// applyEnvOverrides lets a deployment tune pacing without editing the config
// file. The logger is not built yet at load time, so these stay silent.
func (c *Config) applyEnvOverrides() {
	if ratio := utils.GetEnvAsFloat("AUDIO_SPEED_RATIO", c.Audio.SpeedRatio, nil); ratio > 0 {
		c.Audio.SpeedRatio = ratio
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/castforge.db"
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "output"
	}
	if c.Output.VideoResolution == "" {
		c.Output.VideoResolution = "1920x1080"
	}
	if c.Output.VideoFormat == "" {
		c.Output.VideoFormat = "mp4"
	}
	if c.Output.SubtitleFontSize == 0 {
		c.Output.SubtitleFontSize = 24
	}
	if c.Dialogue.Model == "" {
		c.Dialogue.Model = "gemini-3-flash-preview"
	}
	if c.Dialogue.TargetWordCount == 0 {
		c.Dialogue.TargetWordCount = 180
	}
	if c.Audio.SpeedRatio == 0 {
		c.Audio.SpeedRatio = 1.0
	}
	if c.Images.Model == "" {
		c.Images.Model = "gemini-2.5-flash-image"
	}
	if c.Images.CountPerLines == 0 {
		c.Images.CountPerLines = 2
	}
	if c.Images.MinCount == 0 {
		c.Images.MinCount = 3
	}
	if c.Images.MaxCount == 0 {
		c.Images.MaxCount = 10
	}
	if c.Images.AspectRatio == "" {
		c.Images.AspectRatio = "16:9"
	}
	if c.Images.Style == "" {
		c.Images.Style = "realistic illustration"
	}
	if c.Images.CooldownSec == 0 {
		c.Images.CooldownSec = 10
	}
	if c.Video.Mode == "" {
		c.Video.Mode = "static_images"
	}
	if c.Video.Veo.Model == "" {
		c.Video.Veo.Model = "veo-3.1-fast-generate-001"
	}
	if c.Video.Veo.Location == "" {
		c.Video.Veo.Location = "us-central1"
	}
	if c.Video.Veo.DurationSeconds == 0 {
		c.Video.Veo.DurationSeconds = 4
	}
	if c.Video.Veo.Resolution == "" {
		c.Video.Veo.Resolution = "720p"
	}
	if c.Video.Veo.AspectRatio == "" {
		c.Video.Veo.AspectRatio = "16:9"
	}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Database.Path = resolve(c.Database.Path)
	c.Output.Directory = resolve(c.Output.Directory)
	c.Assets.MusicDir = resolve(c.Assets.MusicDir)
	c.Assets.FontPath = resolve(c.Assets.FontPath)
	c.Video.IntroClipPath = resolve(c.Video.IntroClipPath)
	c.PromptsPath = resolve(c.PromptsPath)
}

// TopicName returns the display name for a topic key.
func (c *Config) TopicName(topicKey string) (string, error) {
	topic, ok := c.Topics[topicKey]
	if !ok {
		keys := make([]string, 0, len(c.Topics))
		for k := range c.Topics {
			keys = append(keys, k)
		}
		return "", fmt.Errorf("unknown topic %q, available: %v", topicKey, keys)
	}
	return topic.Name, nil
}

// SpeakersFor returns the speaker set for a language, falling back to CN and
// then to any configured language.
func (c *Config) SpeakersFor(language string) []Speaker {
	if s, ok := c.Dialogue.Speakers[language]; ok && len(s) > 0 {
		return s
	}
	if s, ok := c.Dialogue.Speakers["CN"]; ok && len(s) > 0 {
		return s
	}
	for _, s := range c.Dialogue.Speakers {
		if len(s) > 0 {
			return s
		}
	}
	return nil
}

// VoiceMap returns the speaker name to TTS voice id mapping for a language.
func (c *Config) VoiceMap(language string) map[string]string {
	out := map[string]string{}
	for _, s := range c.SpeakersFor(language) {
		out[s.Name] = s.VoiceID
	}
	return out
}
