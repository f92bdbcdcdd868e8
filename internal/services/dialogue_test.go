package services

import (
	"strings"
	"testing"
	"time"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/types"
)

func TestParseDialogueResponse(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		wantLines int
		wantTitle string
		wantErr   bool
	}{
		{
			name:      "fenced_json_block",
			text:      "Here you go:\n```json\n{\"dialogue\":[{\"speaker\":\"a\",\"text\":\"hi\"}],\"summary\":\"s\",\"title\":\"t\"}\n```",
			wantLines: 1,
			wantTitle: "t",
		},
		{
			name:      "fence_without_language_tag",
			text:      "```\n{\"dialogue\":[{\"speaker\":\"a\",\"text\":\"hi\"},{\"speaker\":\"b\",\"text\":\"yo\"}],\"title\":\"x\"}\n```",
			wantLines: 2,
			wantTitle: "x",
		},
		{
			name:      "raw_json_with_prose",
			text:      "sure thing {\"dialogue\":[{\"speaker\":\"a\",\"text\":\"hi\"}],\"title\":\"raw\"} hope that helps",
			wantLines: 1,
			wantTitle: "raw",
		},
		{
			name:    "no_json_at_all",
			text:    "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "malformed_json",
			text:    "```json\n{\"dialogue\": [}\n```",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := ParseDialogueResponse(tc.text)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDialogueResponse: %v", err)
			}
			if len(payload.Dialogue) != tc.wantLines {
				t.Fatalf("got %d lines, want %d", len(payload.Dialogue), tc.wantLines)
			}
			if payload.Title != tc.wantTitle {
				t.Fatalf("title=%q, want %q", payload.Title, tc.wantTitle)
			}
		})
	}
}

func TestParseDialogueResponseTitleFallback(t *testing.T) {
	text := `{"dialogue":[{"speaker":"a","text":"hi"}],"summary":"今天我们聊了一个非常非常长的财经话题总结"}`
	payload, err := ParseDialogueResponse(text)
	if err != nil {
		t.Fatalf("ParseDialogueResponse: %v", err)
	}
	want := "今天我们聊了一个非常非常长"
	if payload.Title != want {
		t.Fatalf("title=%q, want first 12 runes of summary %q", payload.Title, want)
	}
}

func TestParseScenes(t *testing.T) {
	t.Run("fenced_array", func(t *testing.T) {
		text := "```json\n[{\"scene\":\"s1\",\"prompt\":\"p1\"},{\"scene\":\"s2\",\"prompt\":\"p2\"}]\n```"
		scenes, err := ParseScenes(text)
		if err != nil {
			t.Fatalf("ParseScenes: %v", err)
		}
		if len(scenes) != 2 || scenes[0].Prompt != "p1" || scenes[1].Scene != "s2" {
			t.Fatalf("scenes=%+v", scenes)
		}
	})

	t.Run("bare_array", func(t *testing.T) {
		scenes, err := ParseScenes(`ok: [{"scene":"s","prompt":"p"}]`)
		if err != nil {
			t.Fatalf("ParseScenes: %v", err)
		}
		if len(scenes) != 1 {
			t.Fatalf("scenes=%+v", scenes)
		}
	})

	t.Run("empty_array", func(t *testing.T) {
		if _, err := ParseScenes("[]"); err == nil {
			t.Fatalf("expected error for empty scene list")
		}
	})

	t.Run("no_json", func(t *testing.T) {
		if _, err := ParseScenes("nothing here"); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestImageCountForDialogue(t *testing.T) {
	cases := []struct {
		name          string
		lines         int
		countPerLines int
		minCount      int
		maxCount      int
		want          int
	}{
		{name: "short_dialogue_floors_to_min", lines: 2, countPerLines: 2, minCount: 3, maxCount: 10, want: 3},
		{name: "mid_dialogue_scales", lines: 10, countPerLines: 2, minCount: 3, maxCount: 10, want: 5},
		{name: "long_dialogue_caps_at_max", lines: 40, countPerLines: 2, minCount: 3, maxCount: 10, want: 10},
		{name: "zero_divisor_guard", lines: 6, countPerLines: 0, minCount: 1, maxCount: 10, want: 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ImageCountForDialogue(tc.lines, tc.countPerLines, tc.minCount, tc.maxCount)
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBuildDialoguePrompt(t *testing.T) {
	cfg := &config.Config{
		Dialogue: config.DialogueConfig{
			TargetWordCount: 180,
			Speakers: map[string][]config.Speaker{
				"CN": {
					{Name: "晓琳", Role: "主持人", VoiceID: "v1"},
					{Name: "老王", Role: "嘉宾", VoiceID: "v2"},
				},
			},
		},
		Topics: map[string]config.TopicConfig{
			"life_tips": {Name: "生活小妙招", PromptTemplate: "default"},
		},
	}
	cfg.Prompts.Templates = map[string]string{
		"default": "topic={topic} words={word_count} date={current_date_search}\nspeakers:{speakers_desc}\nexample:{speakers_json_example}\nhistory:\n{history}\nlang:{language_instruction}",
	}
	cfg.Prompts.Languages = map[string]config.LanguagePrompt{
		"CN": {Instruction: "请全程使用中文进行对话。", Culture: "Target Audience: Chinese."},
	}

	gen := &types.Generation{TopicKey: "life_tips", TopicName: "生活小妙招", Language: "CN"}
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	prompt := BuildDialoguePrompt(cfg, gen, []string{"上次聊了收纳"}, now)

	for _, want := range []string{
		"topic=生活小妙招",
		"words=180",
		"date=2026-08-31",
		"晓琳（主持人）、老王（嘉宾）",
		`{"speaker": "晓琳", "text": "对话内容"}`,
		"- 上次聊了收纳",
		"请全程使用中文进行对话。",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "{topic}") || strings.Contains(prompt, "{history}") {
		t.Fatalf("unreplaced placeholders remain:\n%s", prompt)
	}
}

func TestBuildDialoguePromptEmptyHistory(t *testing.T) {
	cfg := &config.Config{
		Dialogue: config.DialogueConfig{TargetWordCount: 100},
	}
	cfg.Prompts.Templates = map[string]string{"default": "history:{history}"}

	gen := &types.Generation{TopicKey: "custom", TopicName: "x", Language: "CN"}
	prompt := BuildDialoguePrompt(cfg, gen, nil, time.Now())
	if !strings.Contains(prompt, "（无）") {
		t.Fatalf("empty history marker missing: %q", prompt)
	}
}
