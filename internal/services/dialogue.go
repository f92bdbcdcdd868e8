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

	"github.com/google/uuid"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/types"
)

// DialogueService writes the episode script: it prompts the model with the
// topic and recent episode history, parses the structured reply, and records
// the attempt.
type DialogueService interface {
	Generate(ctx context.Context, gen *types.Generation, outputDir string) (*types.DialoguePayload, error)
}

type dialogueService struct {
	log          *logger.Logger
	cfg          *config.Config
	gemini       GeminiClient
	dialogueRepo repos.DialogueRequestRepo
	genRepo      repos.GenerationRepo
}

func NewDialogueService(
	cfg *config.Config,
	gemini GeminiClient,
	dialogueRepo repos.DialogueRequestRepo,
	genRepo repos.GenerationRepo,
	log *logger.Logger,
) DialogueService {
	return &dialogueService{
		log:          log.With("service", "DialogueService"),
		cfg:          cfg,
		gemini:       gemini,
		dialogueRepo: dialogueRepo,
		genRepo:      genRepo,
	}
}

const historyLimit = 5

func (s *dialogueService) Generate(ctx context.Context, gen *types.Generation, outputDir string) (*types.DialoguePayload, error) {
	history, err := s.dialogueRepo.RecentSummaries(ctx, nil, gen.TopicKey, historyLimit)
	if err != nil {
		s.log.Warn("Failed to load topic history", "topic_key", gen.TopicKey, "error", err.Error())
		history = nil
	}

	prompt := BuildDialoguePrompt(s.cfg, gen, history, time.Now())

	req, err := s.dialogueRepo.Create(ctx, nil, gen.ID, prompt)
	if err != nil {
		return nil, fmt.Errorf("create dialogue request: %w", err)
	}

	payload, responseText, genErr := s.callModel(ctx, gen, prompt)
	if genErr != nil {
		s.failRequest(ctx, req.ID, gen.ID, genErr)
		return nil, genErr
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		s.failRequest(ctx, req.ID, gen.ID, err)
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	dialoguePath := filepath.Join(outputDir, fmt.Sprintf("dialogue_%s.json", gen.ID))
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		s.failRequest(ctx, req.ID, gen.ID, err)
		return nil, err
	}
	if err := os.WriteFile(dialoguePath, raw, 0o644); err != nil {
		s.failRequest(ctx, req.ID, gen.ID, err)
		return nil, fmt.Errorf("write dialogue json: %w", err)
	}

	if err := s.dialogueRepo.MarkSuccess(ctx, nil, req.ID, responseText, payload); err != nil {
		return nil, fmt.Errorf("record dialogue success: %w", err)
	}
	if err := s.genRepo.UpdateStatus(ctx, nil, gen.ID, types.StatusDialogueComplete, "", map[string]interface{}{
		"dialogue_json_path": dialoguePath,
	}); err != nil {
		return nil, fmt.Errorf("advance generation status: %w", err)
	}

	s.log.Info("Dialogue generated",
		"generation_id", gen.ID,
		"lines", len(payload.Dialogue),
		"title", payload.Title,
	)
	return payload, nil
}

func (s *dialogueService) callModel(ctx context.Context, gen *types.Generation, prompt string) (*types.DialoguePayload, string, error) {
	topicConf := s.cfg.Topics[gen.TopicKey]

	model := topicConf.Model
	if model == "" {
		model = s.cfg.Dialogue.Model
	}

	result, err := s.gemini.GenerateText(ctx, GeminiTextRequest{
		Model:           model,
		Prompt:          prompt,
		Temperature:     0.8,
		TopP:            0.95,
		MaxOutputTokens: 4096,
		UseSearch:       topicConf.UseSearch,
	})
	if err != nil {
		return nil, "", fmt.Errorf("dialogue generation failed: %w", err)
	}

	payload, err := ParseDialogueResponse(result.Text)
	if err != nil {
		return nil, result.Text, err
	}
	payload.References = append(payload.References, result.References...)

	if err := s.validateSpeakers(gen.Language, payload.Dialogue); err != nil {
		return nil, result.Text, err
	}
	return payload, result.Text, nil
}

func (s *dialogueService) validateSpeakers(language string, dialogue []types.DialogueLine) error {
	if len(dialogue) == 0 {
		return fmt.Errorf("model returned no dialogue lines")
	}

	known := map[string]bool{}
	for _, sp := range s.cfg.SpeakersFor(language) {
		known[sp.Name] = true
	}

	for i, line := range dialogue {
		if strings.TrimSpace(line.Speaker) == "" || strings.TrimSpace(line.Text) == "" {
			return fmt.Errorf("invalid dialogue line %d: missing speaker or text", i)
		}
		if len(known) > 0 && !known[line.Speaker] {
			return fmt.Errorf("dialogue line %d uses unknown speaker %q", i, line.Speaker)
		}
	}
	return nil
}

func (s *dialogueService) failRequest(ctx context.Context, reqID, genID uuid.UUID, cause error) {
	if err := s.dialogueRepo.MarkFailure(ctx, nil, reqID, cause.Error()); err != nil {
		s.log.Error("Failed to record dialogue failure", "request_id", reqID, "error", err.Error())
	}
	msg := fmt.Sprintf("Dialogue generation failed: %v", cause)
	if err := s.genRepo.UpdateStatus(ctx, nil, genID, types.StatusFailed, msg, nil); err != nil {
		s.log.Error("Failed to mark generation failed", "generation_id", genID, "error", err.Error())
	}
}

var (
	fencedJSONRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	rawJSONRe    = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ParseDialogueResponse pulls the JSON object out of the model reply, which
// may wrap it in a markdown code fence or surround it with prose.
func ParseDialogueResponse(text string) (*types.DialoguePayload, error) {
	var jsonStr string
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		jsonStr = strings.TrimSpace(m[1])
	} else if m := rawJSONRe.FindString(text); m != "" {
		jsonStr = m
	} else {
		return nil, fmt.Errorf("no JSON found in model response")
	}

	var payload types.DialoguePayload
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, fmt.Errorf("parse dialogue JSON: %w", err)
	}

	if payload.Title == "" && payload.Summary != "" {
		runes := []rune(payload.Summary)
		if len(runes) > 12 {
			runes = runes[:12]
		}
		payload.Title = string(runes)
	}
	return &payload, nil
}

// BuildDialoguePrompt fills the topic's prompt template with speakers, word
// budget, episode history, and language guidance.
func BuildDialoguePrompt(cfg *config.Config, gen *types.Generation, history []string, now time.Time) string {
	topicConf := cfg.Topics[gen.TopicKey]
	speakers := cfg.SpeakersFor(gen.Language)

	names := make([]string, 0, len(speakers))
	descs := make([]string, 0, len(speakers))
	for _, sp := range speakers {
		names = append(names, sp.Name)
		descs = append(descs, fmt.Sprintf("%s（%s）", sp.Name, sp.Role))
	}
	speakersDesc := strings.Join(descs, "、")
	speakersDesc += fmt.Sprintf("\n     **【重要】JSON 中的 speaker 字段只能填写：%v，禁止使用其他名字！**", names)

	var jsonExample string
	if len(names) == 1 {
		jsonExample = fmt.Sprintf(`{"speaker": "%s", "text": "对话内容"}`, names[0])
	} else {
		examples := make([]string, 0, 2)
		for _, name := range names {
			examples = append(examples, fmt.Sprintf(`{"speaker": "%s", "text": "对话内容"}`, name))
			if len(examples) == 2 {
				break
			}
		}
		jsonExample = strings.Join(examples, ",\n      ")
	}

	wordCount := topicConf.WordCount
	if wordCount == 0 {
		wordCount = cfg.Dialogue.TargetWordCount
	}

	historyText := "（无）"
	if len(history) > 0 {
		items := make([]string, 0, len(history))
		for _, h := range history {
			items = append(items, "- "+h)
		}
		historyText = strings.Join(items, "\n")
	}

	langConf := cfg.Prompts.Languages[gen.Language]
	langInstr := langConf.Instruction
	if langInstr == "" {
		langInstr = "请全程使用中文进行对话。"
	}
	cultureInstr := langConf.Culture
	if cultureInstr == "" {
		cultureInstr = "Target Audience: Chinese."
	}

	templateKey := topicConf.PromptTemplate
	if templateKey == "" {
		templateKey = "default"
	}
	template := cfg.Prompts.Templates[templateKey]
	if template == "" {
		template = cfg.Prompts.Templates["default"]
	}

	replacements := map[string]string{
		"{topic}":                 gen.TopicName,
		"{word_count}":            fmt.Sprintf("%d", wordCount),
		"{speakers_desc}":         speakersDesc,
		"{speakers_json_example}": jsonExample,
		"{history}":               historyText,
		"{language_instruction}":  langInstr,
		"{culture_instruction}":   cultureInstr,
		"{stock_code}":            gen.StockCode,
		"{current_date}":          now.Format("2006年01月02日"),
		"{current_date_search}":   now.Format("2006-01-02"),
	}

	prompt := template
	for key, val := range replacements {
		prompt = strings.ReplaceAll(prompt, key, val)
	}
	return prompt
}
