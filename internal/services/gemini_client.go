package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/utils"
)

// GeminiClient wraps the Gemini generateContent REST API for both text and
// image generation.
type GeminiClient interface {
	GenerateText(ctx context.Context, req GeminiTextRequest) (*GeminiTextResult, error)
	GenerateImage(ctx context.Context, req GeminiImageRequest) ([]byte, error)
}

type GeminiTextRequest struct {
	Model           string
	Prompt          string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	UseSearch       bool
}

type GeminiTextResult struct {
	Text string
	// References holds markdown-formatted grounded web sources, present only
	// when search grounding was enabled.
	References []string
}

type GeminiImageRequest struct {
	Model       string
	Prompt      string
	AspectRatio string
}

// Content-level generation failures the caller may retry past. These carry no
// transport problem; the model simply produced nothing usable.
var (
	ErrGeminiNoCandidates = errors.New("gemini: no candidates in response")
	ErrGeminiBlocked      = errors.New("gemini: content blocked by safety filter")
	ErrGeminiNoImageData  = errors.New("gemini: no image data in response")
)

// IsRetryableContentError reports whether the error is one of the empty/
// blocked outcomes that a bounded retry loop should advance past.
func IsRetryableContentError(err error) bool {
	return errors.Is(err, ErrGeminiNoCandidates) ||
		errors.Is(err, ErrGeminiBlocked) ||
		errors.Is(err, ErrGeminiNoImageData)
}

type geminiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries int
}

func NewGeminiClient(log *logger.Logger) (GeminiClient, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("GEMINI_API_KEY", "", log))
	if apiKey == "" {
		apiKey = strings.TrimSpace(utils.GetEnv("GOOGLE_CLOUD_API_KEY", "", log))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}

	baseURL := utils.GetEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com", log)

	timeoutSec := utils.GetEnvAsInt("GEMINI_TIMEOUT_SECONDS", 180, log)
	if timeoutSec <= 0 {
		timeoutSec = 180
	}

	return &geminiClient{
		log:        log.With("service", "GeminiClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 4,
	}, nil
}

type geminiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *geminiHTTPError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *geminiHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// ---- Wire types ----

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature        float64            `json:"temperature,omitempty"`
	TopP               float64            `json:"topP,omitempty"`
	MaxOutputTokens    int                `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiTool struct {
	GoogleSearch map[string]any `json:"google_search,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings,omitempty"`
	Tools            []geminiTool           `json:"tools,omitempty"`
}

type geminiGroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`

	GroundingMetadata *struct {
		GroundingChunks []geminiGroundingChunk `json:"groundingChunks,omitempty"`
	} `json:"groundingMetadata,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

func allSafetyOff() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_HARASSMENT",
	}
	out := make([]geminiSafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, geminiSafetySetting{Category: c, Threshold: "OFF"})
	}
	return out
}

func (c *geminiClient) doOnce(ctx context.Context, model string, body *geminiRequest) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &geminiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *geminiClient) do(ctx context.Context, model string, body *geminiRequest) (*geminiResponse, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, model, body)
		if err == nil {
			var out geminiResponse
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				return nil, fmt.Errorf("gemini decode error: %w; raw=%s", uErr, string(raw))
			}
			return &out, nil
		}

		if !isRetryableErr(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Gemini request retrying",
			"model", model,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, fmt.Errorf("unreachable retry loop")
}

func (c *geminiClient) GenerateText(ctx context.Context, req GeminiTextRequest) (*GeminiTextResult, error) {
	if req.Model == "" {
		return nil, errors.New("model required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt required")
	}

	body := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxOutputTokens,
		},
		SafetySettings: allSafetyOff(),
	}
	if req.UseSearch {
		body.Tools = []geminiTool{{GoogleSearch: map[string]any{}}}
	}

	resp, err := c.do(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrGeminiNoCandidates
	}

	cand := resp.Candidates[0]
	if isBlockedFinish(cand.FinishReason) {
		return nil, fmt.Errorf("%w: %s", ErrGeminiBlocked, cand.FinishReason)
	}

	var text strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("gemini: empty response from model %s", req.Model)
	}

	result := &GeminiTextResult{Text: text.String()}
	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = "Web Source"
			}
			result.References = append(result.References, fmt.Sprintf("[%s](%s)", title, chunk.Web.URI))
		}
	}
	return result, nil
}

func (c *geminiClient) GenerateImage(ctx context.Context, req GeminiImageRequest) ([]byte, error) {
	if req.Model == "" {
		return nil, errors.New("model required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt required")
	}

	body := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:        1,
			TopP:               0.95,
			MaxOutputTokens:    32768,
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: req.AspectRatio},
		},
		SafetySettings: allSafetyOff(),
	}

	resp, err := c.do(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrGeminiNoCandidates
	}

	cand := resp.Candidates[0]
	if isBlockedFinish(cand.FinishReason) {
		return nil, fmt.Errorf("%w: %s", ErrGeminiBlocked, cand.FinishReason)
	}
	if cand.Content == nil {
		return nil, ErrGeminiNoImageData
	}

	for _, p := range cand.Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		raw, decErr := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if decErr != nil {
			return nil, fmt.Errorf("gemini image decode: %w", decErr)
		}
		return raw, nil
	}
	return nil, ErrGeminiNoImageData
}

func isBlockedFinish(reason string) bool {
	r := strings.ToUpper(reason)
	return strings.Contains(r, "SAFETY") || strings.Contains(r, "BLOCKED") || strings.Contains(r, "PROHIBITED")
}
