package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/types"
	"github.com/castforge/castforge-backend/internal/utils"
)

// ElevenLabsClient synthesizes multi-speaker dialogue audio with per-line
// word timing via the text-to-dialogue endpoint.
type ElevenLabsClient interface {
	TextToDialogue(ctx context.Context, inputs []DialogueInput) (*DialogueAudio, error)
}

type DialogueInput struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

type DialogueAudio struct {
	// Audio is the decoded MP3 payload.
	Audio []byte
	// Segments aligns 1:1 with the submitted inputs.
	Segments []types.VoiceSegment
}

type elevenLabsClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	modelID    string
	httpClient *http.Client
	maxRetries int
}

func NewElevenLabsClient(log *logger.Logger) (ElevenLabsClient, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("ELEVENLABS_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ELEVENLABS_API_KEY")
	}

	baseURL := utils.GetEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io", log)
	modelID := utils.GetEnv("ELEVENLABS_MODEL_ID", "eleven_v3", log)

	timeoutSec := utils.GetEnvAsInt("ELEVENLABS_TIMEOUT_SECONDS", 600, log)
	if timeoutSec <= 0 {
		timeoutSec = 600
	}

	return &elevenLabsClient{
		log:        log.With("service", "ElevenLabsClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 3,
	}, nil
}

type dialogueRequestBody struct {
	Inputs  []DialogueInput `json:"inputs"`
	ModelID string          `json:"model_id,omitempty"`
}

type dialogueResponseBody struct {
	AudioBase64   string               `json:"audio_base64"`
	VoiceSegments []types.VoiceSegment `json:"voice_segments"`
}

type elevenLabsHTTPError struct {
	StatusCode int
	Body       string
}

func (e *elevenLabsHTTPError) Error() string {
	return fmt.Sprintf("elevenlabs http %d: %s", e.StatusCode, e.Body)
}

func (c *elevenLabsClient) TextToDialogue(ctx context.Context, inputs []DialogueInput) (*DialogueAudio, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no dialogue inputs")
	}
	for i, in := range inputs {
		if in.VoiceID == "" {
			return nil, fmt.Errorf("dialogue input %d missing voice_id", i)
		}
		if strings.TrimSpace(in.Text) == "" {
			return nil, fmt.Errorf("dialogue input %d has empty text", i)
		}
	}

	backoff := 2 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, err := c.doOnce(ctx, inputs)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var httpErr *elevenLabsHTTPError
		retryable := errors.As(err, &httpErr) && isRetryableHTTP(httpErr.StatusCode)
		if !retryable || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := jitterSleep(backoff)
		c.log.Warn("ElevenLabs request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, lastErr
}

func (c *elevenLabsClient) doOnce(ctx context.Context, inputs []DialogueInput) (*DialogueAudio, error) {
	body := dialogueRequestBody{Inputs: inputs, ModelID: c.modelID}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(&body); err != nil {
		return nil, err
	}

	url := c.baseURL + "/v1/text-to-dialogue/with-timestamps"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &elevenLabsHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed dialogueResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("elevenlabs decode error: %w", err)
	}
	if parsed.AudioBase64 == "" {
		return nil, errors.New("elevenlabs: empty audio in response")
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs audio decode: %w", err)
	}
	if len(parsed.VoiceSegments) != len(inputs) {
		return nil, fmt.Errorf("elevenlabs: segment count %d does not match input count %d",
			len(parsed.VoiceSegments), len(inputs))
	}

	return &DialogueAudio{Audio: audio, Segments: parsed.VoiceSegments}, nil
}
