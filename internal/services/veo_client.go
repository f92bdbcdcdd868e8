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
	"github.com/castforge/castforge-backend/internal/utils"
)

// VeoClient generates short looping video clips through the Vertex AI Veo
// long-running prediction API.
type VeoClient interface {
	GenerateClip(ctx context.Context, req VeoClipRequest) ([]byte, error)
}

type VeoClipRequest struct {
	Model           string
	ProjectID       string
	Location        string
	Prompt          string
	DurationSeconds int
	Resolution      string
	AspectRatio     string
}

type veoClient struct {
	log          *logger.Logger
	accessToken  string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewVeoClient(log *logger.Logger) (VeoClient, error) {
	token := strings.TrimSpace(utils.GetEnv("GOOGLE_CLOUD_ACCESS_TOKEN", "", log))
	if token == "" {
		return nil, fmt.Errorf("missing GOOGLE_CLOUD_ACCESS_TOKEN")
	}
	return &veoClient{
		log:          log.With("service", "VeoClient"),
		accessToken:  token,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		pollInterval: 10 * time.Second,
		pollTimeout:  15 * time.Minute,
	}, nil
}

type veoPredictRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	AspectRatio      string `json:"aspectRatio,omitempty"`
	SampleCount      int    `json:"sampleCount"`
	GenerateAudio    bool   `json:"generateAudio"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		Videos []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
			GcsURI             string `json:"gcsUri,omitempty"`
		} `json:"videos,omitempty"`
	} `json:"response,omitempty"`
}

func (c *veoClient) GenerateClip(ctx context.Context, req VeoClipRequest) ([]byte, error) {
	if req.ProjectID == "" {
		return nil, errors.New("veo project id required")
	}
	if req.Model == "" {
		return nil, errors.New("veo model required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("veo prompt required")
	}
	location := req.Location
	if location == "" {
		location = "us-central1"
	}

	base := fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s",
		location, req.ProjectID, location, req.Model)

	opName, err := c.startOperation(ctx, base, req)
	if err != nil {
		return nil, err
	}
	c.log.Info("Veo generation started", "operation", opName)

	deadline := time.Now().Add(c.pollTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("veo operation %s timed out after %s", opName, c.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		op, err := c.fetchOperation(ctx, base, opName)
		if err != nil {
			return nil, err
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			return nil, fmt.Errorf("veo operation failed: %s (code %d)", op.Error.Message, op.Error.Code)
		}
		if op.Response == nil || len(op.Response.Videos) == 0 {
			return nil, errors.New("veo operation finished with no videos")
		}

		v := op.Response.Videos[0]
		if v.BytesBase64Encoded == "" {
			return nil, fmt.Errorf("veo video has no inline bytes (gcsUri=%s)", v.GcsURI)
		}
		raw, decErr := base64.StdEncoding.DecodeString(v.BytesBase64Encoded)
		if decErr != nil {
			return nil, fmt.Errorf("veo video decode: %w", decErr)
		}
		return raw, nil
	}
}

func (c *veoClient) startOperation(ctx context.Context, base string, req VeoClipRequest) (string, error) {
	body := veoPredictRequest{
		Instances: []veoInstance{{Prompt: req.Prompt}},
		Parameters: veoParameters{
			DurationSeconds:  req.DurationSeconds,
			Resolution:       req.Resolution,
			AspectRatio:      req.AspectRatio,
			SampleCount:      1,
			GenerateAudio:    false,
			PersonGeneration: "allow_adult",
		},
	}

	raw, err := c.post(ctx, base+":predictLongRunning", &body)
	if err != nil {
		return "", err
	}

	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return "", fmt.Errorf("veo start decode: %w", err)
	}
	if op.Name == "" {
		return "", errors.New("veo start returned no operation name")
	}
	return op.Name, nil
}

func (c *veoClient) fetchOperation(ctx context.Context, base, name string) (*veoOperation, error) {
	raw, err := c.post(ctx, base+":fetchPredictOperation", map[string]string{"operationName": name})
	if err != nil {
		return nil, err
	}
	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("veo poll decode: %w", err)
	}
	return &op, nil
}

func (c *veoClient) post(ctx context.Context, url string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("veo request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("veo http %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
