package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// WhisperConfig holds configuration for the Whisper transcription client.
type WhisperConfig struct {
	APIKey  string
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 30s
}

// WhisperClient implements Transcriber using the OpenAI Whisper API.
type WhisperClient struct {
	cfg    WhisperConfig
	client *http.Client
}

// NewWhisperClient creates a new Whisper client.
func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WhisperClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Transcribe sends the audio to Whisper and returns the plain-text
// transcript. English-only and temperature 0 keep latency low and output
// deterministic.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("whisper: empty audio")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("whisper: failed to build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: failed to write audio: %w", err)
	}
	for field, value := range map[string]string{
		"model":           "whisper-1",
		"response_format": "text",
		"temperature":     "0",
		"language":        "en",
	} {
		if err := writer.WriteField(field, value); err != nil {
			return "", fmt.Errorf("whisper: failed to write field %s: %w", field, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("whisper: failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: unexpected status %d: %s", resp.StatusCode, truncateBody(respBody))
	}
	return strings.TrimSpace(string(respBody)), nil
}

// truncateBody shortens a response body for inclusion in error messages.
func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
