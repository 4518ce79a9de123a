package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer converts reply text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ElevenLabsConfig holds configuration for the ElevenLabs TTS client.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string        // default: defaultElevenLabsVoice
	BaseURL string        // default: https://api.elevenlabs.io
	Timeout time.Duration // default: 30s
}

const defaultElevenLabsVoice = "5oDR2Spw4ffxVYWXiJC2"

// ElevenLabsClient implements Synthesizer using the ElevenLabs API. The
// response is MP3; downstream resampling for the toy's speaker is the
// device gateway's concern.
type ElevenLabsClient struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultElevenLabsVoice
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

// Synthesize converts text to MP3 audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: "eleven_monolingual_v1",
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.6,
			SimilarityBoost: 0.5,
			UseSpeakerBoost: true,
			Speed:           0.85,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/text-to-speech/%s", c.cfg.BaseURL, c.cfg.VoiceID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, truncateBody(respBody))
	}
	return respBody, nil
}

// SpeechifyConfig holds configuration for the Speechify TTS client.
type SpeechifyConfig struct {
	APIKey  string
	VoiceID string        // default: kristy
	BaseURL string        // default: https://api.speechify.com
	Timeout time.Duration // default: 30s
}

// SpeechifyClient implements Synthesizer using the Speechify API.
type SpeechifyClient struct {
	cfg    SpeechifyConfig
	client *http.Client
}

// NewSpeechifyClient creates a new Speechify client.
func NewSpeechifyClient(cfg SpeechifyConfig) *SpeechifyClient {
	if cfg.VoiceID == "" {
		cfg.VoiceID = "kristy"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.speechify.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SpeechifyClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type speechifyRequest struct {
	Input   string `json:"input"`
	VoiceID string `json:"voice_id"`
}

type speechifyResponse struct {
	AudioData string `json:"audio_data"` // base64
}

// Synthesize converts text to audio via Speechify. The API returns base64
// audio inside a JSON envelope.
func (c *SpeechifyClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(speechifyRequest{Input: text, VoiceID: c.cfg.VoiceID})
	if err != nil {
		return nil, fmt.Errorf("speechify: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speechify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speechify: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speechify: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speechify: unexpected status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var decoded speechifyResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("speechify: failed to decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioData)
	if err != nil {
		return nil, fmt.Errorf("speechify: failed to decode audio: %w", err)
	}
	return audio, nil
}
