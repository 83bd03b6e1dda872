package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/islandproperties/concierge/backend/internal/model/speech"
)

const (
	DefaultElevenLabsURL   = "https://api.elevenlabs.io"
	DefaultElevenLabsModel = "eleven_multilingual_v2"
)

// ElevenLabsClient synthesizes speech through the ElevenLabs HTTP API.
type ElevenLabsClient struct {
	config     *speech.SpeechConfig
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
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
}

// NewElevenLabsClient creates the client.
func NewElevenLabsClient(config *speech.SpeechConfig) *ElevenLabsClient {
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		base = DefaultElevenLabsURL
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ElevenLabsClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		now:        time.Now,
	}
}

// Name identifies the provider in cost entries.
func (c *ElevenLabsClient) Name() string {
	return speech.ProviderElevenLabs
}

// Synthesize returns mp3 audio for req.Text. The configured voice id wins
// over the requested one.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	if strings.TrimSpace(c.config.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is not configured")
	}

	voice := strings.TrimSpace(c.config.Voice)
	if voice == "" {
		voice = strings.TrimSpace(req.Voice)
	}
	if voice == "" {
		return nil, fmt.Errorf("elevenlabs voice id is not configured")
	}

	modelID := strings.TrimSpace(c.config.ModelID)
	if modelID == "" {
		modelID = DefaultElevenLabsModel
	}

	body, err := sonic.ConfigStd.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: modelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.8,
			Style:           0.3,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build elevenlabs request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs API error: %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("TTS audio is empty")
	}

	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		RequestID: resp.Header.Get("request-id"),
		CreatedAt: c.now(),
	}, nil
}
