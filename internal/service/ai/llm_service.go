package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/islandproperties/concierge/backend/internal/config"
)

// ErrStreamingDisabled is returned by Stream when LLM_STREAM is off.
var ErrStreamingDisabled = errors.New("streaming disabled in configuration")

// Settings are the per-call sampling parameters.
type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Streaming   bool
}

// SettingsFrom extracts call settings from the AI configuration section.
func SettingsFrom(cfg config.AIConfig) Settings {
	return Settings{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Streaming:   cfg.StreamResponse,
	}
}

// Service wraps the configured chat model and applies the sampling
// parameters to every call.
type Service struct {
	chatModel model.BaseChatModel
	settings  Settings
}

// NewService builds the model backend selected by cfg.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	log.Printf("[ai] using provider=%s model=%s", cfg.Provider, cfg.Model)
	return NewServiceWithModel(chatModel, SettingsFrom(cfg)), nil
}

// NewServiceWithModel wraps an existing model.
func NewServiceWithModel(chatModel model.BaseChatModel, settings Settings) *Service {
	return &Service{chatModel: chatModel, settings: settings}
}

// StreamingEnabled reports whether replies are relayed as SSE.
func (s *Service) StreamingEnabled() bool {
	return s.settings.Streaming
}

// ModelName is the identifier recorded in the cost ledger.
func (s *Service) ModelName() string {
	return s.settings.Model
}

// GetChatModel returns the underlying model.
func (s *Service) GetChatModel() model.BaseChatModel {
	return s.chatModel
}

// Generate returns the complete reply.
func (s *Service) Generate(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
	msg, err := s.chatModel.Generate(ctx, input, s.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}
	return msg, nil
}

// Stream opens a streamed reply. The caller must close the reader.
func (s *Service) Stream(ctx context.Context, input []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, ErrStreamingDisabled
	}

	stream, err := s.chatModel.Stream(ctx, input, s.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to open reply stream: %w", err)
	}
	return stream, nil
}

func (s *Service) options() []model.Option {
	var opts []model.Option
	if s.settings.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.settings.MaxTokens))
	}
	if s.settings.Temperature > 0 {
		opts = append(opts, model.WithTemperature(s.settings.Temperature))
	}
	if s.settings.TopP > 0 {
		opts = append(opts, model.WithTopP(s.settings.TopP))
	}
	return opts
}
