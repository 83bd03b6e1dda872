// Package gemini adapts the Google Gemini API to the eino chat model
// interface so it can stand in for the default backend.
package gemini

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Interface compliance check.
var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModel implements model.BaseChatModel over genai.
type ChatModel struct {
	client *genai.Client
	model  string
}

// NewChatModel creates a Gemini-backed chat model.
func NewChatModel(ctx context.Context, apiKey, modelID string) (*ChatModel, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &ChatModel{client: gc, model: modelID}, nil
}

// Generate returns the full reply in one call.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelID, contents, config := m.request(input, opts)

	resp, err := m.client.Models.GenerateContent(ctx, modelID, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return ToMessage(resp), nil
}

// Stream relays response chunks through an eino stream. Closing the reader
// stops the upstream iterator.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	modelID, contents, config := m.request(input, opts)

	seq := m.client.Models.GenerateContentStream(ctx, modelID, contents, config)
	sr, sw := schema.Pipe[*schema.Message](1)

	go func() {
		defer sw.Close()
		for resp, err := range seq {
			if err != nil {
				sw.Send(nil, fmt.Errorf("gemini: %w", err))
				return
			}
			if closed := sw.Send(ToMessage(resp), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *ChatModel) request(input []*schema.Message, opts []model.Option) (string, []*genai.Content, *genai.GenerateContentConfig) {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)
	system, contents := ConvertMessages(input)
	config := BuildConfig(options)
	config.SystemInstruction = system
	return *options.Model, contents, config
}

// ConvertMessages splits eino messages into the system instruction and the
// conversation contents. Exported for testing.
func ConvertMessages(input []*schema.Message) (*genai.Content, []*genai.Content) {
	var (
		system   *genai.Content
		contents []*genai.Content
	)
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})
		case schema.User:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case schema.Assistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return system, contents
}

// BuildConfig maps eino common options to a genai request config. Exported
// for testing.
func BuildConfig(options *model.Options) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if options == nil {
		return config
	}
	if options.MaxTokens != nil {
		config.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if options.Temperature != nil {
		temp := *options.Temperature
		config.Temperature = &temp
	}
	if options.TopP != nil {
		topP := *options.TopP
		config.TopP = &topP
	}
	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
	}
	return config
}

// ToMessage converts one response (or stream chunk) into an assistant
// message carrying usage metadata. Exported for testing.
func ToMessage(resp *genai.GenerateContentResponse) *schema.Message {
	msg := schema.AssistantMessage("", nil)
	if resp == nil {
		return msg
	}
	msg.Content = resp.Text()

	meta := &schema.ResponseMeta{}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		meta.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	msg.ResponseMeta = meta
	return msg
}
