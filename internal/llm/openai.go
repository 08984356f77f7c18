package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tpr-labs/nriy/internal/execution"
)

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	HTTPClient  *http.Client
}

type OpenAIProvider struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float32
	client      *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = cfg.HTTPClient
	if clientConfig.HTTPClient == nil {
		clientConfig.HTTPClient = &http.Client{Timeout: 35 * time.Second}
	}
	return &OpenAIProvider{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		client:      openai.NewClientWithConfig(clientConfig),
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	return p.complete(ctx, messages, nil)
}

func (p *OpenAIProvider) GenerateJSON(ctx context.Context, messages []Message, out any) error {
	content, err := p.complete(ctx, messages, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode structured LLM response: %w", err)
	}
	return nil
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []Message, format *openai.ChatCompletionResponseFormat) (string, error) {
	if p.apiKey == "" {
		return "", execution.Upstream("llm", errors.New("missing API key for remote provider"))
	}
	if p.model == "" {
		return "", execution.Validation("llm", "missing model for remote provider")
	}
	request := openai.ChatCompletionRequest{
		Model:          p.model,
		Messages:       toChatMessages(messages),
		Temperature:    wireTemperature(p.temperature),
		ResponseFormat: format,
	}
	resp, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// wireTemperature keeps an explicit zero on the wire; the request field is
// omitted when zero, which would select the provider default instead.
func wireTemperature(value float32) float32 {
	if value == 0 {
		return math.SmallestNonzeroFloat32
	}
	return value
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	return converted
}
