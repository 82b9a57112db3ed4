package core

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/converse/config"
)

// LLMProvider is the single text-in/text-out oracle every phase calls.
// Implementations apply their own hard timeout; callers additionally
// bound each call with a context deadline.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewLLMProvider creates a provider based on configuration.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "", "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("llm.api_key is required for openai provider")
		}
		return newOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}

// openAIProvider implements LLMProvider on the OpenAI chat API.
type openAIProvider struct {
	cfg    config.LLMConfig
	client *openai.Client
}

func newOpenAIProvider(cfg config.LLMConfig) *openAIProvider {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{cfg: cfg, client: openai.NewClientWithConfig(cc)}
}

func (p *openAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PhaseTimeout)
		defer cancel()
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
