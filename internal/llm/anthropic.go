package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps an anthropic-sdk-go client.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs a Provider backed by the Anthropic Messages API.
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-5"
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

// GetDefaultModel returns the model used when req.Model is empty.
func (p *AnthropicProvider) GetDefaultModel() string { return p.defaultModel }

// Complete sends req to the Messages API, splitting the leading "system"
// message out of the turn list as Anthropic requires.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system string
	var turns []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: complete: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
	}
	return &CompletionResponse{Text: sb.String()}, nil
}

var _ Provider = (*AnthropicProvider)(nil)
