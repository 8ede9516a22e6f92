package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/oauth2"
)

// OpenAIProvider wraps an openai-go/v3 client, usable both against
// OpenAI-compatible endpoints with a static API key and against gateways
// that require an OAuth2 refresh-token flow.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs a Provider using a static API key.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIProvider{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

// OAuthConfig describes a refresh-token-capable OpenAI-compatible endpoint.
type OAuthConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
}

// NewOpenAIProviderWithOAuth constructs a Provider whose HTTP transport
// refreshes its bearer token via oauth2, for gateways that front the
// OpenAI-compatible API behind OAuth2 rather than a static key.
func NewOpenAIProviderWithOAuth(ctx context.Context, cfg OAuthConfig, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	httpClient := oauth2.NewClient(ctx, tokenSource)

	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// GetDefaultModel returns the model used when req.Model is empty.
func (p *OpenAIProvider) GetDefaultModel() string { return p.defaultModel }

// Complete sends req to the Chat Completions API.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var turns []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			turns = append(turns, openai.SystemMessage(m.Content))
		case "assistant":
			turns = append(turns, openai.AssistantMessage(m.Content))
		default:
			turns = append(turns, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: turns,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &CompletionResponse{}, nil
	}
	return &CompletionResponse{Text: resp.Choices[0].Message.Content}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
