// Package llm provides the pluggable model-backend surface ObjectivePlanner
// and ProgressAnalyzer use to generate task batches and judge milestone
// completion. The small-wrapper-over-a-shared-client shape (GetDefaultModel
// plus a compile-time interface assertion) is grounded on
// pkg/providers/moonshot_provider.go; the concrete backends are written
// against the real anthropic-sdk-go and openai-go/v3 SDKs rather than the
// teacher's undefined HTTPProvider/LLMProvider types.
package llm

import "context"

// Message is one turn in a completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// CompletionRequest is a provider-agnostic request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is a provider-agnostic response.
type CompletionResponse struct {
	Text string
}

// Provider is the capability surface ObjectivePlanner/ProgressAnalyzer call
// through. Each backend wraps one vendor SDK client.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	GetDefaultModel() string
}
