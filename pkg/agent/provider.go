package agent

import (
	"context"
	"fmt"
)

// ModelProvider is the model backend boundary. Implementations must honor
// context cancellation so calls can be abandoned on timeout.
type ModelProvider interface {
	// Generate produces the next model response for the given request.
	Generate(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// ToolDecl is a tool declaration passed to the model backend.
type ToolDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []ToolDecl
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the model backend's reply.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        *TokenUsage
}

// NewProvider creates a provider by name with the given API key.
func NewProvider(name, apiKey string) (ModelProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
