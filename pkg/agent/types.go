package agent

import (
	"time"
)

// RunParams contains input parameters for one runner invocation.
type RunParams struct {
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Config    RunConfig `json:"config"`
}

// RunConfig configures runner behavior for an invocation.
type RunConfig struct {
	Model         string        `json:"model"`
	MaxIterations int           `json:"max_iterations,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	SystemPrompt  string        `json:"system_prompt,omitempty"`
	Temperature   float64       `json:"temperature,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Tools         []string      `json:"tools,omitempty"`
	UseMemory     bool          `json:"use_memory,omitempty"`
	EnableLogging bool          `json:"enable_logging,omitempty"`
	EnableMetrics bool          `json:"enable_metrics,omitempty"`
}

// DefaultConfig returns default run configuration.
func DefaultConfig() RunConfig {
	return RunConfig{
		MaxIterations: 5,
		Timeout:       60 * time.Second,
		Temperature:   0.7,
		MaxTokens:     4096,
		EnableLogging: true,
		EnableMetrics: true,
	}
}

// InvocationContext is per-invocation metadata. It is created fresh for each
// call to Run and never persisted.
type InvocationContext struct {
	InvocationID  string    `json:"invocation_id"`
	AppName       string    `json:"app_name"`
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id"`
	StartTime     time.Time `json:"start_time"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
}

// RunResult contains the output of one runner invocation.
type RunResult struct {
	Response     string                 `json:"response"`
	FinishReason FinishReason           `json:"finish_reason"`
	ToolCalls    []ToolCall             `json:"tool_calls,omitempty"`
	Usage        TokenUsage             `json:"usage"`
	SessionState map[string]interface{} `json:"session_state"`
	Context      InvocationContext      `json:"context"`
	Metrics      MetricsSnapshot        `json:"metrics"`
	Events       []Event                `json:"events"`
	// Truncated marks a run that hit the iteration bound before the model
	// produced a terminal response. This is a bounded success, not an error.
	Truncated bool `json:"truncated,omitempty"`
}

// Message represents one turn in the conversation sent to the model backend.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to execute a named tool.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FinishReason is the model backend's reason for ending a response.
type FinishReason string

const (
	FinishStop            FinishReason = "stop"
	FinishLength          FinishReason = "length"
	FinishToolCalls       FinishReason = "tool_calls"
	FinishContentFiltered FinishReason = "content_filtered"
)
