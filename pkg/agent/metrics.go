package agent

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of a runner's cumulative counters.
// Counters accumulate across Run calls on the same runner until reset.
type MetricsSnapshot struct {
	ExecutionTime time.Duration `json:"execution_time"`
	Iterations    int           `json:"iterations"`
	TokensUsed    int           `json:"tokens_used"`
	ToolCalls     int           `json:"tool_calls"`
	Errors        int           `json:"errors"`
}

type runMetrics struct {
	mu       sync.Mutex
	snapshot MetricsSnapshot
}

func (m *runMetrics) addRun(duration time.Duration, iterations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ExecutionTime += duration
	m.snapshot.Iterations += iterations
}

func (m *runMetrics) addTokens(usage *TokenUsage) {
	if usage == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.TokensUsed += usage.InputTokens + usage.OutputTokens
}

func (m *runMetrics) addToolCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ToolCalls++
}

func (m *runMetrics) addError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Errors++
}

func (m *runMetrics) read() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *runMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = MetricsSnapshot{}
}
