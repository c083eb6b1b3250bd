package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunMetrics(t *testing.T) {
	t.Run("should accumulate across runs", func(t *testing.T) {
		var m runMetrics
		m.addRun(100*time.Millisecond, 3)
		m.addRun(50*time.Millisecond, 1)
		m.addTokens(&TokenUsage{InputTokens: 10, OutputTokens: 20})
		m.addToolCall()
		m.addToolCall()
		m.addError()

		snapshot := m.read()
		assert.Equal(t, 150*time.Millisecond, snapshot.ExecutionTime)
		assert.Equal(t, 4, snapshot.Iterations)
		assert.Equal(t, 30, snapshot.TokensUsed)
		assert.Equal(t, 2, snapshot.ToolCalls)
		assert.Equal(t, 1, snapshot.Errors)
	})

	t.Run("should ignore nil usage", func(t *testing.T) {
		var m runMetrics
		m.addTokens(nil)
		assert.Zero(t, m.read().TokensUsed)
	})

	t.Run("should zero everything on reset", func(t *testing.T) {
		var m runMetrics
		m.addRun(time.Second, 5)
		m.addError()
		m.reset()

		assert.Equal(t, MetricsSnapshot{}, m.read())
	})
}
