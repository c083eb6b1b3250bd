package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lariat-ai/lariat/pkg/session"
	"github.com/lariat-ai/lariat/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStep func(ctx context.Context, request Request) (*Response, error)

// fakeProvider replays a scripted sequence of responses. The last step
// repeats if the runner calls more often than the script is long.
type fakeProvider struct {
	mu    sync.Mutex
	steps []fakeStep
	calls int
	seen  []Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, request Request) (*Response, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.seen = append(p.seen, request)
	step := p.steps[len(p.steps)-1]
	if idx < len(p.steps) {
		step = p.steps[idx]
	}
	p.mu.Unlock()

	return step(ctx, request)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) request(i int) Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[i]
}

func textStep(content string) fakeStep {
	return func(context.Context, Request) (*Response, error) {
		return &Response{
			Content:      content,
			FinishReason: FinishStop,
			Usage:        &TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

func toolStep(calls ...ToolCall) fakeStep {
	return func(context.Context, Request) (*Response, error) {
		return &Response{
			ToolCalls:    calls,
			FinishReason: FinishToolCalls,
			Usage:        &TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

type runnerFixture struct {
	runner   *Runner
	store    session.Store
	provider *fakeProvider

	mu       sync.Mutex
	executed []string
}

func setupRunner(t *testing.T, steps ...fakeStep) *runnerFixture {
	t.Helper()

	fixture := &runnerFixture{
		store:    session.NewInMemory(session.Config{Logger: zerolog.Nop()}),
		provider: &fakeProvider{steps: steps},
	}

	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(tool.Definition{
		Name:        "get_weather",
		Description: "Get weather for a city",
		Parameters: []tool.Parameter{
			{Name: "city", Type: "string", Description: "City name", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			city := args["city"].(string)
			fixture.mu.Lock()
			fixture.executed = append(fixture.executed, city)
			fixture.mu.Unlock()
			return fmt.Sprintf("sunny in %s", city), nil
		},
	}))

	runner, err := NewRunner(Config{
		Store:    fixture.store,
		Tools:    registry,
		Provider: fixture.provider,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	fixture.runner = runner

	return fixture
}

func (f *runnerFixture) newSession(t *testing.T) string {
	t.Helper()
	sess, err := f.store.CreateSession(context.Background(), "app", "user", nil, "")
	require.NoError(t, err)
	return sess.ID
}

func (f *runnerFixture) params(sessionID string) RunParams {
	return RunParams{
		AppName:   "app",
		UserID:    "user",
		SessionID: sessionID,
		Message:   "what is the weather in tokyo?",
		Config: RunConfig{
			Model: "test-model",
			Tools: []string{"get_weather"},
		},
	}
}

func (f *runnerFixture) executedTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

func TestNewRunner(t *testing.T) {
	t.Run("should require a session store", func(t *testing.T) {
		_, err := NewRunner(Config{Provider: &fakeProvider{}})
		assert.Error(t, err)
	})

	t.Run("should require a model provider", func(t *testing.T) {
		store := session.NewInMemory(session.Config{Logger: zerolog.Nop()})
		_, err := NewRunner(Config{Store: store})
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete a plain run without tools", func(t *testing.T) {
		fixture := setupRunner(t, textStep("hello there"))
		sessionID := fixture.newSession(t)

		result, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		assert.Equal(t, "hello there", result.Response)
		assert.Equal(t, FinishStop, result.FinishReason)
		assert.False(t, result.Truncated)
		assert.Empty(t, result.ToolCalls)
		assert.Equal(t, 1, result.Context.Iteration)
		assert.Equal(t, 1, fixture.provider.callCount())
		assert.Equal(t, TokenUsage{InputTokens: 10, OutputTokens: 5}, result.Usage)

		sess, err := fixture.store.GetSession(ctx, "app", "user", sessionID, nil)
		require.NoError(t, err)
		require.Len(t, sess.Events, 2)
		assert.Equal(t, "user", sess.Events[0].Author)
		assert.Equal(t, "assistant", sess.Events[1].Author)
		assert.Equal(t, "hello there", sess.Events[1].Content)
	})

	t.Run("should execute tool calls and count iterations as model calls", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "tokyo"}}),
			toolStep(ToolCall{ID: "tc-2", Name: "get_weather", Args: map[string]interface{}{"city": "osaka"}}),
			textStep("tokyo and osaka are both sunny"),
		)
		sessionID := fixture.newSession(t)

		result, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		assert.Equal(t, 3, fixture.provider.callCount())
		assert.Equal(t, 3, result.Context.Iteration)
		assert.Equal(t, 3, result.Metrics.Iterations)
		assert.Len(t, result.ToolCalls, 2)
		assert.Equal(t, 2, result.Metrics.ToolCalls)
		assert.False(t, result.Truncated)
		assert.Equal(t, []string{"tokyo", "osaka"}, fixture.executedTools())
	})

	t.Run("should execute multiple calls from one response in emitted order", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(
				ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "kyoto"}},
				ToolCall{ID: "tc-2", Name: "get_weather", Args: map[string]interface{}{"city": "nara"}},
			),
			textStep("done"),
		)
		sessionID := fixture.newSession(t)

		result, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		assert.Equal(t, []string{"kyoto", "nara"}, fixture.executedTools())
		assert.Equal(t, 2, result.Context.Iteration)
		assert.Len(t, result.ToolCalls, 2)
	})

	t.Run("should fold tool results into the next request", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "tokyo"}}),
			textStep("sunny"),
		)
		sessionID := fixture.newSession(t)

		_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		second := fixture.provider.request(1)
		require.GreaterOrEqual(t, len(second.Messages), 3)

		assistant := second.Messages[len(second.Messages)-2]
		assert.Equal(t, "assistant", assistant.Role)
		require.Len(t, assistant.ToolCalls, 1)
		assert.Equal(t, "tc-1", assistant.ToolCalls[0].ID)

		toolResult := second.Messages[len(second.Messages)-1]
		assert.Equal(t, "tool", toolResult.Role)
		assert.Equal(t, "tc-1", toolResult.ToolCallID)
		assert.Equal(t, "sunny in tokyo", toolResult.Content)
	})

	t.Run("should truncate at the iteration bound without error", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "tokyo"}}),
		)
		sessionID := fixture.newSession(t)

		params := fixture.params(sessionID)
		params.Config.MaxIterations = 1

		result, err := fixture.runner.Run(ctx, params)
		require.NoError(t, err)

		assert.True(t, result.Truncated)
		assert.Equal(t, 1, result.Context.Iteration)
		assert.Equal(t, 1, fixture.provider.callCount())
		assert.Equal(t, FinishToolCalls, result.FinishReason)
	})

	t.Run("should reject malformed params before any model call", func(t *testing.T) {
		fixture := setupRunner(t, textStep("unused"))
		sessionID := fixture.newSession(t)

		params := fixture.params(sessionID)
		params.Message = ""

		_, err := fixture.runner.Run(ctx, params)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, fixture.provider.callCount())
	})

	t.Run("should classify an unknown session", func(t *testing.T) {
		fixture := setupRunner(t, textStep("unused"))

		_, err := fixture.runner.Run(ctx, fixture.params("no-such-session"))
		require.Error(t, err)
		assert.True(t, IsKind(err, KindSession))
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.Equal(t, 0, fixture.provider.callCount())
	})

	t.Run("should classify backend failures", func(t *testing.T) {
		fixture := setupRunner(t, func(context.Context, Request) (*Response, error) {
			return nil, fmt.Errorf("rate limited")
		})
		sessionID := fixture.newSession(t)

		_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.Error(t, err)
		assert.True(t, IsKind(err, KindModel))
		assert.Equal(t, 1, fixture.runner.Metrics().Errors)
	})

	t.Run("should classify a request for an unknown tool", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "launch_rockets", Args: map[string]interface{}{}}),
		)
		sessionID := fixture.newSession(t)

		_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.Error(t, err)
		assert.True(t, IsKind(err, KindTool))
		assert.ErrorIs(t, err, tool.ErrNotFound)
	})

	t.Run("should time out a slow model call", func(t *testing.T) {
		fixture := setupRunner(t, func(callCtx context.Context, _ Request) (*Response, error) {
			<-callCtx.Done()
			return nil, callCtx.Err()
		})
		sessionID := fixture.newSession(t)

		params := fixture.params(sessionID)
		params.Config.Timeout = 30 * time.Millisecond

		_, err := fixture.runner.Run(ctx, params)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindModel))
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("should emit lifecycle events in order with increasing timestamps", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "tokyo"}}),
			textStep("sunny"),
		)
		sessionID := fixture.newSession(t)

		result, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		events := result.Events
		require.Len(t, events, 3)
		assert.Equal(t, EventRunStart, events[0].Type)
		assert.Equal(t, EventToolCall, events[1].Type)
		assert.Equal(t, EventRunComplete, events[2].Type)
		for i := 1; i < len(events); i++ {
			assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp))
		}
		assert.Equal(t, "get_weather", events[1].Data["tool"])
	})
}

func TestRunnerMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("should accumulate across runs and reset to zero", func(t *testing.T) {
		fixture := setupRunner(t, textStep("hi"))

		for i := 0; i < 2; i++ {
			sessionID := fixture.newSession(t)
			_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
			require.NoError(t, err)
		}

		snapshot := fixture.runner.Metrics()
		assert.Equal(t, 2, snapshot.Iterations)
		assert.Equal(t, 30, snapshot.TokensUsed)
		assert.Positive(t, snapshot.ExecutionTime)

		fixture.runner.ResetMetrics()
		assert.Equal(t, MetricsSnapshot{}, fixture.runner.Metrics())

		fixture.runner.ResetMetrics()
		assert.Equal(t, MetricsSnapshot{}, fixture.runner.Metrics())

		// A run after reset accumulates from zero, not pre-reset values.
		sessionID := fixture.newSession(t)
		_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)
		assert.Equal(t, 1, fixture.runner.Metrics().Iterations)
	})
}

func TestRunStream(t *testing.T) {
	ctx := context.Background()

	t.Run("should stream events then a single terminal result", func(t *testing.T) {
		fixture := setupRunner(t,
			toolStep(ToolCall{ID: "tc-1", Name: "get_weather", Args: map[string]interface{}{"city": "tokyo"}}),
			textStep("sunny"),
		)
		sessionID := fixture.newSession(t)

		var events []EventType
		var result *RunResult
		for item := range fixture.runner.RunStream(ctx, fixture.params(sessionID)) {
			switch {
			case item.Event != nil:
				events = append(events, item.Event.Type)
			case item.Result != nil:
				result = item.Result
			default:
				t.Fatalf("unexpected stream error: %v", item.Err)
			}
		}

		assert.Equal(t, []EventType{EventRunStart, EventToolCall, EventRunComplete}, events)
		require.NotNil(t, result)
		assert.Equal(t, "sunny", result.Response)
	})

	t.Run("should deliver failures as a terminal error item", func(t *testing.T) {
		fixture := setupRunner(t, textStep("unused"))

		var terminalErr error
		for item := range fixture.runner.RunStream(ctx, fixture.params("no-such-session")) {
			if item.Err != nil {
				terminalErr = item.Err
			}
		}

		require.Error(t, terminalErr)
		assert.True(t, IsKind(terminalErr, KindSession))
	})

	t.Run("should stop when the consumer cancels", func(t *testing.T) {
		fixture := setupRunner(t, textStep("hi"))
		sessionID := fixture.newSession(t)

		streamCtx, cancel := context.WithCancel(ctx)
		cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range fixture.runner.RunStream(streamCtx, fixture.params(sessionID)) {
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not terminate after cancellation")
		}
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("should observe events synchronously during a run", func(t *testing.T) {
		fixture := setupRunner(t, textStep("hi"))
		sessionID := fixture.newSession(t)

		var mu sync.Mutex
		var seen []EventType
		remove := fixture.runner.Subscribe(func(event Event) {
			mu.Lock()
			seen = append(seen, event.Type)
			mu.Unlock()
		})

		_, err := fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		mu.Lock()
		assert.Equal(t, []EventType{EventRunStart, EventRunComplete}, seen)
		mu.Unlock()

		remove()
		sessionID = fixture.newSession(t)
		_, err = fixture.runner.Run(ctx, fixture.params(sessionID))
		require.NoError(t, err)

		mu.Lock()
		assert.Len(t, seen, 2)
		mu.Unlock()
	})
}
