package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/lariat-ai/lariat/internal/observability"
	"github.com/lariat-ai/lariat/internal/tracing"
	"github.com/lariat-ai/lariat/pkg/memory"
	"github.com/lariat-ai/lariat/pkg/session"
	"github.com/lariat-ai/lariat/pkg/tool"
	"github.com/rs/zerolog"
)

// Runner drives the model call and tool execution loop against a session.
// A runner is safe for concurrent use; its metrics and event log accumulate
// across runs until reset.
type Runner struct {
	store    session.Store
	tools    *tool.Registry
	provider ModelProvider
	memory   *memory.Service
	logger   zerolog.Logger

	recorder *Recorder
	metrics  runMetrics
}

// Config holds runner configuration.
type Config struct {
	Store    session.Store
	Tools    *tool.Registry
	Provider ModelProvider
	Memory   *memory.Service
	Logger   zerolog.Logger

	// MaxEvents caps the lifecycle event log; zero keeps everything.
	MaxEvents int

	// Subscribers are registered before the first run; more can be added
	// later via Subscribe.
	Subscribers []Subscriber
}

// NewRunner creates a new agent runner.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("model provider is required")
	}

	runner := &Runner{
		store:    cfg.Store,
		tools:    cfg.Tools,
		provider: cfg.Provider,
		memory:   cfg.Memory,
		logger:   cfg.Logger.With().Str("component", "runner").Logger(),
		recorder: NewRecorder(cfg.MaxEvents),
	}
	for _, fn := range cfg.Subscribers {
		runner.recorder.Subscribe(fn)
	}
	return runner, nil
}

// StreamItem is one element of a streaming run. Exactly one field is set:
// lifecycle events arrive in order, then a single terminal Result or Err.
type StreamItem struct {
	Event  *Event     `json:"event,omitempty"`
	Result *RunResult `json:"result,omitempty"`
	Err    error      `json:"-"`
}

// Run executes the invocation loop to completion and returns the final
// result. Failures are *RunError values classified by ErrorKind.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	return r.execute(ctx, params, nil)
}

// RunStream executes the invocation loop and delivers lifecycle events as
// they happen, followed by exactly one terminal Result or Err item. The
// channel is closed after the terminal item. Cancelling ctx stops both the
// run and the delivery.
func (r *Runner) RunStream(ctx context.Context, params RunParams) <-chan StreamItem {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan StreamItem, 16)

	go func() {
		defer close(ch)

		send := func(item StreamItem) {
			select {
			case ch <- item:
			case <-ctx.Done():
			}
		}

		result, err := r.execute(ctx, params, func(event Event) {
			send(StreamItem{Event: &event})
		})
		if err != nil {
			send(StreamItem{Err: err})
			return
		}
		send(StreamItem{Result: result})
	}()

	return ch
}

// Metrics returns a snapshot of the runner's cumulative counters.
func (r *Runner) Metrics() MetricsSnapshot {
	return r.metrics.read()
}

// ResetMetrics zeroes the cumulative counters. The event log is unaffected.
func (r *Runner) ResetMetrics() {
	r.metrics.reset()
}

// Events returns a copy of the runner's lifecycle event log.
func (r *Runner) Events() []Event {
	return r.recorder.Events()
}

// Subscribe registers a synchronous subscriber for lifecycle events and
// returns its removal function.
func (r *Runner) Subscribe(fn Subscriber) func() {
	return r.recorder.Subscribe(fn)
}

// execute is the shared body of Run and RunStream. onEvent, when non-nil,
// receives each stamped lifecycle event after it lands in the recorder.
func (r *Runner) execute(ctx context.Context, params RunParams, onEvent func(Event)) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	cfg := withDefaults(params.Config)

	invocation := InvocationContext{
		InvocationID:  tracing.NewTraceID(),
		AppName:       params.AppName,
		UserID:        params.UserID,
		SessionID:     params.SessionID,
		StartTime:     start,
		MaxIterations: cfg.MaxIterations,
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithInvocationID(ctx, invocation.InvocationID)
	ctx = tracing.WithSession(ctx, params.AppName, params.UserID, params.SessionID)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	// EnableLogging and EnableMetrics gate ambient output only; the result's
	// Metrics snapshot and Events log are part of the API contract and always
	// populated.
	if !cfg.EnableLogging {
		logger = zerolog.Nop()
	}

	emit := func(eventType EventType, data map[string]interface{}) {
		snapshot := invocation
		stamped := r.recorder.Append(Event{
			Type:    eventType,
			Data:    data,
			Context: &snapshot,
		})
		if onEvent != nil {
			onEvent(stamped)
		}
	}

	fail := func(kind ErrorKind, err error) (*RunResult, error) {
		runErr := &RunError{
			Kind:      kind,
			SessionID: params.SessionID,
			Iteration: invocation.Iteration,
			Err:       err,
		}
		r.metrics.addError()
		if cfg.EnableMetrics {
			observability.RecordRunError(string(kind))
			observability.RecordRun(r.provider.Name(), time.Since(start), invocation.Iteration, false)
		}
		emit(EventError, map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		logger.Error().Err(err).Str("kind", string(kind)).Msg("Agent run failed")
		return nil, runErr
	}

	if err := validateParams(params, cfg); err != nil {
		return fail(KindValidation, err)
	}

	sess, err := r.store.GetSession(ctx, params.AppName, params.UserID, params.SessionID, nil)
	if err != nil {
		return fail(KindSession, err)
	}
	if sess == nil {
		return fail(KindSession, fmt.Errorf("session %s: %w", params.SessionID, session.ErrNotFound))
	}

	emit(EventRunStart, map[string]interface{}{
		"model":          cfg.Model,
		"max_iterations": cfg.MaxIterations,
	})
	logger.Info().Str("model", cfg.Model).Msg("Agent run started")

	tools, err := r.buildTools(cfg.Tools)
	if err != nil {
		return fail(KindValidation, err)
	}

	systemPrompt, err := r.buildSystemPrompt(ctx, params, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load memory context")
		systemPrompt = cfg.SystemPrompt
	}

	messages := buildHistory(sess.Events)
	messages = append(messages, Message{Role: "user", Content: params.Message})

	if err := r.appendSessionEvent(ctx, params, session.Event{
		Author:  "user",
		Content: params.Message,
	}); err != nil {
		return fail(KindSession, err)
	}

	var (
		finalResponse *Response
		allToolCalls  []ToolCall
		usage         TokenUsage
		truncated     = true
	)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		invocation.Iteration = iter + 1

		response, err := callWithTimeout(ctx, cfg.Timeout, func(callCtx context.Context) (*Response, error) {
			return r.provider.Generate(callCtx, Request{
				Model:        cfg.Model,
				Messages:     messages,
				Tools:        tools,
				Temperature:  cfg.Temperature,
				MaxTokens:    cfg.MaxTokens,
				SystemPrompt: systemPrompt,
			})
		})
		if err != nil {
			return fail(KindModel, err)
		}
		finalResponse = response
		r.metrics.addTokens(response.Usage)
		if response.Usage != nil {
			usage.InputTokens += response.Usage.InputTokens
			usage.OutputTokens += response.Usage.OutputTokens
		}

		if !HasToolCalls(response) {
			truncated = false
			break
		}

		// Fold the tool turn back into the conversation before executing, so
		// the transcript stays pairwise even if a tool fails.
		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			emit(EventToolCall, map[string]interface{}{
				"tool":    toolCall.Name,
				"call_id": toolCall.ID,
				"args":    toolCall.Args,
			})

			result, err := r.executeTool(ctx, toolCall)
			if err != nil {
				return fail(KindTool, err)
			}

			r.metrics.addToolCall()
			allToolCalls = append(allToolCalls, toolCall)

			messages = append(messages, Message{
				Role:       "tool",
				Content:    fmt.Sprintf("%v", result.Output),
				ToolCallID: toolCall.ID,
			})

			if err := r.appendSessionEvent(ctx, params, session.Event{
				Author:  "tool",
				Content: fmt.Sprintf("%v", result.Output),
				Metadata: map[string]interface{}{
					"tool":    toolCall.Name,
					"call_id": toolCall.ID,
				},
			}); err != nil {
				return fail(KindSession, err)
			}
		}
	}

	response := ""
	finishReason := FinishStop
	if finalResponse != nil {
		response = finalResponse.Content
		finishReason = finalResponse.FinishReason
	}
	if truncated {
		logger.Warn().Int("iterations", invocation.Iteration).Msg("Iteration bound reached before terminal response")
	}

	if err := r.appendSessionEvent(ctx, params, session.Event{
		Author:  "assistant",
		Content: response,
		Metadata: map[string]interface{}{
			"model":         cfg.Model,
			"finish_reason": string(finishReason),
		},
	}); err != nil {
		return fail(KindSession, err)
	}

	// Re-read for the post-run merged state and the persisted transcript.
	sess, err = r.store.GetSession(ctx, params.AppName, params.UserID, params.SessionID, nil)
	if err != nil || sess == nil {
		return fail(KindSession, fmt.Errorf("failed to reload session: %w", err))
	}

	duration := time.Since(start)
	r.metrics.addRun(duration, invocation.Iteration)
	if cfg.EnableMetrics {
		observability.RecordRun(r.provider.Name(), duration, invocation.Iteration, true)
	}

	emit(EventRunComplete, map[string]interface{}{
		"iterations": invocation.Iteration,
		"tool_calls": len(allToolCalls),
		"truncated":  truncated,
	})
	logger.Info().
		Int("iterations", invocation.Iteration).
		Int("tool_calls", len(allToolCalls)).
		Dur("duration", duration).
		Msg("Agent run completed")

	return &RunResult{
		Response:     response,
		FinishReason: finishReason,
		ToolCalls:    allToolCalls,
		Usage:        usage,
		SessionState: sess.State,
		Context:      invocation,
		Metrics:      r.metrics.read(),
		Events:       r.recorder.Events(),
		Truncated:    truncated,
	}, nil
}

func withDefaults(cfg RunConfig) RunConfig {
	defaults := DefaultConfig()
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return cfg
}

func validateParams(params RunParams, cfg RunConfig) error {
	if params.AppName == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if params.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if params.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if params.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if cfg.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// buildTools resolves configured tool names into backend declarations.
func (r *Runner) buildTools(toolNames []string) ([]ToolDecl, error) {
	if len(toolNames) == 0 {
		return nil, nil
	}
	if r.tools == nil {
		return nil, fmt.Errorf("tools requested but no registry configured")
	}

	decls := make([]ToolDecl, 0, len(toolNames))
	for _, name := range toolNames {
		def := r.tools.Get(name)
		if def == nil {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		decls = append(decls, ToolDecl{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		})
	}
	return decls, nil
}

func (r *Runner) buildSystemPrompt(ctx context.Context, params RunParams, cfg RunConfig) (string, error) {
	systemPrompt := cfg.SystemPrompt

	if !cfg.UseMemory || r.memory == nil {
		return systemPrompt, nil
	}

	entries, err := r.memory.Search(ctx, params.AppName, params.UserID, params.Message, &memory.SearchOptions{
		Limit:    3,
		MinScore: 0.5,
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return systemPrompt, nil
	}

	memoryContext := ""
	for i, entry := range entries {
		memoryContext += fmt.Sprintf("## Memory %d (relevance: %.2f)\nSession: %s\n\n%s\n\n",
			i+1, entry.Score, entry.SessionID, entry.Content)
	}
	if systemPrompt == "" {
		return fmt.Sprintf("# Relevant Context from Memory\n\n%s", memoryContext), nil
	}
	return fmt.Sprintf("%s\n\n# Relevant Context from Memory\n\n%s", systemPrompt, memoryContext), nil
}

func (r *Runner) executeTool(ctx context.Context, toolCall ToolCall) (tool.Result, error) {
	if r.tools == nil {
		return tool.Result{}, fmt.Errorf("model requested tool %s but no registry configured", toolCall.Name)
	}
	result, err := r.tools.Execute(ctx, toolCall.Name, toolCall.Args, nil)
	if err != nil {
		return tool.Result{}, fmt.Errorf("tool %s (call %s): %w", toolCall.Name, toolCall.ID, err)
	}
	return result, nil
}

func (r *Runner) appendSessionEvent(ctx context.Context, params RunParams, event session.Event) error {
	if err := r.store.AppendEvent(ctx, params.AppName, params.UserID, params.SessionID, event); err != nil {
		return fmt.Errorf("failed to persist %s event: %w", event.Author, err)
	}
	return nil
}

// buildHistory converts persisted session events into conversation turns.
// Tool-authored events are skipped: their call-id pairing is not persisted,
// and backends reject unpaired tool results.
func buildHistory(events []session.Event) []Message {
	messages := make([]Message, 0, len(events))
	for _, ev := range events {
		if ev.Content == "" {
			continue
		}
		switch ev.Author {
		case "user", "assistant":
			messages = append(messages, Message{Role: ev.Author, Content: ev.Content})
		}
	}
	return messages
}
