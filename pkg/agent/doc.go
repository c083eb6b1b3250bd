// Package agent drives LLM agent invocations: it sends conversation state to
// a model backend, executes any tool calls the model requests, folds the
// results back into the conversation, and repeats until the model produces a
// terminal response or the iteration bound is reached.
//
// Invariants:
//   - Tool calls within a response execute sequentially in the order the
//     model emitted them; a tool failure aborts the run.
//   - The iteration bound is a soft cap: hitting it yields a successful
//     result with Truncated set, never an error.
//   - Every failure is a *RunError classified by ErrorKind, emitted as an
//     error event before Run returns.
//   - Lifecycle events carry strictly increasing timestamps and reach
//     subscribers synchronously, in registration order.
//
// Usage:
//
//	runner, err := agent.NewRunner(agent.Config{
//		Store:    store,
//		Tools:    registry,
//		Provider: provider,
//		Logger:   logger,
//	})
//	if err != nil {
//		return err
//	}
//
//	result, err := runner.Run(ctx, agent.RunParams{
//		AppName:   "support",
//		UserID:    "u-42",
//		SessionID: sess.ID,
//		Message:   "What is the weather in Tokyo?",
//		Config:    agent.RunConfig{Model: "claude-sonnet-4-5", Tools: []string{"get_weather"}},
//	})
package agent
