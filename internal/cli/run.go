package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lariat-ai/lariat/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	runApp        string
	runUser       string
	runSession    string
	runModel      string
	runTools      []string
	runMaxIter    int
	runTimeout    time.Duration
	runSystem     string
	runUseMemory  bool
	runStream     bool
	runShowEvents bool
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Run one agent turn against a session",
	Long: `Run one agent turn: the message is appended to the session, the model
is called in a loop executing any requested tools, and the final response is
printed. A new session is created when --session is omitted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runApp, "app", "default", "application name")
	runCmd.Flags().StringVar(&runUser, "user", "local", "user id")
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (created when empty)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().StringSliceVar(&runTools, "tools", nil, "tool names to expose to the model")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "iteration bound override")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per model call timeout override")
	runCmd.Flags().StringVar(&runSystem, "system", "", "system prompt override")
	runCmd.Flags().BoolVar(&runUseMemory, "memory", false, "include recalled context from past sessions")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "print lifecycle events as they happen")
	runCmd.Flags().BoolVar(&runShowEvents, "events", false, "print the event log after the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := runSession
	if sessionID == "" {
		sess, err := rt.store.CreateSession(ctx, runApp, runUser, nil, "")
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = sess.ID
		fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", sessionID)
	}

	cfg := rt.cfg.Runner
	params := agent.RunParams{
		AppName:   runApp,
		UserID:    runUser,
		SessionID: sessionID,
		Message:   strings.Join(args, " "),
		Config: agent.RunConfig{
			Model:         cfg.Model,
			MaxIterations: cfg.MaxIterations,
			Timeout:       cfg.Timeout,
			SystemPrompt:  cfg.SystemPrompt,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			Tools:         cfg.Tools,
			UseMemory:     cfg.UseMemory,
			EnableLogging: true,
			EnableMetrics: true,
		},
	}
	if runModel != "" {
		params.Config.Model = runModel
	}
	if len(runTools) > 0 {
		params.Config.Tools = runTools
	}
	if runMaxIter > 0 {
		params.Config.MaxIterations = runMaxIter
	}
	if runTimeout > 0 {
		params.Config.Timeout = runTimeout
	}
	if runSystem != "" {
		params.Config.SystemPrompt = runSystem
	}
	if runUseMemory {
		params.Config.UseMemory = true
	}

	if runStream {
		return streamRun(ctx, cmd, rt, params)
	}

	result, err := rt.runner.Run(ctx, params)
	if err != nil {
		return err
	}
	printResult(cmd, result)
	return nil
}

func streamRun(ctx context.Context, cmd *cobra.Command, rt *runtime, params agent.RunParams) error {
	out := cmd.OutOrStdout()
	for item := range rt.runner.RunStream(ctx, params) {
		switch {
		case item.Event != nil:
			fmt.Fprintf(out, "[%s] %s\n", item.Event.Timestamp.Format(time.RFC3339Nano), item.Event.Type)
		case item.Err != nil:
			return item.Err
		case item.Result != nil:
			printResult(cmd, item.Result)
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, result *agent.RunResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, result.Response)
	if result.Truncated {
		fmt.Fprintln(out, "(truncated: iteration bound reached)")
	}
	fmt.Fprintf(out, "\nfinish: %s  tools: %d  tokens: %d in / %d out\n",
		result.FinishReason, len(result.ToolCalls),
		result.Usage.InputTokens, result.Usage.OutputTokens)

	if runShowEvents {
		for _, event := range result.Events {
			fmt.Fprintf(out, "%s %s\n", event.Timestamp.Format(time.RFC3339Nano), event.Type)
		}
	}
}
