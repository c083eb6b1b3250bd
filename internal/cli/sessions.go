package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lariat-ai/lariat/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sessionsApp  string
	sessionsUser string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for a user",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's merged state and transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove sessions idle longer than the configured cleanup age",
	RunE:  runSessionsSweep,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsSweepCmd)

	sessionsCmd.PersistentFlags().StringVar(&sessionsApp, "app", "default", "application name")
	sessionsCmd.PersistentFlags().StringVar(&sessionsUser, "user", "local", "user id")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, err := rt.store.ListSessions(context.Background(), sessionsApp, sessionsUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, sess := range sessions {
		fmt.Fprintf(out, "%s\t%s\n", sess.ID, sess.LastUpdateTime.Format(time.RFC3339))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.store.GetSession(context.Background(), sessionsApp, sessionsUser, args[0], nil)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session: %s\nupdated: %s\n", sess.ID, sess.LastUpdateTime.Format(time.RFC3339))
	if len(sess.State) > 0 {
		fmt.Fprintln(out, "state:")
		for key, value := range sess.State {
			fmt.Fprintf(out, "  %s: %v\n", key, value)
		}
	}
	for _, event := range sess.Events {
		fmt.Fprintf(out, "[%s] %s: %s\n", event.Timestamp.Format(time.RFC3339), event.Author, event.Content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.store.DeleteSession(context.Background(), sessionsApp, sessionsUser, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runSessionsSweep(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	sweeper, ok := rt.store.(session.Sweeper)
	if !ok {
		return fmt.Errorf("store backend %s does not support sweeping", rt.cfg.Store.Backend)
	}

	cutoff := time.Now().Add(-rt.cfg.Cleanup.MaxAge)
	removed, err := sweeper.Sweep(cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", removed)
	return nil
}
