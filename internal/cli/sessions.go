package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/tools"
)

var (
	sessionsTool  string
	sessionsClear bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or clear recent agent sessions",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSessions(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsTool, "tool", "t", "", "Tool id (default: last used)")
	sessionsCmd.Flags().BoolVar(&sessionsClear, "clear", false, "Forget all sessions for the tool")
	RootCmd.AddCommand(sessionsCmd)
}

func runSessions() error {
	state, err := openState()
	if err != nil {
		return err
	}

	toolID := sessionsTool
	if toolID == "" {
		toolID, _ = state.registry.SelectedTool()
	}
	if toolID == "" {
		toolID = tools.ClaudeCode
	}
	if _, err := tools.Resolve(toolID); err != nil {
		return err
	}

	if sessionsClear {
		if err := state.sessions.Clear(toolID); err != nil {
			return err
		}
		fmt.Printf("Cleared sessions for %s\n", toolID)
		return nil
	}

	records, err := state.sessions.List(toolID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No sessions recorded for %s\n", toolID)
		return nil
	}

	fmt.Printf("%-38s %-14s %s\n", "SESSION", "LAST USED", "SANDBOX")
	for _, r := range records {
		fmt.Printf("%-38s %-14s %s\n", r.SessionID, humanAge(r.LastUsedAt), r.SandboxID)
	}
	return nil
}

func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
