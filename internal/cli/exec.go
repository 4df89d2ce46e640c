package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/api"
)

var execCmd = &cobra.Command{
	Use:   "exec [sandbox-id] [command]",
	Short: "Run one shell command in a sandbox",
	Long: `Run a single command in the sandbox and print its output.

The command is split on whitespace; there is no shell-quoting support, so
arguments containing spaces cannot be expressed (exec 'echo "a b"' passes
the quotes through literally).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		code, err := runExec(args[0], args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	RootCmd.AddCommand(execCmd)
}

func runExec(sandboxID, command string) (int, error) {
	state, err := openState()
	if err != nil {
		return 0, err
	}

	// -1 is the local "still running" sentinel; the server always replaces
	// it with the real exit code.
	exitCode := -1

	resp, err := state.postJSON("/sandboxes/"+sandboxID+"/terminal", api.TerminalRequest{Command: command})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, readAPIError(resp)
	}

	var result api.TerminalResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("bad response: %w", err)
	}
	exitCode = result.ExitCode

	fmt.Print(result.Stdout)
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	return exitCode, nil
}
