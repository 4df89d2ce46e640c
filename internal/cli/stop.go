package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [sandbox-id]",
	Short: "Stop a sandbox and forget it locally",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStop(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	RootCmd.AddCommand(stopCmd)
}

func runStop(sandboxID string) error {
	state, err := openState()
	if err != nil {
		return err
	}

	resp, err := state.postJSON("/sandboxes/"+sandboxID+"/stop", struct{}{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 404 still clears local state: the sandbox is gone either way.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return readAPIError(resp)
	}

	_ = state.registry.RemoveSandbox(sandboxID)
	// Stopping the sandbox abandons any pending creation attempt too.
	_ = state.registry.ClearCreationState()

	fmt.Printf("♻️  Sandbox %s stopped\n", sandboxID)
	return nil
}
