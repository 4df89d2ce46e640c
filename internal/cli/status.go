package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [sandbox-id]",
	Short: "Show a sandbox's remaining lifetime",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Tick down every second until expiry")
	RootCmd.AddCommand(statusCmd)
}

// runStatus polls the locally stored descriptor on a 1-second tick. Expiry
// is computed, not observed: crossing createdAt+timeoutMs flips the expired
// flag and evicts the descriptor. The remote sandbox is not stopped — its
// own timeout handles that.
func runStatus(sandboxID string) error {
	state, err := openState()
	if err != nil {
		return err
	}

	for {
		desc, evicted, err := state.registry.EvictIfExpired(sandboxID, time.Now())
		if err != nil {
			return err
		}
		if evicted {
			fmt.Println("expired")
			return nil
		}
		if desc == nil {
			return fmt.Errorf("no local record of sandbox %s", sandboxID)
		}

		remaining := time.Until(desc.CreatedAt.Add(time.Duration(desc.TimeoutMs) * time.Millisecond))
		fmt.Printf("\r%s: %s remaining (%s)   ", desc.ID, remaining.Round(time.Second), desc.ToolName)
		if !statusWatch {
			fmt.Println()
			return nil
		}
		time.Sleep(time.Second)
	}
}
