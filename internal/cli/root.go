package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	jsonLog   bool
	cfgPath   string
	serverURL string
)

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "cloudcode",
	Short: "Ephemeral cloud sandboxes for headless AI coding CLIs",
	Long: `cloudcode provisions ephemeral sandboxes, installs a headless AI coding
CLI inside them (Claude Code or Cursor CLI), and relays chat and terminal
commands to it.

It provides both the server (sandbox setup orchestrator and chat/terminal
relay) and the client commands for driving it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

		if !jsonLog {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		}

		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Output logs in JSON format")
	RootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "cloudcode.yaml", "Path to config file")
	RootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (overrides config)")
}
