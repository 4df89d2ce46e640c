package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/api"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sse"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/tools"
)

var (
	chatTool      string
	chatAPIKey    string
	chatSessionID string
)

var chatCmd = &cobra.Command{
	Use:   "chat [sandbox-id] [message]",
	Short: "Send one chat message to the agent in a sandbox",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runChat(args[0], args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatTool, "tool", "t", "", "Tool id (default: last used)")
	chatCmd.Flags().StringVarP(&chatAPIKey, "api-key", "k", "", "Tool API key (default: stored key)")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Session id to resume (default: most recent for the tool)")
	RootCmd.AddCommand(chatCmd)
}

func runChat(sandboxID, message string) error {
	state, err := openState()
	if err != nil {
		return err
	}

	toolID := chatTool
	if toolID == "" {
		toolID, _ = state.registry.SelectedTool()
	}
	if toolID == "" {
		toolID = tools.ClaudeCode
	}
	tool, err := tools.Resolve(toolID)
	if err != nil {
		return err
	}

	apiKey := chatAPIKey
	if apiKey == "" {
		apiKey, _ = state.registry.APIKey(toolID)
	}
	if apiKey == "" {
		apiKey = os.Getenv(tool.APIKeyEnvVar)
	}
	if apiKey == "" {
		return fmt.Errorf("no API key for %s: pass --api-key or set %s", tool.DisplayName, tool.APIKeyEnvVar)
	}

	// Lazy expiry: a descriptor past its lifetime is evicted, not used.
	if _, evicted, _ := state.registry.EvictIfExpired(sandboxID, time.Now()); evicted {
		return fmt.Errorf("sandbox %s has expired; create a new one", sandboxID)
	}

	sessionID := chatSessionID
	if sessionID == "" {
		if records, _ := state.sessions.List(toolID); len(records) > 0 {
			sessionID = records[0].SessionID
		}
	}

	resp, err := state.postJSON("/sandboxes/"+sandboxID+"/chat", api.ChatRequest{
		Tool:      toolID,
		APIKey:    apiKey,
		SessionID: sessionID,
		Messages:  []api.ChatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	reader := sse.NewReader(resp.Body)
	for {
		payload, err := reader.Next()
		if err != nil {
			break
		}
		if payload == sse.DoneSentinel {
			break
		}

		var frame struct {
			Type  string           `json:"type"`
			Delta string           `json:"delta"`
			Data  api.ChatMetadata `json:"data"`
		}
		if json.Unmarshal([]byte(payload), &frame) != nil {
			continue
		}

		switch frame.Type {
		case api.FrameChatDelta:
			fmt.Print(frame.Delta)
		case api.FrameChatMetadata:
			if frame.Data.SessionID != "" {
				_ = state.sessions.Touch(toolID, frame.Data.SessionID, sandboxID, time.Now().UTC())
			}
			fmt.Printf("\n\n⏱  %dms", frame.Data.DurationMs)
			if frame.Data.TotalCostUSD > 0 {
				fmt.Printf("  💸 $%.4f", frame.Data.TotalCostUSD)
			}
			fmt.Println()
		case api.FrameChatErrorMeta:
			fmt.Fprintf(os.Stderr, "\nagent reported an error (exit code %d)\n", frame.Data.ExitCode)
		}
	}
	return nil
}
