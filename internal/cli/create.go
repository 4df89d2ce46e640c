package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/progress"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/session"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sse"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/tools"
)

var (
	createTool    string
	createAPIKey  string
	createPrompt  string
	createResume  bool
	createSession string
	createMinutes int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sandbox and set up the coding agent in it",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCreate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	createCmd.Flags().StringVarP(&createTool, "tool", "t", "", "Tool id: claude-code, cursor-cli (default: last used)")
	createCmd.Flags().StringVarP(&createAPIKey, "api-key", "k", "", "Tool API key (default: stored key, then the tool's env var)")
	createCmd.Flags().StringVar(&createPrompt, "prompt", "hello", "Verification prompt")
	createCmd.Flags().BoolVar(&createResume, "resume", false, "Resume a previous session instead of starting fresh")
	createCmd.Flags().StringVar(&createSession, "session", "", "Specific session id to resume (implies --resume)")
	createCmd.Flags().IntVar(&createMinutes, "minutes", 0, "Sandbox lifetime in minutes (clamped by the server)")
	RootCmd.AddCommand(createCmd)
}

func runCreate() error {
	state, err := openState()
	if err != nil {
		return err
	}

	toolID := createTool
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

	apiKey := createAPIKey
	if apiKey == "" {
		apiKey, _ = state.registry.APIKey(toolID)
	}
	if apiKey == "" {
		apiKey = os.Getenv(tool.APIKeyEnvVar)
	}
	if apiKey == "" {
		return fmt.Errorf("no API key for %s: pass --api-key or set %s", tool.DisplayName, tool.APIKeyEnvVar)
	}

	if createSession != "" {
		createResume = true
	}

	// Persist the attempt before the request so an interrupted create leaves
	// a visible trace that can be retried or cleaned up.
	if err := state.registry.SetCreationState(&sandbox.CreationState{
		APIKey:           apiKey,
		ToolID:           toolID,
		ToolName:         tool.DisplayName,
		Prompt:           createPrompt,
		ResumeSession:    createResume,
		SessionID:        createSession,
		AliveTimeMinutes: createMinutes,
		CreatedAt:        time.Now().UTC(),
	}); err != nil {
		return err
	}
	_ = state.registry.SetSelectedTool(toolID)
	_ = state.registry.SetAPIKey(toolID, apiKey)

	resp, err := state.postJSON("/sandboxes", setup.Request{
		APIKey:           apiKey,
		Tool:             toolID,
		Prompt:           createPrompt,
		ResumeSession:    createResume,
		SessionID:        createSession,
		AliveTimeMinutes: createMinutes,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	tasks := progress.NewTasks()
	reader := sse.NewReader(resp.Body)
	var accumulated strings.Builder
	var result *setup.Result

	for {
		payload, err := reader.Next()
		if err != nil {
			break // stream closure is the completion signal
		}

		var frame struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Delta string          `json:"delta"`
			Data  json.RawMessage `json:"data"`
		}
		if json.Unmarshal([]byte(payload), &frame) != nil {
			continue
		}

		switch frame.Type {
		case setup.FrameTextDelta:
			accumulated.WriteString(frame.Delta)
			fmt.Print(frame.Delta)
			tasks = progress.ApplyText(tasks, accumulated.String())
		case setup.FrameData:
			var r setup.Result
			if json.Unmarshal(frame.Data, &r) == nil {
				result = &r
			}
		}
	}

	if result == nil {
		tasks = progress.ApplyError(tasks, "stream ended without a result")
		printTasks(tasks)
		return fmt.Errorf("setup stream ended without a terminal frame")
	}

	if !result.Success {
		tasks = progress.ApplyError(tasks, result.Error)
		printTasks(tasks)
		return fmt.Errorf("setup failed: %s", result.Error)
	}

	desc := result.Sandbox
	tasks = progress.ApplyDescriptor(tasks, desc)
	printTasks(tasks)

	// The descriptor now has a real id: persist it, record the session, and
	// consume the pending creation state.
	if err := state.registry.SetSandbox(desc); err != nil {
		return err
	}
	if desc.Session.ID != "" {
		now := time.Now().UTC()
		_ = state.sessions.Save(session.Record{
			SessionID:  desc.Session.ID,
			ToolID:     desc.ToolID,
			SandboxID:  desc.ID,
			CreatedAt:  now,
			LastUsedAt: now,
		})
	}
	_ = state.registry.ClearCreationState()

	fmt.Printf("\n📦 Sandbox %s ready (%s, expires in %dm)\n",
		desc.ID, desc.ToolName, desc.TimeoutMs/60000)
	if desc.Session.ID != "" {
		fmt.Printf("💬 Session %s\n", desc.Session.ID)
	}
	return nil
}

func printTasks(tasks []progress.Task) {
	fmt.Println()
	for _, t := range tasks {
		icon := "⏳"
		switch t.Status {
		case progress.StatusCompleted:
			icon = "✅"
		case progress.StatusFailed:
			icon = "❌"
		case progress.StatusInProgress:
			icon = "🔄"
		}
		line := fmt.Sprintf("%s %s", icon, t.Description)
		if t.Details != "" {
			line += fmt.Sprintf(" (%s)", t.Details)
		}
		if t.Error != "" {
			line += fmt.Sprintf(": %s", t.Error)
		}
		fmt.Println(line)
	}
}
