// Package api exposes the HTTP surface: streaming sandbox setup, the
// per-message chat and terminal relays, sandbox stop, and an interactive
// websocket attach.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sse"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/tools"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // CLI/SDK directly connecting
		}
		return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost")
	},
}

type Handler struct {
	rt     runtime.Runtime
	orch   *setup.Orchestrator
	apiKey string
}

func NewHandler(rt runtime.Runtime, orch *setup.Orchestrator, apiKey string) *Handler {
	return &Handler{rt: rt, orch: orch, apiKey: apiKey}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("")

	if h.apiKey != "" {
		g.Use(h.authMiddleware)
	}

	g.POST("/sandboxes", h.createSandbox)
	g.POST("/sandboxes/:id/stop", h.stopSandbox)
	g.POST("/sandboxes/:id/chat", h.chat)
	g.POST("/sandboxes/:id/terminal", h.terminal)
	g.GET("/sandboxes/:id/attach", h.attach)
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-Cloudcode-API-Key")
		if key == "" {
			key = c.QueryParam("api_key")
		}
		if key != h.apiKey {
			return jsonError(c, http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

// jsonError writes the uniform {success:false,error} body.
func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"success": false, "error": msg})
}

// createSandbox streams the full setup flow as server-sent events. All
// validation happens before the stream opens so bad input still gets a plain
// 400; after that, every failure is a terminal error-info frame.
func (h *Handler) createSandbox(c echo.Context) error {
	var req setup.Request
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if _, err := req.Validate(); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	w, err := sse.NewWriter(c.Response())
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	c.Response().WriteHeader(http.StatusOK)

	if err := h.orch.Run(c.Request().Context(), req, w.SendJSON); err != nil {
		// The terminal frame already reported setup failures; anything
		// surfacing here is a broken client connection.
		log.Debug().Err(err).Msg("setup stream ended early")
	}
	return nil
}

func (h *Handler) stopSandbox(c echo.Context) error {
	id := c.Param("id")
	handle, err := h.rt.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, runtime.ErrSandboxNotFound) || errors.Is(err, runtime.ErrSandboxUnavailable) {
			return jsonError(c, http.StatusNotFound, "sandbox not found")
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if err := handle.Stop(c.Request().Context()); err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// ChatRequest is one chat turn against an existing sandbox.
type ChatRequest struct {
	Tool      string        `json:"tool"`
	APIKey    string        `json:"apiKey"`
	SessionID string        `json:"sessionId,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMetadata is the trailing data frame of a chat stream. The snake_case
// fields mirror the tool's own result JSON.
type ChatMetadata struct {
	SessionID    string          `json:"sessionId"`
	DurationMs   int64           `json:"duration_ms"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	Usage        json.RawMessage `json:"usage,omitempty"`
	ExitCode     int             `json:"exitCode"`
}

// Chat stream frame types.
const (
	FrameChatDelta     = "text-delta"
	FrameChatMetadata  = "data-session-metadata"
	FrameChatErrorMeta = "data-error-metadata"
)

type chatDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type chatData struct {
	Type string       `json:"type"`
	Data ChatMetadata `json:"data"`
}

// chat runs one continue/resume invocation and streams the result. A chat
// turn always continues a conversation; the "new prompt" shape only exists
// during setup. A non-zero exit fails the whole request as an HTTP error,
// not a partial stream.
func (h *Handler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return jsonError(c, http.StatusBadRequest, "apiKey is required")
	}
	tool, err := tools.Resolve(req.Tool)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		return jsonError(c, http.StatusBadRequest, "no user message to send")
	}

	handle, err := h.rt.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, runtime.ErrSandboxNotFound) || errors.Is(err, runtime.ErrSandboxUnavailable) {
			return jsonError(c, http.StatusNotFound, "sandbox not found")
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	var inv tools.Invocation
	if req.SessionID != "" {
		inv = tool.ResumeArgs(req.SessionID, prompt)
	} else {
		inv = tool.ContinueArgs(prompt)
	}
	env, args := tool.ApplyAPIKey(inv, req.APIKey)

	started := time.Now()
	run, err := handle.RunCommand(c.Request().Context(), runtime.Cmd{Bin: inv.Bin, Args: args, Env: env})
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, fmt.Sprintf("failed to run %s: %v", tool.DisplayName, err))
	}
	if run.ExitCode != 0 {
		msg := strings.TrimSpace(run.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(run.Stdout)
		}
		if msg == "" {
			msg = fmt.Sprintf("%s exited with code %d", tool.DisplayName, run.ExitCode)
		}
		return jsonError(c, http.StatusInternalServerError, msg)
	}

	text, meta := parseToolResult(tool, run)
	if meta.DurationMs == 0 {
		meta.DurationMs = time.Since(started).Milliseconds()
	}

	w, err := sse.NewWriter(c.Response())
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	c.Response().WriteHeader(http.StatusOK)

	if err := w.SendJSON(chatDelta{Type: FrameChatDelta, Delta: text}); err != nil {
		return nil
	}
	frameType := FrameChatMetadata
	if meta.isError {
		frameType = FrameChatErrorMeta
	}
	if err := w.SendJSON(chatData{Type: frameType, Data: meta.ChatMetadata}); err != nil {
		return nil
	}
	_ = w.SendDone()
	return nil
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

type parsedMeta struct {
	ChatMetadata
	isError bool
}

// parseToolResult extracts the assistant text and metadata from the tool's
// stdout. Non-JSON output passes through verbatim; tools may legitimately
// emit plain text.
func parseToolResult(tool *tools.Descriptor, run *runtime.ExecResult) (string, parsedMeta) {
	meta := parsedMeta{ChatMetadata: ChatMetadata{ExitCode: run.ExitCode}}
	meta.SessionID = tool.ExtractSessionID(run.Stdout)

	var obj struct {
		Result       string          `json:"result"`
		IsError      bool            `json:"is_error"`
		DurationMs   int64           `json:"duration_ms"`
		TotalCostUSD float64         `json:"total_cost_usd"`
		Usage        json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(run.Stdout), &obj); err != nil {
		return run.Stdout, meta
	}

	meta.isError = obj.IsError
	meta.DurationMs = obj.DurationMs
	meta.TotalCostUSD = obj.TotalCostUSD
	meta.Usage = obj.Usage
	if obj.Result != "" {
		return obj.Result, meta
	}
	return run.Stdout, meta
}

// TerminalRequest runs one raw command in the sandbox.
type TerminalRequest struct {
	Command string `json:"command"`
}

// TerminalResponse echoes the command alongside the process's real exit
// code. The -1 "still running" sentinel is a client-local convention and is
// never produced here.
type TerminalResponse struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// terminal splits the command on whitespace and runs it non-privileged.
// There is no shell-quoting support: `echo "a b"` sends the quotes through
// as literal argument text. Known limitation, kept deliberately.
func (h *Handler) terminal(c echo.Context) error {
	var req TerminalRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	fields := strings.Fields(req.Command)
	if len(fields) == 0 {
		return jsonError(c, http.StatusBadRequest, "command is required")
	}

	handle, err := h.rt.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, runtime.ErrSandboxNotFound) || errors.Is(err, runtime.ErrSandboxUnavailable) {
			return jsonError(c, http.StatusNotFound, "sandbox not found")
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	run, err := handle.RunCommand(c.Request().Context(), runtime.Cmd{Bin: fields[0], Args: fields[1:]})
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, TerminalResponse{
		Command:  req.Command,
		ExitCode: run.ExitCode,
		Stdout:   run.Stdout,
		Stderr:   run.Stderr,
	})
}

// attach upgrades to a websocket and runs one command per text message,
// writing each TerminalResponse back as JSON. The sandbox runtime's serial
// command execution is the only ordering guarantee.
func (h *Handler) attach(c echo.Context) error {
	handle, err := h.rt.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, runtime.ErrSandboxNotFound) || errors.Is(err, runtime.ErrSandboxUnavailable) {
			return jsonError(c, http.StatusNotFound, "sandbox not found")
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return nil
		}
		command := strings.TrimSpace(string(message))
		fields := strings.Fields(command)
		if len(fields) == 0 {
			continue
		}

		run, err := handle.RunCommand(c.Request().Context(), runtime.Cmd{Bin: fields[0], Args: fields[1:]})
		if err != nil {
			resp, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
			if ws.WriteMessage(websocket.TextMessage, resp) != nil {
				return nil
			}
			continue
		}

		resp, _ := json.Marshal(TerminalResponse{
			Command:  command,
			ExitCode: run.ExitCode,
			Stdout:   run.Stdout,
			Stderr:   run.Stderr,
		})
		if ws.WriteMessage(websocket.TextMessage, resp) != nil {
			return nil
		}
	}
}
