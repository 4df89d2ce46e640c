package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime/fake"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sse"
)

func newTestServer(rt runtime.Runtime, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	NewHandler(rt, setup.New(rt, setup.Options{}), apiKey).RegisterRoutes(e)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func mustCreateSandbox(t *testing.T, rt *fake.Runtime) string {
	t.Helper()
	h, err := rt.Create(context.Background(), runtime.Spec{})
	require.NoError(t, err)
	return h.ID()
}

// readFrames decodes every SSE payload in a finished response body.
func readFrames(t *testing.T, body io.Reader) []string {
	t.Helper()
	r := sse.NewReader(body)
	var out []string
	for {
		payload, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, payload)
	}
}

func TestCreateSandboxValidatesBeforeStreaming(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")

	for _, body := range []string{
		`{"tool":"claude-code"}`,
		`{"tool":"claude-code","apiKey":"  "}`,
		`{"tool":"copilot","apiKey":"k"}`,
		`not json`,
	} {
		rec := doJSON(e, http.MethodPost, "/sandboxes", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/json",
			"validation errors are plain JSON, not a stream")

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["success"])
	}
}

func TestCreateSandboxStreamsToTerminalFrame(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")

	rec := doJSON(e, http.MethodPost, "/sandboxes", `{"tool":"claude-code","apiKey":"k","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	frames := readFrames(t, rec.Body)
	require.NotEmpty(t, frames)

	// All frames but the last are text deltas; the last is the terminal
	// sandbox-info payload.
	for _, f := range frames[:len(frames)-1] {
		var td setup.TextDelta
		require.NoError(t, json.Unmarshal([]byte(f), &td))
		assert.Equal(t, setup.FrameTextDelta, td.Type)
	}

	var term setup.DataFrame
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &term))
	assert.Equal(t, setup.DataSandboxInfo, term.ID)
	require.True(t, term.Data.Success)
	require.NotNil(t, term.Data.Sandbox)
	assert.NotEmpty(t, term.Data.Sandbox.ID)
}

func TestCreateSandboxRuntimeFailureStaysInStream(t *testing.T) {
	rt := fake.NewRuntime(nil)
	rt.CreateErr = errors.New("quota exhausted")
	e := newTestServer(rt, "")

	rec := doJSON(e, http.MethodPost, "/sandboxes", `{"tool":"claude-code","apiKey":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code, "failures after validation are in-stream")

	frames := readFrames(t, rec.Body)
	var term setup.DataFrame
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &term))
	assert.Equal(t, setup.DataErrorInfo, term.ID)
	assert.False(t, term.Data.Success)
	assert.Contains(t, term.Data.Error, "quota exhausted")
}

func TestAuthMiddleware(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "secret")

	rec := doJSON(e, http.MethodPost, "/sandboxes/sbx-1/stop", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/sandboxes/sbx-1/stop", nil)
	req.Header.Set("X-Cloudcode-API-Key", "wrong")
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// A correct header key passes auth and reaches the handler.
	req = httptest.NewRequest(http.MethodPost, "/sandboxes/sbx-1/stop", nil)
	req.Header.Set("X-Cloudcode-API-Key", "secret")
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// The query-parameter form works too.
	req = httptest.NewRequest(http.MethodPost, "/sandboxes/sbx-1/stop?api_key=secret", nil)
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStopSandbox(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/stop", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rt.Stopped(id))

	// Stopping again: the sandbox is gone as far as the API is concerned.
	rec = doJSON(e, http.MethodPost, "/sandboxes/"+id+"/stop", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/sandboxes/never-existed/stop", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminalSplitsOnWhitespace(t *testing.T) {
	rt := fake.NewRuntime(func(id string, cmd runtime.Cmd) *runtime.ExecResult {
		return &runtime.ExecResult{ExitCode: 0, Stdout: "total 0\n"}
	})
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/terminal", `{"command":"ls -la /tmp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TerminalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ls -la /tmp", resp.Command)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "total 0\n", resp.Stdout)

	cmds := rt.Commands(id)
	require.Len(t, cmds, 1)
	assert.Equal(t, "ls", cmds[0].Bin)
	assert.Equal(t, []string{"-la", "/tmp"}, cmds[0].Args)
	assert.False(t, cmds[0].Sudo)
}

func TestTerminalQuotesAreLiteral(t *testing.T) {
	rt := fake.NewRuntime(func(id string, cmd runtime.Cmd) *runtime.ExecResult {
		return &runtime.ExecResult{ExitCode: 0}
	})
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/terminal", `{"command":"echo \"a b\""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cmds := rt.Commands(id)
	require.Len(t, cmds, 1)
	assert.Equal(t, "echo", cmds[0].Bin)
	// No shell quoting: the quotes ride along as argument text.
	assert.Equal(t, []string{`"a`, `b"`}, cmds[0].Args)
}

func TestTerminalRejectsEmptyCommand(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	for _, body := range []string{`{"command":""}`, `{"command":"   "}`, `{}`} {
		rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/terminal", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Empty(t, rt.Commands(id))
}

func TestTerminalUnknownSandbox(t *testing.T) {
	e := newTestServer(fake.NewRuntime(nil), "")
	rec := doJSON(e, http.MethodPost, "/sandboxes/nope/terminal", `{"command":"ls"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStreamsResultAndMetadata(t *testing.T) {
	rt := fake.NewRuntime(func(id string, cmd runtime.Cmd) *runtime.ExecResult {
		out := `{"type":"result","result":"The answer is 4.","is_error":false,` +
			`"duration_ms":1200,"total_cost_usd":0.0031,"usage":{"input_tokens":9},` +
			`"session_id":"sess-42"}`
		return &runtime.ExecResult{ExitCode: 0, Stdout: out}
	})
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	body := `{"tool":"claude-code","apiKey":"k","sessionId":"sess-42",` +
		`"messages":[{"role":"user","content":"what is 2+2?"}]}`
	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 3, "delta, metadata, done")

	var delta chatDelta
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &delta))
	assert.Equal(t, FrameChatDelta, delta.Type)
	assert.Equal(t, "The answer is 4.", delta.Delta)

	var data chatData
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &data))
	assert.Equal(t, FrameChatMetadata, data.Type)
	assert.Equal(t, "sess-42", data.Data.SessionID)
	assert.Equal(t, int64(1200), data.Data.DurationMs)
	assert.Equal(t, 0.0031, data.Data.TotalCostUSD)
	assert.JSONEq(t, `{"input_tokens":9}`, string(data.Data.Usage))
	assert.Equal(t, 0, data.Data.ExitCode)

	assert.Equal(t, sse.DoneSentinel, frames[2])

	// A known session id resumes it; the key rides in the environment.
	cmds := rt.Commands(id)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0].Args, "--resume")
	assert.Contains(t, cmds[0].Args, "sess-42")
	assert.Equal(t, "k", cmds[0].Env["ANTHROPIC_API_KEY"])
}

func TestChatWithoutSessionContinues(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	body := `{"tool":"claude-code","apiKey":"k","messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	cmds := rt.Commands(id)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0].Args, "--continue")
	assert.NotContains(t, cmds[0].Args, "--resume")
}

func TestChatUsesLastUserMessage(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	body := `{"tool":"claude-code","apiKey":"k","messages":[` +
		`{"role":"user","content":"first"},` +
		`{"role":"assistant","content":"reply"},` +
		`{"role":"user","content":"second"}]}`
	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	cmds := rt.Commands(id)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0].Args, "second")
	assert.NotContains(t, cmds[0].Args, "first")
}

func TestChatNonzeroExitIsHTTPError(t *testing.T) {
	rt := fake.NewRuntime(func(id string, cmd runtime.Cmd) *runtime.ExecResult {
		return &runtime.ExecResult{ExitCode: 1, Stderr: "credit balance too low"}
	})
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	body := `{"tool":"claude-code","apiKey":"k","messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/json",
		"a failed turn is a plain error, never a partial stream")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "credit balance too low", resp["error"])
}

func TestChatToolLevelErrorUsesErrorMetadata(t *testing.T) {
	rt := fake.NewRuntime(func(id string, cmd runtime.Cmd) *runtime.ExecResult {
		out := `{"type":"result","result":"Prompt too long","is_error":true,"session_id":"sess-9"}`
		return &runtime.ExecResult{ExitCode: 0, Stdout: out}
	})
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	body := `{"tool":"claude-code","apiKey":"k","messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 3)

	var data chatData
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &data))
	assert.Equal(t, FrameChatErrorMeta, data.Type)
	assert.Equal(t, "sess-9", data.Data.SessionID)
}

func TestChatValidation(t *testing.T) {
	rt := fake.NewRuntime(nil)
	e := newTestServer(rt, "")
	id := mustCreateSandbox(t, rt)

	for _, body := range []string{
		`{"tool":"claude-code","messages":[{"role":"user","content":"hi"}]}`,
		`{"tool":"copilot","apiKey":"k","messages":[{"role":"user","content":"hi"}]}`,
		`{"tool":"claude-code","apiKey":"k","messages":[]}`,
		`{"tool":"claude-code","apiKey":"k","messages":[{"role":"assistant","content":"hi"}]}`,
	} {
		rec := doJSON(e, http.MethodPost, "/sandboxes/"+id+"/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Empty(t, rt.Commands(id))
}
