package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKeys(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "DEEPSEEK_API_KEY", "GEMINI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simflow.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestSelfCheck_Python(t *testing.T) {
	clearKeys(t)
	docker := testutil.WriteExecutable(t, "docker", `echo "Server: fake"`)
	cfg := writeConfig(t, fmt.Sprintf("sandbox {\n  runtime = %q\n}\n", docker))

	out, _, err := execute(t, "--config", cfg, "selfcheck", "python")
	require.NoError(t, err)
	assert.Contains(t, out, "python")
	assert.Contains(t, out, "ok")
}

func TestSelfCheck_AbaqusNotConfigured(t *testing.T) {
	clearKeys(t)

	out, _, err := execute(t, "selfcheck", "abaqus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abaqus")
	assert.Contains(t, out, "FAIL")
}

func TestSelfCheck_InvalidSolver(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "selfcheck", "fortran")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidSolverPreference)
}

func TestWorkflow_InvalidParams(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "workflow", "-m", "gpt-4o", "--problem", "beam", "--params", "[1,2]")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestWorkflow_ProviderNotConfigured(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "workflow", "-m", "gpt-4o", "--problem", "beam")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProviderError)
	assert.Contains(t, err.Error(), "not configured")
}

func TestWorkflow_MissingFlags(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "workflow", "-m", "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "problem")
}

func TestPing_UnknownProvider(t *testing.T) {
	clearKeys(t)

	out, _, err := execute(t, "ping", "mistral")
	require.Error(t, err)
	assert.Contains(t, out, "mistral")
	assert.Contains(t, out, "FAIL")
}

func TestConfig_InvalidFile(t *testing.T) {
	clearKeys(t)
	cfg := writeConfig(t, `provider "mistral" {}`)

	_, _, err := execute(t, "--config", cfg, "selfcheck")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestOptimize_InvalidSolver(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "optimize", "-m", "gpt-4o", "--problem", "beam", "-g", "ok", "--solver", "fortran")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidSolverPreference)
}

func openAIServer(t *testing.T, reply string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body, _ := json.Marshal(map[string]any{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": []any{map[string]any{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": reply},
			}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1/"
}

func TestReport(t *testing.T) {
	clearKeys(t)
	url := openAIServer(t, "```latex\n\\section{Beam}\n```")
	cfg := writeConfig(t, fmt.Sprintf("provider \"openai\" {\n  api_key = \"k\"\n  base_url = %q\n}\n", url))

	dir := t.TempDir()
	input := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"status":"success","message":"Optimization goal met.","history":[{"iteration":1,"parameters":{"l":2}}]}`), 0o600))
	output := filepath.Join(dir, "report.tex")

	_, _, err := execute(t, "--config", cfg, "report", "-m", "gpt-4o", "--problem", "beam", "-i", input, "-o", output)
	require.NoError(t, err)

	b, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "\\section{Beam}\n", string(b))
}

func TestReport_InvalidInput(t *testing.T) {
	clearKeys(t)
	input := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"foo":1}`), 0o600))

	_, _, err := execute(t, "report", "-m", "gpt-4o", "--problem", "beam", "-i", input)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestReport_ProviderNotConfigured(t *testing.T) {
	clearKeys(t)
	input := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"modeling_result":"m","analysis_result":"a"}`), 0o600))

	_, _, err := execute(t, "report", "-m", "gpt-4o", "--problem", "beam", "-i", input)
	require.ErrorIs(t, err, core.ErrProviderError)
	assert.False(t, core.IsTransient(err))
}

func fakeDockerConfig(t *testing.T, body string) string {
	t.Helper()
	docker := testutil.WriteExecutable(t, "docker", `if [ "$1" = "version" ]; then echo "Server: fake"; exit 0; fi
`+body)
	return writeConfig(t, fmt.Sprintf("sandbox {\n  runtime = %q\n}\n", docker))
}

func TestExec(t *testing.T) {
	clearKeys(t)
	cfg := fakeDockerConfig(t, `echo "ran"`)
	script := filepath.Join(t.TempDir(), "beam.py")
	require.NoError(t, os.WriteFile(script, []byte("print('ran')"), 0o600))

	out, _, err := execute(t, "--config", cfg, "exec", "--solver", "python", "--params", `{"l":2}`, script)
	require.NoError(t, err)

	var res core.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, core.OutcomeCompleted, res.Outcome)
	assert.Contains(t, res.Output, "ran")
}

func TestExec_Failure(t *testing.T) {
	clearKeys(t)
	cfg := fakeDockerConfig(t, `echo "Traceback: boom" >&2; exit 1`)
	script := filepath.Join(t.TempDir(), "beam.py")
	require.NoError(t, os.WriteFile(script, []byte("raise SystemExit(1)"), 0o600))

	out, _, err := execute(t, "--config", cfg, "exec", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_failed")
	assert.Contains(t, out, "Traceback: boom")
}

func TestExec_MissingScript(t *testing.T) {
	clearKeys(t)

	_, _, err := execute(t, "exec", filepath.Join(t.TempDir(), "nope.py"))
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}
