package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*SimFlowLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(&LoggerConfig{Level: level, Format: "json", Output: buf}), buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSimFlowLogger_ContextAttributes(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.WithComponent("gateway").WithRun("run-42").WithContext("provider", "openai").Info("hello", "model", "gpt-4o")

	entry := decodeLine(t, buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "gateway", entry["component"])
	assert.Equal(t, "run-42", entry["run_id"])
	assert.Equal(t, "openai", entry["provider"])
	assert.Equal(t, "gpt-4o", entry["model"])
}

func TestSimFlowLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestSimFlowLogger_WithDoesNotLeak(t *testing.T) {
	base, buf := newBufferLogger(LogLevelInfo)
	_ = base.WithComponent("solver")

	base.Info("plain")

	entry := decodeLine(t, buf)
	_, has := entry["component"]
	assert.False(t, has)
}

func TestLogProviderCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogProviderCall("deepseek", "deepseek-chat", 2*time.Second, errors.New("quota"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Provider call failed", entry["msg"])
	assert.Equal(t, "quota", entry["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelInfo, ParseLevel("bogus"))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}

func TestNewLogger_PrettyFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "pretty", Output: buf, NoColor: true})

	l.WithComponent("solver").Debug("Solver run completed", "solver", "python")

	line := buf.String()
	assert.Contains(t, line, "DBG")
	assert.Contains(t, line, "Solver run completed")
	assert.Contains(t, line, "component=solver")
	assert.Contains(t, line, "solver=python")
}
