package solver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSession struct{ mock.Mock }

func (m *MockSession) SetVariable(ctx context.Context, name string, value any) error {
	return m.Called(ctx, name, value).Error(0)
}

func (m *MockSession) Eval(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

func starterFor(s Session) SessionStarter {
	return SessionStarterFunc(func(context.Context) (Session, error) { return s, nil })
}

func TestEngineAgent_Run(t *testing.T) {
	s := &MockSession{}
	s.On("SetVariable", mock.Anything, "a", 1).Return(nil).Once()
	s.On("SetVariable", mock.Anything, "b", "x").Return(nil).Once()
	s.On("Eval", mock.Anything, "disp(a)").Return("1", nil).Once()
	s.On("Close").Return(nil).Once()

	agent := NewEngineAgent(func(o *EngineOptions) { o.Starter = starterFor(s) })
	res := agent.Run(context.Background(), Request{
		Code:       "disp(a)",
		Parameters: core.ParameterSet{"b": "x", "a": 1},
	})

	assert.True(t, res.Success)
	assert.Equal(t, core.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "1", res.Output)
	s.AssertExpectations(t)
}

func TestEngineAgent_EvalErrorStillCloses(t *testing.T) {
	s := &MockSession{}
	s.On("Eval", mock.Anything, "bad").Return("", errors.New("Undefined function 'bad'")).Once()
	s.On("Close").Return(nil).Once()

	agent := NewEngineAgent(func(o *EngineOptions) { o.Starter = starterFor(s) })
	res := agent.Run(context.Background(), Request{Code: "bad"})

	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
	assert.Contains(t, res.Error, "Undefined function")
	s.AssertExpectations(t)
}

func TestEngineAgent_SetVariableError(t *testing.T) {
	s := &MockSession{}
	s.On("SetVariable", mock.Anything, "k", 2).Return(errors.New("nope")).Once()
	s.On("Close").Return(nil).Once()

	agent := NewEngineAgent(func(o *EngineOptions) { o.Starter = starterFor(s) })
	res := agent.Run(context.Background(), Request{Code: "x", Parameters: core.ParameterSet{"k": 2}})

	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
	assert.Contains(t, res.Error, "set variable k")
	s.AssertNotCalled(t, "Eval", mock.Anything, mock.Anything)
	s.AssertExpectations(t)
}

func TestEngineAgent_StartFailure(t *testing.T) {
	agent := NewEngineAgent(func(o *EngineOptions) {
		o.Starter = SessionStarterFunc(func(context.Context) (Session, error) {
			return nil, errors.New("license checkout failed")
		})
	})

	res := agent.Run(context.Background(), Request{Code: "x"})
	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeEnvironmentUnavailable, res.Outcome)
	assert.Contains(t, res.Error, "Failed to start MATLAB engine")
	assert.Contains(t, res.Error, "license checkout failed")

	ok, msg := agent.SelfCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "MATLAB license check failed")
}

func TestEngineAgent_SelfCheck(t *testing.T) {
	s := &MockSession{}
	s.On("Close").Return(nil).Once()

	agent := NewEngineAgent(func(o *EngineOptions) { o.Starter = starterFor(s) })
	ok, msg := agent.SelfCheck(context.Background())

	assert.True(t, ok)
	assert.Equal(t, "MATLAB connection successful", msg)
	s.AssertExpectations(t)

	agent = NewEngineAgent(func(o *EngineOptions) { o.ExecutablePath = "" })
	ok, msg = agent.SelfCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "not configured")
}

const fakeMATLAB = `
echo "fake MATLAB banner"
echo "MLM_LICENSE_FILE=$MLM_LICENSE_FILE args=$*" >> "%[1]s"
while IFS= read -r line; do
  printf '%%s\n' "$line" >> "%[1]s"
  case "$line" in
    exit*) exit 0 ;;
    *"run('"*)
      f=$(printf '%%s' "$line" | sed "s/.*run('\([^']*\)').*/\1/")
      if grep -q "error(" "$f"; then echo "__SIMFLOW_ERROR__"; echo "boom"; else cat "$f"; echo; fi ;;
  esac
  case "$line" in
    *__SIMFLOW_DONE__*) echo "__SIMFLOW_DONE__" ;;
  esac
done
`

func TestProcessStarter(t *testing.T) {
	log := filepath.Join(t.TempDir(), "matlab.log")
	exe := testutil.WriteExecutable(t, "matlab", fmt.Sprintf(fakeMATLAB, log))

	starter := &ProcessStarter{ExecutablePath: exe, LicenseServer: "27000@lic", StopTimeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := starter.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetVariable(ctx, "load", map[string]any{"f": 10}))
	assert.Error(t, s.SetVariable(ctx, "1bad", 1))

	out, err := s.Eval(ctx, "disp(load.f)")
	require.NoError(t, err)
	assert.Equal(t, "disp(load.f)", out)

	_, err = s.Eval(ctx, "error('x')")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	b, err := os.ReadFile(log)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "MLM_LICENSE_FILE=27000@lic args=-nodesktop -nosplash")
	assert.Contains(t, text, `load = jsondecode('{"f":10}');`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "exit"))
}

func TestProcessStarter_MissingExecutable(t *testing.T) {
	starter := &ProcessStarter{ExecutablePath: filepath.Join(t.TempDir(), "matlab")}

	_, err := starter.Start(context.Background())
	assert.Error(t, err)
}

func TestEngineAgent_WithProcessSession(t *testing.T) {
	log := filepath.Join(t.TempDir(), "matlab.log")
	exe := testutil.WriteExecutable(t, "matlab", fmt.Sprintf(fakeMATLAB, log))

	agent := NewEngineAgent(func(o *EngineOptions) { o.ExecutablePath = exe })
	res := agent.Run(context.Background(), Request{Code: "x = 1 + 1", Parameters: core.ParameterSet{"n": 3}})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "x = 1 + 1", res.Output)
}
