package solver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker emulates "docker version" and "docker run" against the mounted
// workspace. The run arguments are written to log, the script to log.script
// and the workspace path to log.workspace.
func fakeDocker(t *testing.T, mode string) (string, string) {
	log := filepath.Join(t.TempDir(), "docker.log")
	body := fmt.Sprintf(`
if [ "$1" = "version" ]; then
  if [ "%[1]s" = "down" ]; then echo "Cannot connect to the Docker daemon" >&2; exit 1; fi
  echo "Server: fake"; exit 0
fi
printf '%%s\n' "$@" > "%[2]s"
work=""; prev=""
for a in "$@"; do
  if [ "$prev" = "-v" ] && [ -z "$work" ]; then work="${a%%%%:*}"; fi
  prev="$a"
done
cp "$work/script.py" "%[2]s.script"
echo "$work" > "%[2]s.workspace"
case "%[1]s" in
  stderr) echo "partial"; echo "Traceback: boom" >&2 ;;
  exit) exit 3 ;;
  plot) printf 'PNG' > "$work/plot.png"; echo "plotted" ;;
  *) cat "$work/params.json" ;;
esac
`, mode, log)
	return testutil.WriteExecutable(t, "docker", body), log
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestSandboxAgent_StdoutOnly(t *testing.T) {
	docker, log := fakeDocker(t, "ok")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{
		Code:       "print(params['x'])",
		Parameters: core.ParameterSet{"x": 1},
	})

	assert.True(t, res.Success)
	assert.Equal(t, core.OutcomeCompleted, res.Outcome)
	assert.Equal(t, `{"x":1}`, res.Output)
	assert.Empty(t, res.Error)
	assert.Nil(t, res.Image)

	args := readLines(t, log)
	assert.Equal(t, []string{"run", "--rm", "--network=none", "-v"}, args[:4])
	assert.Contains(t, args, "python:3.9-slim")
	assert.Equal(t, []string{"python", "script.py"}, args[len(args)-2:])

	script, err := os.ReadFile(log + ".script")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(script), paramsPrologue))
	assert.True(t, strings.HasSuffix(string(script), "print(params['x'])"))

	workspace := readLines(t, log+".workspace")[0]
	_, err = os.Stat(workspace)
	assert.True(t, os.IsNotExist(err), "workspace must be removed")
}

func TestSandboxAgent_StderrMeansFailure(t *testing.T) {
	docker, log := fakeDocker(t, "stderr")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{Code: "raise"})

	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
	assert.Equal(t, "partial\n", res.Output)
	assert.Contains(t, res.Error, "Traceback: boom")

	workspace := readLines(t, log+".workspace")[0]
	_, err := os.Stat(workspace)
	assert.True(t, os.IsNotExist(err), "workspace must be removed on failure")
}

func TestSandboxAgent_NonZeroExit(t *testing.T) {
	docker, _ := fakeDocker(t, "exit")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{Code: "import sys; sys.exit(3)"})

	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
	assert.Equal(t, "process exited with code 3", res.Error)
}

func TestSandboxAgent_Image(t *testing.T) {
	docker, _ := fakeDocker(t, "plot")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{Code: "plt.savefig('plot.png')"})

	require.True(t, res.Success)
	require.NotNil(t, res.Image)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PNG")), *res.Image)
}

func TestSandboxAgent_RuntimeMissing(t *testing.T) {
	agent := NewSandboxAgent(func(o *SandboxOptions) {
		o.Runtime = filepath.Join(t.TempDir(), "no-docker")
	})

	ok, msg := agent.SelfCheck(context.Background())
	assert.False(t, ok)
	assert.Equal(t, DockerNotFound, msg)

	res := agent.Run(context.Background(), Request{Code: "print(1)"})
	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeEnvironmentUnavailable, res.Outcome)
	assert.Equal(t, DockerNotFound, res.Error)
}

func TestSandboxAgent_DaemonDown(t *testing.T) {
	docker, log := fakeDocker(t, "down")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{Code: "print(1)"})

	assert.Equal(t, core.OutcomeEnvironmentUnavailable, res.Outcome)
	assert.Contains(t, res.Error, "not running")
	_, err := os.Stat(log)
	assert.True(t, os.IsNotExist(err), "nothing may run after a failed self check")
}

func TestSandboxAgent_DataFileAndLimits(t *testing.T) {
	docker, log := fakeDocker(t, "ok")
	data := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(data, []byte("a,b\n1,2\n"), 0o600))

	agent := NewSandboxAgent(func(o *SandboxOptions) {
		o.Runtime = docker
		o.Memory = "512m"
		o.CPUs = "1.5"
	})

	res := agent.Run(context.Background(), Request{Code: "print(1)", DataFile: data})
	require.True(t, res.Success, res.Error)

	args := strings.Join(readLines(t, log), " ")
	assert.Contains(t, args, "-v "+data+":/usr/src/app/data.csv:ro")
	assert.Contains(t, args, "--memory 512m")
	assert.Contains(t, args, "--cpus 1.5")
}

func TestSandboxAgent_MissingDataFile(t *testing.T) {
	docker, _ := fakeDocker(t, "ok")
	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })

	res := agent.Run(context.Background(), Request{Code: "print(1)", DataFile: "/does/not/exist.csv"})

	assert.False(t, res.Success)
	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
	assert.Contains(t, res.Error, "data file")
}

func TestSandboxAgent_ScriptPath(t *testing.T) {
	docker, log := fakeDocker(t, "ok")
	script := filepath.Join(t.TempDir(), "solve.py")
	require.NoError(t, os.WriteFile(script, []byte("print('from file')"), 0o600))

	agent := NewSandboxAgent(func(o *SandboxOptions) { o.Runtime = docker })
	res := agent.Run(context.Background(), Request{ScriptPath: script})
	require.True(t, res.Success)

	b, err := os.ReadFile(log + ".script")
	require.NoError(t, err)
	assert.Contains(t, string(b), "print('from file')")

	res = agent.Run(context.Background(), Request{})
	assert.Equal(t, core.OutcomeExecutionFailed, res.Outcome)
}
