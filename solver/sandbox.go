package solver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
)

const (
	sandboxWorkdir  = "/usr/src/app"
	sandboxScript   = "script.py"
	sandboxParams   = "params.json"
	sandboxDataFile = "data.csv"
	sandboxImage    = "plot.png"

	// DockerNotFound is reported when the container runtime is missing.
	DockerNotFound = "Docker not found. Please ensure Docker is installed and running."
)

// paramsPrologue exposes params.json as the global params dict.
const paramsPrologue = `import json
with open("params.json") as _simflow_params:
    params = json.load(_simflow_params)
`

// SandboxOptions configure the python container solver.
type SandboxOptions struct {
	Runtime      string // container CLI on PATH or absolute path
	Image        string
	Memory       string
	CPUs         string
	CheckTimeout time.Duration
	Logger       logging.Logger
}

// SandboxAgent runs python code inside a throwaway, network-disabled
// container with an ephemeral workspace.
type SandboxAgent struct {
	opts SandboxOptions
}

var _ Agent = (*SandboxAgent)(nil)

// NewSandboxAgent creates a python sandbox agent.
func NewSandboxAgent(optFns ...func(o *SandboxOptions)) *SandboxAgent {
	opts := SandboxOptions{
		Runtime:      "docker",
		Image:        "python:3.9-slim",
		CheckTimeout: 15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 15 * time.Second
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &SandboxAgent{opts: opts}
}

// Kind implements Agent.
func (a *SandboxAgent) Kind() core.SolverPreference { return core.SolverPython }

// SelfCheck looks up the container runtime and asks it for its version.
func (a *SandboxAgent) SelfCheck(ctx context.Context) (bool, string) {
	path, err := exec.LookPath(a.opts.Runtime)
	if err != nil {
		return false, DockerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.CheckTimeout)
	defer cancel()

	res, err := runCommand(ctx, exec.CommandContext(ctx, path, "version"))
	if err != nil {
		return false, fmt.Sprintf("%s version check failed: %v", a.opts.Runtime, err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Sprintf("%s is installed but not running: %s", a.opts.Runtime, strings.TrimSpace(res.Stderr))
	}
	return true, fmt.Sprintf("%s available at %s", a.opts.Runtime, path)
}

// Run executes the python code in a fresh container. Success requires a zero
// exit code and empty stderr.
func (a *SandboxAgent) Run(ctx context.Context, req Request) core.ExecutionResult {
	start := time.Now()
	if ok, msg := a.SelfCheck(ctx); !ok {
		return report(a.opts.Logger, a.Kind(), start, core.Unavailable(msg))
	}
	return report(a.opts.Logger, a.Kind(), start, a.run(ctx, req))
}

func (a *SandboxAgent) run(ctx context.Context, req Request) core.ExecutionResult {
	code, err := req.source()
	if err != nil {
		return core.ExecutionFailed("", err.Error())
	}
	params, err := req.paramsJSON()
	if err != nil {
		return core.ExecutionFailed("", err.Error())
	}

	workspace, err := os.MkdirTemp("", "simflow-python-")
	if err != nil {
		return core.ExecutionFailed("", fmt.Sprintf("create workspace: %v", err))
	}
	defer removeWorkspace(a.opts.Logger, workspace)

	if err := os.WriteFile(filepath.Join(workspace, sandboxParams), params, 0o644); err != nil {
		return core.ExecutionFailed("", fmt.Sprintf("write parameters: %v", err))
	}
	if err := os.WriteFile(filepath.Join(workspace, sandboxScript), []byte(paramsPrologue+code), 0o644); err != nil {
		return core.ExecutionFailed("", fmt.Sprintf("write script: %v", err))
	}

	args, err := a.args(workspace, req.DataFile)
	if err != nil {
		return core.ExecutionFailed("", err.Error())
	}

	res, err := runCommand(ctx, exec.CommandContext(ctx, a.opts.Runtime, args...))
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return core.Unavailable(DockerNotFound)
		}
		return core.ExecutionFailed(res.Stdout, err.Error())
	}
	if res.ExitCode != 0 || res.Stderr != "" {
		errText := res.Stderr
		if errText == "" {
			errText = fmt.Sprintf("process exited with code %d", res.ExitCode)
		}
		return core.ExecutionFailed(res.Stdout, errText)
	}

	out := core.Completed(res.Stdout)
	if img, err := os.ReadFile(filepath.Join(workspace, sandboxImage)); err == nil {
		enc := base64.StdEncoding.EncodeToString(img)
		out.Image = &enc
	}
	return out
}

func (a *SandboxAgent) args(workspace, dataFile string) ([]string, error) {
	args := []string{
		"run", "--rm",
		"--network=none",
		"-v", workspace + ":" + sandboxWorkdir,
	}
	if dataFile != "" {
		abs, err := filepath.Abs(dataFile)
		if err != nil {
			return nil, fmt.Errorf("resolve data file: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("data file: %w", err)
		}
		args = append(args, "-v", abs+":"+sandboxWorkdir+"/"+sandboxDataFile+":ro")
	}
	args = append(args, "-w", sandboxWorkdir)
	if a.opts.Memory != "" {
		args = append(args, "--memory", a.opts.Memory)
	}
	if a.opts.CPUs != "" {
		args = append(args, "--cpus", a.opts.CPUs)
	}
	return append(args, a.opts.Image, "python", sandboxScript), nil
}
