package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
)

const (
	abaqusScript = "abaqus_script.py"

	// NoResultArtifact is the output of a successful run without an ODB file.
	NoResultArtifact = "Analysis completed, but no ODB file found."
)

// ResultParser extracts text from an Abaqus output database.
type ResultParser interface {
	Parse(ctx context.Context, odbPath string) (string, error)
}

// ResultParserFunc adapts a function to ResultParser.
type ResultParserFunc func(ctx context.Context, odbPath string) (string, error)

// Parse implements ResultParser.
func (f ResultParserFunc) Parse(ctx context.Context, odbPath string) (string, error) {
	return f(ctx, odbPath)
}

// PlaceholderParser reports only where the output database is. Real ODB
// extraction needs the Abaqus python API and is plugged in via
// ExecutableOptions.Parser.
var PlaceholderParser = ResultParserFunc(func(_ context.Context, odbPath string) (string, error) {
	return "Results from " + odbPath, nil
})

// ExecutableOptions configure the Abaqus solver.
type ExecutableOptions struct {
	ExecutablePath string
	LicenseServer  string
	VersionTimeout time.Duration
	Parser         ResultParser
	Logger         logging.Logger
}

// ExecutableAgent drives the Abaqus command line in noGUI mode.
type ExecutableAgent struct {
	opts ExecutableOptions
}

var _ Agent = (*ExecutableAgent)(nil)

// NewExecutableAgent creates an Abaqus agent.
func NewExecutableAgent(optFns ...func(o *ExecutableOptions)) *ExecutableAgent {
	opts := ExecutableOptions{
		VersionTimeout: 30 * time.Second,
		Parser:         PlaceholderParser,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.VersionTimeout <= 0 {
		opts.VersionTimeout = 30 * time.Second
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &ExecutableAgent{opts: opts}
}

// Kind implements Agent.
func (a *ExecutableAgent) Kind() core.SolverPreference { return core.SolverAbaqus }

func (a *ExecutableAgent) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, a.opts.ExecutablePath, args...)
	cmd.Env = os.Environ()
	if a.opts.LicenseServer != "" {
		cmd.Env = append(cmd.Env, "ABAQUSLM_LICENSE_FILE="+a.opts.LicenseServer)
	}
	return cmd
}

// SelfCheck verifies the executable exists and answers a version query.
func (a *ExecutableAgent) SelfCheck(ctx context.Context) (bool, string) {
	if a.opts.ExecutablePath == "" {
		return false, "Abaqus executable path not configured"
	}
	if _, err := os.Stat(a.opts.ExecutablePath); err != nil {
		return false, "Abaqus executable not found at: " + a.opts.ExecutablePath
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.VersionTimeout)
	defer cancel()

	res, err := runCommand(ctx, a.command(ctx, "information=version"))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return false, "Abaqus command timed out."
	case err != nil:
		return false, fmt.Sprintf("An error occurred while checking Abaqus: %v", err)
	}
	if !strings.Contains(strings.ToLower(res.Stdout), "abaqus version") {
		return false, "Abaqus command did not return version info. Error:\n" + res.Stderr
	}
	return true, "Abaqus connection successful. Version info:\n" + res.Stdout
}

// Run executes the script through "abaqus cae noGUI=<script>". A missing
// result database yields an incomplete but successful result.
func (a *ExecutableAgent) Run(ctx context.Context, req Request) core.ExecutionResult {
	start := time.Now()
	if ok, msg := a.SelfCheck(ctx); !ok {
		return report(a.opts.Logger, a.Kind(), start, core.Unavailable("Abaqus environment check failed: "+msg))
	}
	return report(a.opts.Logger, a.Kind(), start, a.run(ctx, req))
}

func (a *ExecutableAgent) run(ctx context.Context, req Request) core.ExecutionResult {
	workdir, err := os.MkdirTemp("", "simflow-abaqus-")
	if err != nil {
		return core.ExecutionFailed("", fmt.Sprintf("create workspace: %v", err))
	}
	defer removeWorkspace(a.opts.Logger, workdir)

	script, err := a.materialize(workdir, req)
	if err != nil {
		return core.ExecutionFailed("", err.Error())
	}

	cmd := a.command(ctx, "cae", "noGUI="+script)
	cmd.Dir = workdir

	res, err := runCommand(ctx, cmd)
	if err != nil {
		return core.ExecutionFailed(res.Stdout, err.Error())
	}
	if res.ExitCode != 0 {
		return core.ExecutionFailed(res.Stdout, res.Stderr)
	}

	odb := strings.TrimSuffix(script, filepath.Ext(script)) + ".odb"
	if _, err := os.Stat(odb); err != nil {
		return core.Incomplete(NoResultArtifact)
	}

	parsed, err := a.opts.Parser.Parse(ctx, odb)
	if err != nil {
		return core.ExecutionFailed(res.Stdout, fmt.Sprintf("parse %s: %v", odb, err))
	}
	return core.Completed(parsed)
}

// materialize writes params.json, the optional data file and the script
// into workdir and returns the script path to run.
func (a *ExecutableAgent) materialize(workdir string, req Request) (string, error) {
	params, err := req.paramsJSON()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workdir, "params.json"), params, 0o644); err != nil {
		return "", fmt.Errorf("write parameters: %w", err)
	}

	if req.DataFile != "" {
		if err := copyFile(req.DataFile, filepath.Join(workdir, "data.csv")); err != nil {
			return "", fmt.Errorf("data file: %w", err)
		}
	}

	if req.Code == "" {
		if req.ScriptPath == "" {
			return "", errors.New("no code or script path given")
		}
		abs, err := filepath.Abs(req.ScriptPath)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("script: %w", err)
		}
		return abs, nil
	}

	path := filepath.Join(workdir, abaqusScript)
	if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
