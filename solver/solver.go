// Package solver runs generated simulation code on one of three backends:
// a network-isolated python container, a MATLAB engine session or the
// licensed Abaqus executable.
//
// Agents are call-scoped. Build a fresh one per workflow run with New and
// never share it between concurrent runs. Run never returns a Go error:
// every outcome, including an unusable environment, is reported through
// core.ExecutionResult and its Outcome.
package solver

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
)

// Request is the input of a single solver run. Code takes precedence over
// ScriptPath.
type Request struct {
	Code       string
	ScriptPath string
	Parameters core.ParameterSet
	DataFile   string
}

// Agent executes code against a parameter set.
type Agent interface {
	// Run checks the environment, executes the request and reports the
	// outcome. It must not panic on environment problems.
	Run(ctx context.Context, req Request) core.ExecutionResult
	// SelfCheck verifies the environment without side effects on later runs.
	SelfCheck(ctx context.Context) (bool, string)
	// Kind returns the solver preference served by the agent.
	Kind() core.SolverPreference
}

// source returns the code to execute, reading ScriptPath when Code is empty.
func (r Request) source() (string, error) {
	if r.Code != "" {
		return r.Code, nil
	}
	if r.ScriptPath == "" {
		return "", fmt.Errorf("no code or script path given")
	}
	b, err := os.ReadFile(r.ScriptPath)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

func (r Request) paramsJSON() ([]byte, error) {
	if r.Parameters == nil {
		return []byte("{}"), nil
	}
	s, err := r.Parameters.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return []byte(s), nil
}

func sortedKeys(p core.ParameterSet) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// report logs the run and hands the result back unchanged.
func report(l logging.Logger, kind core.SolverPreference, start time.Time, res core.ExecutionResult) core.ExecutionResult {
	logging.LogSolverRun(l, string(kind), string(res.Outcome), time.Since(start), res.Success)
	return res
}

// removeWorkspace deletes a scoped temp dir and logs failures, such as
// root-owned files left behind by a container.
func removeWorkspace(logger logging.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("Workspace cleanup failed", "dir", dir, "error", err.Error())
	}
}
