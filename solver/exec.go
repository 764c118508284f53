package solver

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// commandResult captures a finished subprocess.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runCommand runs cmd to completion. The returned error is non-nil only when
// the process could not be started or was interrupted by ctx; a nonzero exit
// is reported through ExitCode.
func runCommand(ctx context.Context, cmd *exec.Cmd) (commandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
