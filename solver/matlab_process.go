package solver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Markers written by the session wrapper around each evaluation.
const (
	matlabDone  = "__SIMFLOW_DONE__"
	matlabError = "__SIMFLOW_ERROR__"
)

var matlabIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ProcessStarter launches MATLAB as a long-lived child process driven
// through stdin.
type ProcessStarter struct {
	ExecutablePath string
	LicenseServer  string
	// StopTimeout bounds the graceful shutdown in Close.
	StopTimeout time.Duration
}

// Start launches the process and waits until it answers.
func (p *ProcessStarter) Start(ctx context.Context) (Session, error) {
	dir, err := os.MkdirTemp("", "simflow-matlab-")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	cmd := exec.Command(p.ExecutablePath, "-nodesktop", "-nosplash")
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if p.LicenseServer != "" {
		cmd.Env = append(cmd.Env, "MLM_LICENSE_FILE="+p.LicenseServer)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	stop := p.StopTimeout
	if stop <= 0 {
		stop = 10 * time.Second
	}
	s := &processSession{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
		dir:   dir,
		stop:  stop,
	}
	go s.readLines(stdout)

	if _, err := s.exec(ctx, "disp('"+matlabDone+"')", false); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("engine did not become ready: %w", err)
	}
	return s, nil
}

type processSession struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	dir   string
	stop  time.Duration

	mu     sync.Mutex
	seq    int
	closed bool
}

func (s *processSession) readLines(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		s.lines <- strings.TrimPrefix(sc.Text(), ">> ")
	}
}

// SetVariable assigns value in the base workspace via jsondecode.
func (s *processSession) SetVariable(ctx context.Context, name string, value any) error {
	if !matlabIdent.MatchString(name) {
		return fmt.Errorf("invalid MATLAB variable name %q", name)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("%s = jsondecode('%s');", name, quote(string(b)))
	_, err = s.exec(ctx, wrapTry(stmt), true)
	return err
}

// Eval writes code to a script file in the session dir and runs it.
func (s *processSession) Eval(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	s.seq++
	path := filepath.Join(s.dir, fmt.Sprintf("simflow_eval_%d.m", s.seq))
	s.mu.Unlock()

	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return s.exec(ctx, wrapTry("run('"+quote(path)+"');"), true)
}

func wrapTry(stmt string) string {
	return "try, " + stmt + " catch simflow_err__, disp('" + matlabError + "'); disp(getReport(simflow_err__, 'basic')); end, disp('" + matlabDone + "')"
}

func quote(s string) string { return strings.ReplaceAll(s, "'", "''") }

// exec sends one line and collects output up to the done marker.
func (s *processSession) exec(ctx context.Context, line string, checkErr bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.New("session closed")
	}

	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return "", fmt.Errorf("write to engine: %w", err)
	}

	var (
		out    []string
		errOut []string
		failed bool
	)
	for {
		select {
		case <-ctx.Done():
			return strings.Join(out, "\n"), ctx.Err()
		case l, ok := <-s.lines:
			if !ok {
				return strings.Join(out, "\n"), errors.New("engine exited unexpectedly")
			}
			switch {
			case strings.TrimSpace(l) == matlabDone:
				output := strings.Join(out, "\n")
				if checkErr && failed {
					return output, errors.New(strings.TrimSpace(strings.Join(errOut, "\n")))
				}
				return output, nil
			case strings.TrimSpace(l) == matlabError:
				failed = true
			case failed:
				errOut = append(errOut, l)
			default:
				out = append(out, l)
			}
		}
	}
}

// Close asks the engine to exit and kills it if it does not within the stop
// timeout. The session dir is removed.
func (s *processSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_, _ = io.WriteString(s.stdin, "exit\n")
	_ = s.stdin.Close()

	go func() {
		for range s.lines {
		}
	}()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(s.stop):
		_ = s.cmd.Process.Kill()
		<-done
		err = fmt.Errorf("engine did not exit within %s", s.stop)
	}
	if rmErr := os.RemoveAll(s.dir); rmErr != nil {
		err = errors.Join(err, fmt.Errorf("remove session dir: %w", rmErr))
	}
	return err
}
