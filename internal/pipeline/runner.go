package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrLaunch marks executables that could not be started at all (not found,
// permission denied). Distinct from a process that ran and exited nonzero.
var ErrLaunch = errors.New("launch failed")

// Result carries everything a stage reports back: the exit code and both
// fully captured output streams.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner invokes one external executable and waits for it to exit. A non-nil
// error means the invocation itself broke (launch failure, wait error); a
// nonzero exit code is reported through Result, not the error.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func NewRunner() ExecRunner {
	return ExecRunner{}
}

// Run launches the executable, writes the optional stdin payload and closes
// the stream, and buffers stdout/stderr until exit.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrLaunch, name, err)
	}

	err := cmd.Wait()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("wait for %s: %w", name, err)
	}
	return res, nil
}
