package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// RunResult is what a finished subprocess left behind
type RunResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes an external command. A non-zero exit is reported through
// RunResult.ExitCode; the error return is reserved for failures to start or
// for context expiry. The muxer and the doctor checks run through it; the
// fetcher has its own driver.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (RunResult, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// WaitDelay bounds how long to wait for output pipes after the process is killed
	WaitDelay time.Duration
}

// Run implements Runner
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	err := cmd.Run()
	res := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}
