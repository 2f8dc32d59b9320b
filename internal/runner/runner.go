// Package runner executes task commands as child processes and reports their
// exit status for the audit trail.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result captures one execution. A non-zero exit code is an ordinary
// outcome, recorded rather than returned as an error; Err is set only when
// the process could not be run at all or was cut off by the timeout.
type Result struct {
	ExitCode int
	Duration time.Duration
	Output   string
	TimedOut bool
	Err      error
}

func (r Result) Failed() bool {
	return r.ExitCode != 0 || r.Err != nil
}

// Output kept for auditing is capped to the trailing bytes; long build logs
// belong to the command's own tooling, not the audit trail.
const outputTailBytes = 4096

type Runner struct {
	shell   string
	timeout time.Duration
}

// New builds a runner that executes commands via shell -c. A zero timeout
// means executions are unbounded.
func New(shell string, timeout time.Duration) *Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Runner{shell: shell, timeout: timeout}
}

// Run executes the command with the inherited environment and waits for it.
// The worst case duration is the configured timeout, or the lifetime of the
// passed context when no timeout is set.
func (r *Runner) Run(ctx context.Context, command string) Result {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Env = os.Environ()

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := Result{
		Duration: time.Since(start),
		Output:   tail(string(out)),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		res.TimedOut = true
		res.Err = fmt.Errorf("command timed out after %s", r.timeout)
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res
		}
		res.ExitCode = -1
		res.Err = fmt.Errorf("spawn %q: %w", command, err)
		return res
	}
	return res
}

func tail(s string) string {
	if len(s) <= outputTailBytes {
		return s
	}
	return "[truncated] " + s[len(s)-outputTailBytes:]
}
