package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the shell itself has exited or been killed.
const waitDelay = 2 * time.Second

type output struct {
	Stdout string
	Stderr string
}

type timeoutError struct {
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.timeout)
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

// run executes command through the configured shell from WorkDir. On
// timeout the output is discarded.
func (g *gateway) run(ctx context.Context, command string) (output, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, g.cfg.Shell, "-c", script(g.cfg.WorkDir, command))
	cmd.Env = environ(os.Environ(), g.cfg.PathPrefix)
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err := cmd.Run()
	// the shell exited cleanly but something it started kept the pipes open
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}

	out := output{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if err == nil {
		return out, nil
	}

	err = classify(ctx, err, g.cfg.Timeout)
	var timeoutErr *timeoutError
	if errors.As(err, &timeoutErr) {
		return output{}, err
	}
	return out, err
}

// classify maps a failed Run to an exitError, a timeoutError or a wrapped
// error. A shell that exited on its own keeps its exit code even when the
// deadline passed before Run returned.
func classify(ctx context.Context, err error, timeout time.Duration) error {
	var ee *exec.ExitError
	isExit := errors.As(err, &ee)
	if isExit && ee.Exited() {
		return &exitError{code: ee.ExitCode()}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &timeoutError{timeout: timeout}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("command canceled: %w", ctx.Err())
	}
	if isExit {
		return &exitError{code: ee.ExitCode()}
	}
	return fmt.Errorf("error running command: %w", err)
}

// script prefixes command with a cd into dir, so a missing directory is
// reported by the shell like any other failing command.
func script(dir, command string) string {
	if dir == "" {
		return command
	}
	return "cd " + shellQuote(dir) + " && " + command
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// environ returns env with pathPrefix prepended to PATH.
func environ(env []string, pathPrefix string) []string {
	if pathPrefix == "" {
		return env
	}

	out := make([]string, 0, len(env)+1)
	path := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH="+pathPrefix+":"+path)
}

// commandName returns the first word of command for logs and spans.
func commandName(command string) string {
	args, err := shlex.Split(command)
	if err != nil || len(args) == 0 {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}
	return args[0]
}
