package gateway

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synadia-labs/ccpm-web/internal/config"
	"github.com/synadia-labs/ccpm-web/internal/logging"
)

var scripts = map[string]string{
	"pm-echo":   "echo \"$@\"\n",
	"pm-warn":   "echo done\necho careful >&2\n",
	"pm-fail":   "echo out\necho err >&2\nexit 3\n",
	"pm-stdout": "echo only-out\nexit 2\n",
	"pm-pwd":    "pwd\n",
	"pm-sleep":  "echo partial\nsleep 5\n",
	"pm-spawn":  "sleep 30 &\necho $! > child.pid\nwait\n",
}

// newTestGateway installs the pm-* scripts into a bin dir that is only
// reachable through the PATH prefix.
func newTestGateway(t *testing.T, timeout time.Duration) (Gateway, config.GatewayConfig) {
	t.Helper()
	bin := t.TempDir()
	for name, body := range scripts {
		err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+body), 0o755)
		require.NoError(t, err)
	}

	cfg := config.GatewayConfig{
		Prefix:     "pm-",
		WorkDir:    t.TempDir(),
		PathPrefix: bin,
		Shell:      "/bin/sh",
		Timeout:    timeout,
	}
	return NewGateway(cfg, "ccpm-test", logging.Discard()), cfg
}

func TestExecute(t *testing.T) {
	gw, _ := newTestGateway(t, 10*time.Second)

	tests := []struct {
		name    string
		command string
		want    Result
	}{
		// good
		{
			name:    "simple",
			command: "pm-echo hello",
			want:    Success{Output: "hello\n"},
		},
		{
			name:    "surrounding whitespace",
			command: "  pm-echo hello \n",
			want:    Success{Output: "hello\n"},
		},
		{
			name:    "stderr on success",
			command: "pm-warn",
			want:    Success{Output: "done\n", Stderr: "careful\n"},
		},
		{
			name:    "shell operators after prefix",
			command: "pm-echo a; echo b",
			want:    Success{Output: "a\nb\n"},
		},
		// bad
		{
			name:    "empty",
			command: "",
			want:    Failure{Kind: KindEmptyCommand, Message: "No command provided"},
		},
		{
			name:    "whitespace only",
			command: " \t\n",
			want:    Failure{Kind: KindEmptyCommand, Message: "No command provided"},
		},
		{
			name:    "wrong prefix",
			command: "echo pm-echo",
			want:    Failure{Kind: KindPrefixRejected, Message: "Only CCPM commands are allowed (must start with pm-)"},
		},
		{
			name:    "non-zero exit reports stderr",
			command: "pm-fail",
			want:    Failure{Kind: KindNonZeroExit, Message: "err\n", ReturnCode: 3},
		},
		{
			name:    "non-zero exit falls back to stdout",
			command: "pm-stdout",
			want:    Failure{Kind: KindNonZeroExit, Message: "only-out\n", ReturnCode: 2},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := gw.Execute(context.Background(), test.command)
			require.Equal(t, test.want, got)
		})
	}
}

func TestExecuteWorkDir(t *testing.T) {
	gw, cfg := newTestGateway(t, 10*time.Second)

	got := gw.Execute(context.Background(), "pm-pwd")
	require.True(t, got.Succeeded())

	want, err := filepath.EvalSymlinks(cfg.WorkDir)
	require.NoError(t, err)
	dir, err := filepath.EvalSymlinks(strings.TrimSpace(*got.Body().Output))
	require.NoError(t, err)
	require.Equal(t, want, dir)
}

func TestExecuteUnknownTool(t *testing.T) {
	gw, _ := newTestGateway(t, 10*time.Second)

	got := gw.Execute(context.Background(), "pm-missing")
	f, ok := got.(Failure)
	require.True(t, ok)
	require.Equal(t, KindNonZeroExit, f.Kind)
	require.Equal(t, 127, f.ReturnCode)
	require.Contains(t, f.Message, "pm-missing")
}

func TestExecuteTimeout(t *testing.T) {
	gw, _ := newTestGateway(t, 300*time.Millisecond)

	start := time.Now()
	got := gw.Execute(context.Background(), "pm-sleep")
	elapsed := time.Since(start)

	require.Equal(t, Failure{Kind: KindTimeout, Message: "Command timed out"}, got)
	require.Nil(t, got.Body().Output)
	// a surviving grandchild would hold the pipes until waitDelay
	require.Less(t, elapsed, waitDelay)
}

func TestExecuteBackgroundChild(t *testing.T) {
	gw, _ := newTestGateway(t, 10*time.Second)

	tests := []struct {
		name    string
		command string
		want    Result
	}{
		{
			name:    "zero exit",
			command: "pm-echo hi; sleep 5 &",
			want:    Success{Output: "hi\n"},
		},
		{
			name:    "non-zero exit",
			command: "pm-echo hi; (sleep 5 &); exit 4",
			want:    Failure{Kind: KindNonZeroExit, Message: "hi\n", ReturnCode: 4},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			start := time.Now()
			got := gw.Execute(context.Background(), test.command)
			elapsed := time.Since(start)

			require.Equal(t, test.want, got)
			require.Less(t, elapsed, waitDelay+time.Second)
		})
	}
}

func TestExecuteCanceled(t *testing.T) {
	gw, _ := newTestGateway(t, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := gw.Execute(ctx, "pm-echo hello")
	f, ok := got.(Failure)
	require.True(t, ok)
	require.Equal(t, KindInternal, f.Kind)
	require.Contains(t, f.Message, "command canceled")
}

func TestExecuteInternalFailure(t *testing.T) {
	cfg := config.GatewayConfig{
		Prefix:  "pm-",
		WorkDir: t.TempDir(),
		Shell:   filepath.Join(t.TempDir(), "no-such-shell"),
		Timeout: time.Second,
	}
	gw := NewGateway(cfg, "ccpm-test", logging.Discard())

	got := gw.Execute(context.Background(), "pm-echo hello")
	f, ok := got.(Failure)
	require.True(t, ok)
	require.Equal(t, KindInternal, f.Kind)
	require.Contains(t, f.Message, "error running command")
}

func TestExecuteMissingWorkDir(t *testing.T) {
	gw, _ := newTestGateway(t, 10*time.Second)
	cfg := gw.(*gateway).cfg
	cfg.WorkDir = filepath.Join(t.TempDir(), "missing")
	gw = NewGateway(cfg, "ccpm-test", logging.Discard())

	got := gw.Execute(context.Background(), "pm-echo hello")
	f, ok := got.(Failure)
	require.True(t, ok)
	require.Equal(t, KindNonZeroExit, f.Kind)
	require.NotZero(t, f.ReturnCode)
	require.Contains(t, f.Message, "missing")
}

func TestClassify(t *testing.T) {
	exited := exec.Command("/bin/sh", "-c", "exit 3").Run()
	signaled := exec.Command("/bin/sh", "-c", "kill -9 $$").Run()
	startErr := exec.Command(filepath.Join(t.TempDir(), "no-such-shell")).Run()

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	live := context.Background()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{
			name: "exit before deadline is reported",
			ctx:  expired,
			err:  exited,
			want: &exitError{code: 3},
		},
		{
			name: "killed after deadline",
			ctx:  expired,
			err:  signaled,
			want: &timeoutError{timeout: time.Second},
		},
		{
			name: "killed without deadline",
			ctx:  live,
			err:  signaled,
			want: &exitError{code: -1},
		},
		{
			name: "plain exit",
			ctx:  live,
			err:  exited,
			want: &exitError{code: 3},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, classify(test.ctx, test.err, time.Second))
		})
	}

	err := classify(canceled, signaled, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "command canceled")

	err = classify(live, startErr, time.Second)
	require.ErrorContains(t, err, "error running command")
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t, 300*time.Millisecond)
	want := Health{Status: "healthy", Service: "ccpm-test"}

	require.Equal(t, want, gw.Health())
	gw.Execute(context.Background(), "pm-sleep")
	require.Equal(t, want, gw.Health())
}

func TestResultJSON(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "success",
			result: Success{Output: "hi\n"},
			want:   `{"success":true,"output":"hi\n","stderr":""}`,
		},
		{
			name:   "non-zero exit",
			result: Failure{Kind: KindNonZeroExit, Message: "err\n", ReturnCode: 3},
			want:   `{"success":false,"error":"err\n","returncode":3}`,
		},
		{
			name:   "timeout",
			result: Failure{Kind: KindTimeout, Message: "Command timed out"},
			want:   `{"success":false,"error":"Command timed out"}`,
		},
		{
			name:   "rejected",
			result: Failure{Kind: KindPrefixRejected, Message: "nope", ReturnCode: 9},
			want:   `{"success":false,"error":"nope"}`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := json.Marshal(test.result)
			require.NoError(t, err)
			require.JSONEq(t, test.want, string(data))
		})
	}
}

func TestEnviron(t *testing.T) {
	env := []string{"HOME=/root", "PATH=/usr/bin:/bin"}
	require.Equal(t,
		[]string{"HOME=/root", "PATH=/app/ccpm:/usr/bin:/bin"},
		environ(env, "/app/ccpm"),
	)
	require.Equal(t,
		[]string{"HOME=/root", "PATH=/app/ccpm:"},
		environ([]string{"HOME=/root"}, "/app/ccpm"),
	)
	require.Equal(t, env, environ(env, ""))
}

func TestScript(t *testing.T) {
	require.Equal(t, "pm-help", script("", "pm-help"))
	require.Equal(t, "cd '/app' && pm-help", script("/app", "pm-help"))
	require.Equal(t, `cd '/it'\''s' && pm-help`, script("/it's", "pm-help"))
}

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"/pm:help":               "/pm:help",
		"/pm:prd-new my-feature": "/pm:prd-new",
		`"/pm:quoted arg" x`:     "/pm:quoted arg",
		"/pm:bad 'unterminated":  "/pm:bad",
		"":                       "",
	}
	for in, want := range tests {
		require.Equal(t, want, commandName(in), in)
	}
}
