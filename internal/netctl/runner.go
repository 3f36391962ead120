package netctl

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes an external command and returns its output. It exists so
// tests can substitute canned results for nmcli and friends.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands on the local system with a per-command timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
