// Package hostcmd runs host utilities (qemu-img, genisoimage) as
// subprocesses with their output captured for diagnostics.
package hostcmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"vmforge/internal/logging"

	"go.uber.org/zap"
)

// Runner executes a host command and returns its captured stdout/stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner is the real Runner backed by os/exec.
type ExecRunner struct{}

// Run executes the command, blocking until it exits. A non-zero exit
// status is returned as an error carrying the captured stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Logger().Debug("running host command",
		zap.String("command", name),
		zap.Strings("args", args))

	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(),
			fmt.Errorf("failed to run %s: %w (stderr: %s)", name, err, logging.Truncate(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}
