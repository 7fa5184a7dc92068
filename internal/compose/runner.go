package compose

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/Krakaw/scratchpad/pkg/logger"
)

// ExitError reports a compose subprocess that exited non-zero, carrying its
// captured stderr.
type ExitError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("docker compose %s failed", e.Op)
	if trimmed := strings.TrimSpace(e.Stderr); trimmed != "" {
		msg += ": " + trimmed
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Runner invokes the docker compose CLI against a scratch directory.
type Runner struct {
	logger *slog.Logger
}

// NewRunner constructs a compose runner.
func NewRunner(log *slog.Logger) *Runner {
	return &Runner{logger: logger.Component(log, "compose")}
}

// Up starts the environment described by the compose file in dir, detached.
func (r *Runner) Up(ctx context.Context, dir string) error {
	return r.run(ctx, dir, "up", "-d")
}

// Down stops and removes the environment described by the compose file in dir.
func (r *Runner) Down(ctx context.Context, dir string) error {
	return r.run(ctx, dir, "down")
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"compose"}, args...)...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &ExitError{Op: args[0], Stderr: stderr.String(), Err: err}
	}
	if r.logger != nil {
		r.logger.Debug("compose command finished", "op", args[0], "dir", dir)
	}
	return nil
}
