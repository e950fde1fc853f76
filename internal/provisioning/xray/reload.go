package xray

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Reloader makes xray pick up a rewritten config.
type Reloader interface {
	Reload(ctx context.Context) error
}

// CommandReloader runs a configured shell-less command, typically
// "systemctl restart xray". An empty command disables reloading, for setups
// where xray watches the file itself.
type CommandReloader struct {
	argv   []string
	logger *slog.Logger
}

// NewCommandReloader creates a reloader from a whitespace-separated command.
func NewCommandReloader(command string, logger *slog.Logger) *CommandReloader {
	return &CommandReloader{
		argv:   strings.Fields(command),
		logger: logger,
	}
}

// Reload executes the command and waits for it.
func (r *CommandReloader) Reload(ctx context.Context) error {
	if len(r.argv) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("reload command %q: %w: %s", strings.Join(r.argv, " "), err, bytes.TrimSpace(out))
	}

	r.logger.Info("xray reloaded", "command", strings.Join(r.argv, " "))
	return nil
}

var _ Reloader = (*CommandReloader)(nil)
