// Package signconfsink adapts ports.SignConfSink onto an external command,
// invoked once per changed zone the way a signer's "notify" hook is
// normally wired up (spec §4.8, §6).
package signconfsink

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// ExecSink runs a configured command with the zone name appended as its
// final argument whenever a sign-conf document changes.
type ExecSink struct {
	command []string
	logger  *slog.Logger
}

// NewExecSink returns an ExecSink that runs command (already split into
// argv form) with the zone name appended. An empty command makes Notify a
// no-op, useful for environments without a signer attached.
func NewExecSink(command []string, logger *slog.Logger) *ExecSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSink{command: command, logger: logger}
}

// Notify runs the configured command for zoneName and returns an error if
// it exits non-zero.
func (s *ExecSink) Notify(ctx context.Context, zoneName string) error {
	if len(s.command) == 0 {
		return nil
	}

	argv := append(append([]string{}, s.command[1:]...), zoneName)
	cmd := exec.CommandContext(ctx, s.command[0], argv...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sign-conf notify command for zone %s: %w (output: %s)", zoneName, err, output)
	}
	s.logger.Debug("notified signer", "zone", zoneName, "command", s.command[0])
	return nil
}
