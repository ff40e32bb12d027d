package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Run starts the game process described by spec and waits for it to
// exit. The process inherits stdio so game output stays visible; a
// canceled context kills it.
func Run(ctx context.Context, spec *Spec, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, spec.JavaPath, spec.CommandLine()...)
	cmd.Dir = spec.WorkDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("starting game process",
		slog.String("java", spec.JavaPath),
		slog.String("main_class", spec.MainClass),
		slog.String("work_dir", spec.WorkDir))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch: starting game process: %w", err)
	}

	logger.Debug("game process started", slog.Int("pid", cmd.Process.Pid))

	err := cmd.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("game exited cleanly")
		return nil
	case errors.As(err, &exitErr):
		if ctx.Err() != nil {
			return fmt.Errorf("launch: game interrupted: %w", ctx.Err())
		}

		return fmt.Errorf("launch: game exited with status %d", exitErr.ExitCode())
	default:
		return fmt.Errorf("launch: waiting for game process: %w", err)
	}
}
