package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"cmdgate/internal/domain"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// Shell runs commands via `sh -c` with a timeout and output cap. A nonzero
// exit code is a valid result; only failure to run the command at all
// (spawn error, timeout) is reported as an error and triggers the refund
// path upstream.
type Shell struct {
	workingDir     string
	timeout        time.Duration
	maxOutputBytes int
}

type ShellConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	MaxOutputBytes int
}

func NewShell(cfg ShellConfig) *Shell {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Shell{
		workingDir:     cfg.WorkingDir,
		timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

func (s *Shell) Execute(ctx context.Context, commandText string) (*domain.ExecResult, error) {
	dir := s.workingDir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// sh -c for reliable handling of pipes, redirects, quotes, etc.
	cmd := exec.CommandContext(runCtx, "sh", "-c", commandText)
	cmd.Dir = absDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() != nil {
		return nil, fmt.Errorf("command timed out or cancelled: %w", runCtx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run command: %w", err)
		}
	}

	return &domain.ExecResult{
		Stdout:   truncate(stdout.String(), s.maxOutputBytes),
		Stderr:   truncate(stderr.String(), s.maxOutputBytes),
		ExitCode: exitCode,
	}, nil
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max] + "\n... (output truncated)"
	}
	return s
}
