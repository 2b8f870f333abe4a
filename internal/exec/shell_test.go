package exec

import (
	"context"
	"strings"
	"testing"
)

func TestShell_Echo(t *testing.T) {
	s := NewShell(ShellConfig{WorkingDir: t.TempDir()})
	res, err := s.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Stdout != "hello\n" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestShell_NonzeroExitIsAResult(t *testing.T) {
	s := NewShell(ShellConfig{WorkingDir: t.TempDir()})
	res, err := s.Execute(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("nonzero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestShell_Stderr(t *testing.T) {
	s := NewShell(ShellConfig{WorkingDir: t.TempDir()})
	res, err := s.Execute(context.Background(), "echo oops >&2")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Stderr != "oops\n" {
		t.Fatalf("unexpected stderr: %q", res.Stderr)
	}
}

func TestShell_TimeoutIsAnError(t *testing.T) {
	s := NewShell(ShellConfig{WorkingDir: t.TempDir(), TimeoutSeconds: 1})
	if _, err := s.Execute(context.Background(), "sleep 5"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestShell_TruncatesOutput(t *testing.T) {
	s := NewShell(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 16})
	res, err := s.Execute(context.Background(), "printf '%0.sA' $(seq 1 100)")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasSuffix(res.Stdout, "(output truncated)") {
		t.Fatalf("expected truncation marker, got %q", res.Stdout)
	}
	if len(res.Stdout) > 16+len("\n... (output truncated)") {
		t.Fatalf("output not capped: %d bytes", len(res.Stdout))
	}
}
