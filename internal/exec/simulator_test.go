package exec

import (
	"context"
	"strings"
	"testing"
)

func TestSimulator_Ls(t *testing.T) {
	s := NewSimulator()
	res, err := s.Execute(context.Background(), "ls -la")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Stdout, "file1.txt") || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSimulator_CatNamesFile(t *testing.T) {
	s := NewSimulator()
	res, err := s.Execute(context.Background(), "cat notes.txt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Stdout, "Contents of notes.txt") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestSimulator_Pwd(t *testing.T) {
	s := NewSimulator()
	res, _ := s.Execute(context.Background(), "PWD")
	if res.Stdout != "/home/user\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestSimulator_Echo(t *testing.T) {
	s := NewSimulator()
	res, _ := s.Execute(context.Background(), "echo hello world")
	if res.Stdout != "hello world\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestSimulator_UnknownCommand(t *testing.T) {
	s := NewSimulator()
	res, _ := s.Execute(context.Background(), "kubectl get pods")
	if !strings.Contains(res.Stdout, "Mock execution of: kubectl get pods") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestSimulator_CancelledContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Execute(ctx, "ls"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
