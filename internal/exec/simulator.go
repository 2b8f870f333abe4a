// Package exec provides the execution-sandbox implementations behind
// domain.Sandbox: a deterministic simulator and a real shell runner.
package exec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cmdgate/internal/domain"
)

var (
	lsRe   = regexp.MustCompile(`(?i)^ls(\s|$)`)
	catRe  = regexp.MustCompile(`(?i)^cat\s`)
	echoRe = regexp.MustCompile(`(?i)^echo\s`)
)

// Simulator returns canned results for common commands without touching
// the host. Useful for demos and tests where real execution is unwanted.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Execute(ctx context.Context, commandText string) (*domain.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(commandText)

	switch {
	case lsRe.MatchString(text):
		return &domain.ExecResult{Stdout: "file1.txt\nfile2.txt\nfile3.txt\n"}, nil

	case catRe.MatchString(text):
		fields := strings.Fields(text)
		filename := "file.txt"
		if len(fields) > 1 {
			filename = fields[1]
		}
		return &domain.ExecResult{
			Stdout: fmt.Sprintf("Contents of %s\nLine 1\nLine 2\nLine 3\n", filename),
		}, nil

	case strings.EqualFold(text, "pwd"):
		return &domain.ExecResult{Stdout: "/home/user\n"}, nil

	case echoRe.MatchString(text):
		return &domain.ExecResult{Stdout: strings.TrimSpace(text[4:]) + "\n"}, nil
	}

	return &domain.ExecResult{Stdout: fmt.Sprintf("Mock execution of: %s\n", text)}, nil
}
