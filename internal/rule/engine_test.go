package rule

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cmdgate/internal/domain"
	"cmdgate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "rules.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addRule(t *testing.T, s *store.SQLiteStore, id string, priority int, pattern string, action domain.RuleAction, createdAt time.Time) {
	t.Helper()
	err := s.CreateRule(context.Background(), domain.Rule{
		ID:        id,
		Priority:  priority,
		Pattern:   pattern,
		Action:    action,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("CreateRule %s: %v", id, err)
	}
}

// --- Evaluate ---

func TestEvaluate_FirstMatchWins(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())
	now := time.Now().UTC()

	addRule(t, s, "r-reject", 1, `rm\s+-rf`, domain.ActionAutoReject, now)
	addRule(t, s, "r-accept", 10, `^ls`, domain.ActionAutoAccept, now)

	d, err := e.Evaluate(context.Background(), "rm -rf /tmp/x")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.RuleID != "r-reject" || d.Action != domain.ActionAutoReject {
		t.Fatalf("expected r-reject, got %+v", d)
	}
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())
	now := time.Now().UTC()

	// Both match "ls -la"; lower priority value wins.
	addRule(t, s, "r-low", 5, `ls`, domain.ActionAutoReject, now)
	addRule(t, s, "r-high", 1, `^ls`, domain.ActionAutoAccept, now)

	d, _ := e.Evaluate(context.Background(), "ls -la")
	if d.RuleID != "r-high" {
		t.Fatalf("expected r-high to win on priority, got %+v", d)
	}
}

func TestEvaluate_TieBrokenByCreationTime(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())
	now := time.Now().UTC()

	addRule(t, s, "r-newer", 5, `ls`, domain.ActionAutoReject, now.Add(time.Second))
	addRule(t, s, "r-older", 5, `ls`, domain.ActionAutoAccept, now)

	d, _ := e.Evaluate(context.Background(), "ls")
	if d.RuleID != "r-older" {
		t.Fatalf("expected earlier rule to win tie, got %+v", d)
	}
}

func TestEvaluate_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())

	addRule(t, s, "r1", 1, `^SUDO`, domain.ActionAutoReject, time.Now().UTC())

	d, _ := e.Evaluate(context.Background(), "sudo reboot")
	if d.RuleID != "r1" {
		t.Fatalf("expected case-insensitive match, got %+v", d)
	}
}

func TestEvaluate_NoMatchUsesDefault(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())

	addRule(t, s, "r1", 1, `^ls`, domain.ActionAutoAccept, time.Now().UTC())

	d, err := e.Evaluate(context.Background(), "whoami")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.RuleID != "" || d.Action != domain.ActionRequireApproval {
		t.Fatalf("expected default action with no rule id, got %+v", d)
	}
}

func TestEvaluate_EmptyRuleSet(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionAutoReject, testLogger())

	d, err := e.Evaluate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionAutoReject {
		t.Fatalf("expected configured default, got %+v", d)
	}
}

func TestEvaluate_UnrelatedRulesDoNotAffectResult(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, domain.ActionRequireApproval, testLogger())
	now := time.Now().UTC()

	addRule(t, s, "r-match", 5, `^ls`, domain.ActionAutoAccept, now)

	// Non-matching rules at every position relative to the matching one.
	addRule(t, s, "r-before", 1, `^git\s`, domain.ActionAutoReject, now)
	addRule(t, s, "r-same", 5, `^curl\s`, domain.ActionAutoReject, now.Add(-time.Minute))
	addRule(t, s, "r-after", 9, `^wget\s`, domain.ActionAutoReject, now)

	d, err := e.Evaluate(context.Background(), "ls -la")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.RuleID != "r-match" || d.Action != domain.ActionAutoAccept {
		t.Fatalf("non-matching rules changed the result: %+v", d)
	}
}

// --- ValidatePattern ---

func TestValidatePattern(t *testing.T) {
	if err := ValidatePattern(`^ls(\s|$)`); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
	if err := ValidatePattern(`[unclosed`); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad regex, got %v", err)
	}
	if err := ValidatePattern(""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty pattern, got %v", err)
	}
}
