package rule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cmdgate/internal/domain"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeedFile(t, `
- priority: 1
  pattern: "rm\\s+-rf"
  action: AUTO_REJECT
  description: destructive delete
- priority: 10
  pattern: "^ls"
  action: AUTO_ACCEPT
`)

	seeds, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}
	if seeds[0].Action != "AUTO_REJECT" || seeds[0].Priority != 1 {
		t.Fatalf("unexpected first seed: %+v", seeds[0])
	}
}

func TestLoadSeedFile_UnknownAction(t *testing.T) {
	path := writeSeedFile(t, `
- priority: 1
  pattern: "^ls"
  action: MAYBE
`)
	if _, err := LoadSeedFile(path); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLoadSeedFile_BadPattern(t *testing.T) {
	path := writeSeedFile(t, `
- priority: 1
  pattern: "[unclosed"
  action: AUTO_ACCEPT
`)
	if _, err := LoadSeedFile(path); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seeds := []SeedRule{
		{Priority: 1, Pattern: `^ls`, Action: "AUTO_ACCEPT"},
		{Priority: 2, Pattern: `rm`, Action: "AUTO_REJECT"},
	}
	if err := Seed(ctx, s, seeds, testLogger()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	n, _ := s.CountRules(ctx)
	if n != 2 {
		t.Fatalf("expected 2 rules after seed, got %d", n)
	}

	// Second seed is a no-op: operator edits must survive restarts.
	if err := Seed(ctx, s, seeds, testLogger()); err != nil {
		t.Fatalf("Seed (repeat): %v", err)
	}
	n, _ = s.CountRules(ctx)
	if n != 2 {
		t.Fatalf("expected seed to be skipped, got %d rules", n)
	}
}

func TestSeed_PreservesOrderOnTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seeds := []SeedRule{
		{Priority: 5, Pattern: `first`, Action: "AUTO_ACCEPT"},
		{Priority: 5, Pattern: `second`, Action: "AUTO_REJECT"},
	}
	if err := Seed(ctx, s, seeds, testLogger()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	rules, _ := s.ListRules(ctx)
	if len(rules) != 2 || rules[0].Pattern != "first" {
		t.Fatalf("expected file order preserved for equal priority, got %+v", rules)
	}
}
