package rule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cmdgate/internal/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SeedRule is one entry of a YAML rule seed file.
type SeedRule struct {
	Priority    int    `yaml:"priority"`
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// LoadSeedFile parses a YAML rule seed file. Every entry is validated the
// same way as a rule created through the API.
func LoadSeedFile(path string) ([]SeedRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}

	var seeds []SeedRule
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, s := range seeds {
		if !domain.ValidRuleAction(s.Action) {
			return nil, fmt.Errorf("%w: seed rule %d: unknown action %q", domain.ErrValidation, i, s.Action)
		}
		if err := ValidatePattern(s.Pattern); err != nil {
			return nil, fmt.Errorf("seed rule %d: %w", i, err)
		}
	}
	return seeds, nil
}

// Seed inserts the given rules when the rule store is empty. An existing
// rule set is left untouched so operator edits survive restarts.
func Seed(ctx context.Context, store domain.Store, seeds []SeedRule, logger *slog.Logger) error {
	n, err := store.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("count rules: %w", err)
	}
	if n > 0 {
		logger.Debug("rules already present, skipping seed", "count", n)
		return nil
	}

	now := time.Now().UTC()
	for i, s := range seeds {
		r := domain.Rule{
			ID:          uuid.NewString(),
			Priority:    s.Priority,
			Pattern:     s.Pattern,
			Action:      domain.RuleAction(s.Action),
			Description: s.Description,
			// Spread creation times so the priority tie-break stays
			// deterministic for seeded rules.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.CreateRule(ctx, r); err != nil {
			return fmt.Errorf("seed rule %q: %w", s.Pattern, err)
		}
	}

	logger.Info("seeded rules", "count", len(seeds))
	return nil
}
