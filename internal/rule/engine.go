// Package rule implements the ordered rule-matching engine that classifies
// submitted command text into an admission decision.
package rule

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"cmdgate/internal/domain"
)

// Engine evaluates command text against the stored rule set. Evaluation is
// a pure function of (rule snapshot, text): a single ordered read of the
// rule store per call, so concurrent rule edits never tear a decision.
type Engine struct {
	store         domain.Store
	defaultAction domain.RuleAction
	logger        *slog.Logger

	// compiled regexes keyed by pattern. Patterns are validated before
	// they enter the store, so a cache miss compiles without error.
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

func NewEngine(store domain.Store, defaultAction domain.RuleAction, logger *slog.Logger) *Engine {
	if defaultAction == "" {
		defaultAction = domain.ActionRequireApproval
	}
	return &Engine{
		store:         store,
		defaultAction: defaultAction,
		logger:        logger,
		cache:         make(map[string]*regexp.Regexp),
	}
}

// ValidatePattern checks that pattern compiles as a case-insensitive regex.
// Called at rule creation/update time; evaluation never sees an invalid
// pattern.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", domain.ErrValidation)
	}
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("%w: invalid regex pattern: %v", domain.ErrValidation, err)
	}
	return nil
}

// Evaluate returns the action of the first rule whose pattern matches
// anywhere in text, walking rules in priority order (ties broken by
// creation time, earlier wins). No match yields the configured default
// action with an empty rule id.
func (e *Engine) Evaluate(ctx context.Context, text string) (domain.Decision, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load rules: %w", err)
	}

	for _, r := range rules {
		re, err := e.compiled(r.Pattern)
		if err != nil {
			// Should not happen: patterns are validated on the way in.
			e.logger.Error("skipping rule with invalid pattern", "rule_id", r.ID, "err", err)
			continue
		}
		if re.MatchString(text) {
			return domain.Decision{RuleID: r.ID, Pattern: r.Pattern, Action: r.Action}, nil
		}
	}

	return domain.Decision{Action: e.defaultAction}, nil
}

// DefaultAction returns the action applied when no rule matches.
func (e *Engine) DefaultAction() domain.RuleAction {
	return e.defaultAction
}

func (e *Engine) compiled(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.cache[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[pattern] = re
	e.mu.Unlock()
	return re, nil
}
