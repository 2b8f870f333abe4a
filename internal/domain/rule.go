package domain

import "time"

type RuleAction string

const (
	ActionAutoAccept      RuleAction = "AUTO_ACCEPT"
	ActionAutoReject      RuleAction = "AUTO_REJECT"
	ActionRequireApproval RuleAction = "REQUIRE_APPROVAL"
)

// ValidRuleAction reports whether s is a known rule action.
func ValidRuleAction(s string) bool {
	switch RuleAction(s) {
	case ActionAutoAccept, ActionAutoReject, ActionRequireApproval:
		return true
	}
	return false
}

// Rule maps a regex pattern to an admission action. Rules are evaluated in
// a total order: priority ascending, then created_at ascending, then id.
// Patterns are validated when the rule is created so evaluation never sees
// a pattern that fails to compile.
type Rule struct {
	ID          string     `json:"id"`
	Priority    int        `json:"priority"`
	Pattern     string     `json:"pattern"`
	Action      RuleAction `json:"action"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Decision is the outcome of evaluating a command text against the rule set.
// RuleID is empty when no rule matched and the configured default applied.
type Decision struct {
	RuleID  string
	Pattern string
	Action  RuleAction
}
