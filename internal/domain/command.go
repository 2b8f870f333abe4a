package domain

import "time"

// ActionTaken is the admission outcome recorded on a command.
type ActionTaken string

const (
	TakenAccepted ActionTaken = "ACCEPTED"
	TakenRejected ActionTaken = "REJECTED"
	TakenPending  ActionTaken = "PENDING"
)

// Status is the lifecycle stage of a command.
//
//	submitted -> executed | failed | rejected | pending
//	pending   -> executed | failed | rejected   (via admin decision)
//
// executed, failed, and rejected are terminal.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// Rejection reasons surfaced to callers and recorded on the command.
const (
	ReasonAutoReject          = "AUTO_REJECT"
	ReasonNoMatchingRule      = "NO_MATCHING_RULE"
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	ReasonDeniedByAdmin       = "DENIED_BY_ADMIN"
)

// ExecResult is the output of a sandbox execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Command is the authoritative record of one submitted command. It is
// created on submission and mutated only by the lifecycle manager; history
// is append-only. Seq increases by one on every transition so clients can
// discard out-of-order updates.
type Command struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	CommandText   string      `json:"command_text"`
	MatchedRuleID string      `json:"matched_rule_id,omitempty"`
	ActionTaken   ActionTaken `json:"action_taken"`
	Status        Status      `json:"status"`
	Cost          int         `json:"cost"`
	Reason        string      `json:"reason,omitempty"`
	Result        *ExecResult `json:"result,omitempty"`
	Seq           int64       `json:"seq"`
	ExecutedAt    *time.Time  `json:"executed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`

	// NewBalance is the submitter's balance after a debit or refund. It is
	// set on admission and decision responses only, never persisted.
	NewBalance *int `json:"new_balance,omitempty"`
}
