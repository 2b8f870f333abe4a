package domain

import "time"

// Audit event types. The ledger writes the CREDITS_* entries; the lifecycle
// manager writes the COMMAND_* entries; admin handlers write the rest.
const (
	AuditCommandExecuted        = "COMMAND_EXECUTED"
	AuditCommandRejected        = "COMMAND_REJECTED"
	AuditCommandFailed          = "COMMAND_FAILED"
	AuditCommandPendingApproval = "COMMAND_PENDING_APPROVAL"
	AuditCommandApproved        = "COMMAND_APPROVED"
	AuditCommandDenied          = "COMMAND_DENIED"
	AuditCreditsDebited         = "CREDITS_DEBITED"
	AuditCreditsRefunded        = "CREDITS_REFUNDED"
	AuditCreditsAdjusted        = "CREDITS_ADJUSTED"
	AuditUserCreated            = "USER_CREATED"
	AuditRuleCreated            = "RULE_CREATED"
	AuditRuleUpdated            = "RULE_UPDATED"
	AuditRuleDeleted            = "RULE_DELETED"
)

// AuditDetails carries the structured payload of an audit entry. Known
// fields are typed; Extra is the fallback for anything event-specific.
// Balance fields are pointers so a 0 balance survives omitempty.
type AuditDetails struct {
	Reason        string            `json:"reason,omitempty"`
	CommandID     string            `json:"command_id,omitempty"`
	CommandText   string            `json:"command_text,omitempty"`
	RuleID        string            `json:"rule_id,omitempty"`
	Cost          int               `json:"cost,omitempty"`
	Amount        int               `json:"amount,omitempty"`
	BalanceBefore *int              `json:"balance_before,omitempty"`
	BalanceAfter  *int              `json:"balance_after,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// AuditEntry is a write-once record of a decision or administrative action.
// ActorUserID is empty for system-initiated events.
type AuditEntry struct {
	ID          string       `json:"id"`
	ActorUserID string       `json:"actor_user_id,omitempty"`
	EventType   string       `json:"event_type"`
	Details     AuditDetails `json:"details"`
	CreatedAt   time.Time    `json:"created_at"`
}
