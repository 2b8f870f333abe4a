package domain

import "context"

// Store is the persistence boundary for gateway state.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByAPIKey(ctx context.Context, key string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListAdmins(ctx context.Context) ([]User, error)
	UpdateUserCredits(ctx context.Context, id string, credits int) error

	CreateRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	// ListRules returns the full rule set in evaluation order:
	// priority asc, created_at asc, id asc. A single call is a consistent
	// snapshot of the whole set.
	ListRules(ctx context.Context) ([]Rule, error)
	UpdateRule(ctx context.Context, r Rule) error
	DeleteRule(ctx context.Context, id string) error
	CountRules(ctx context.Context) (int, error)

	CreateCommand(ctx context.Context, c Command) error
	GetCommand(ctx context.Context, id string) (*Command, error)
	UpdateCommand(ctx context.Context, c Command) error
	// ListCommands returns commands newest first. Empty userID means all
	// users (admin view).
	ListCommands(ctx context.Context, userID string, limit, offset int) ([]Command, error)
	// ListPendingCommands returns PENDING commands oldest first.
	ListPendingCommands(ctx context.Context) ([]Command, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error)

	Close() error
}

// Sandbox runs an approved command and returns its result. Implementations
// may block for the full execution; callers must not hold locks across a
// call. An error means the command produced no result and the debit is
// refunded.
type Sandbox interface {
	Execute(ctx context.Context, commandText string) (*ExecResult, error)
}
