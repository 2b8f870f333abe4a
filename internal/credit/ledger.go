// Package credit implements the per-user credit ledger. Balance mutations
// for a single user are strictly serialized; unrelated users proceed in
// parallel.
package credit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cmdgate/internal/domain"

	"github.com/google/uuid"
)

// Ledger holds per-user balances in the store and guards each user's
// check-and-debit with a dedicated mutex. Every successful debit, refund,
// or override writes exactly one audit entry carrying the before/after
// balance.
type Ledger struct {
	store  domain.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(store domain.Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing operations for one user,
// creating it on first use.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// TryDebit atomically checks balance >= amount and subtracts it. On
// insufficient balance it returns domain.ErrInsufficientCredits and the
// balance is unchanged. commandID ties the audit entry to the command
// being charged.
func (l *Ledger) TryDebit(ctx context.Context, userID string, amount int, commandID string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative debit amount", domain.ErrValidation)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}

	if u.Credits < amount {
		return u.Credits, domain.ErrInsufficientCredits
	}

	before := u.Credits
	after := before - amount
	if err := l.store.UpdateUserCredits(ctx, userID, after); err != nil {
		return before, fmt.Errorf("debit user %s: %w", userID, err)
	}

	if err := l.audit(ctx, userID, domain.AuditCreditsDebited, amount, commandID, before, after); err != nil {
		l.logger.Error("audit write failed for debit", "user_id", userID, "err", err)
	}

	return after, nil
}

// Refund restores amount to the user's balance. Used when an accepted
// command fails in the sandbox after the debit, so a user is never charged
// for a command that produced no result.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int, commandID string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative refund amount", domain.ErrValidation)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}

	before := u.Credits
	after := before + amount
	if err := l.store.UpdateUserCredits(ctx, userID, after); err != nil {
		return before, fmt.Errorf("refund user %s: %w", userID, err)
	}

	if err := l.audit(ctx, userID, domain.AuditCreditsRefunded, amount, commandID, before, after); err != nil {
		l.logger.Error("audit write failed for refund", "user_id", userID, "err", err)
	}

	return after, nil
}

// Set overrides a user's balance to an exact value. Administrative path:
// bypasses the debit/refund flow but is still serialized and audited, with
// the admin recorded as the actor.
func (l *Ledger) Set(ctx context.Context, actorID, userID string, credits int) (int, error) {
	if credits < 0 {
		return 0, fmt.Errorf("%w: credits must be >= 0", domain.ErrValidation)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}

	before := u.Credits
	if err := l.store.UpdateUserCredits(ctx, userID, credits); err != nil {
		return before, fmt.Errorf("set credits for user %s: %w", userID, err)
	}

	entry := domain.AuditEntry{
		ID:          uuid.NewString(),
		ActorUserID: actorID,
		EventType:   domain.AuditCreditsAdjusted,
		Details: domain.AuditDetails{
			BalanceBefore: &before,
			BalanceAfter:  &credits,
			Extra:         map[string]string{"target_user_id": userID},
		},
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		l.logger.Error("audit write failed for credit override", "user_id", userID, "err", err)
	}

	l.logger.Info("credits adjusted", "actor_id", actorID, "user_id", userID, "before", before, "after", credits)
	return credits, nil
}

func (l *Ledger) audit(ctx context.Context, userID, eventType string, amount int, commandID string, before, after int) error {
	return l.store.AppendAudit(ctx, domain.AuditEntry{
		ID:          uuid.NewString(),
		ActorUserID: userID,
		EventType:   eventType,
		Details: domain.AuditDetails{
			Amount:        amount,
			CommandID:     commandID,
			BalanceBefore: &before,
			BalanceAfter:  &after,
		},
	})
}
