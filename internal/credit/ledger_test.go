package credit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cmdgate/internal/domain"
	"cmdgate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLedger(t *testing.T) (*Ledger, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "credits.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLedger(s, testLogger()), s
}

func addUser(t *testing.T, s *store.SQLiteStore, id string, credits int) {
	t.Helper()
	err := s.CreateUser(context.Background(), domain.User{
		ID:      id,
		Name:    "user-" + id,
		APIKey:  "usr_" + id,
		Role:    domain.RoleMember,
		Credits: credits,
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", id, err)
	}
}

// --- TryDebit ---

func TestTryDebit(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 5)

	balance, err := l.TryDebit(ctx, "u1", 1, "c1")
	if err != nil {
		t.Fatalf("TryDebit: %v", err)
	}
	if balance != 4 {
		t.Fatalf("expected balance 4, got %d", balance)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Credits != 4 {
		t.Fatalf("stored balance not updated: %d", u.Credits)
	}
}

func TestTryDebit_Insufficient(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 0)

	balance, err := l.TryDebit(ctx, "u1", 1, "c1")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance must be unchanged, got %d", balance)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Credits != 0 {
		t.Fatalf("stored balance must be unchanged: %d", u.Credits)
	}
}

func TestTryDebit_ExactBalance(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 1)

	balance, err := l.TryDebit(ctx, "u1", 1, "c1")
	if err != nil {
		t.Fatalf("TryDebit with exact balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestTryDebit_UnknownUser(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.TryDebit(context.Background(), "missing", 1, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Concurrent debits against one balance must never overspend.
func TestTryDebit_ConcurrentNoOverspend(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 10)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryDebit(ctx, "u1", 1, "c"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", succeeded)
	}
	u, _ := s.GetUser(ctx, "u1")
	if u.Credits != 0 {
		t.Fatalf("expected final balance 0, got %d", u.Credits)
	}
}

// --- Refund ---

func TestRefund(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 3)

	balance, err := l.Refund(ctx, "u1", 1, "c1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if balance != 4 {
		t.Fatalf("expected balance 4, got %d", balance)
	}
}

// --- Set ---

func TestSet(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 3)

	balance, err := l.Set(ctx, "admin-1", "u1", 500)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance 500, got %d", balance)
	}

	if _, err := l.Set(ctx, "admin-1", "u1", -1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative credits, got %v", err)
	}
}

// --- Audit trail ---

func TestDebitAndRefundAreAudited(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addUser(t, s, "u1", 5)

	l.TryDebit(ctx, "u1", 1, "c1")
	l.Refund(ctx, "u1", 1, "c1")

	entries, err := s.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}

	types := map[string]bool{}
	for _, e := range entries {
		types[e.EventType] = true
		if e.Details.CommandID != "c1" {
			t.Fatalf("audit entry missing command id: %+v", e)
		}
		if e.Details.BalanceBefore == nil || e.Details.BalanceAfter == nil {
			t.Fatalf("audit entry missing balances: %+v", e)
		}
	}
	if !types[domain.AuditCreditsDebited] || !types[domain.AuditCreditsRefunded] {
		t.Fatalf("expected debit and refund events, got %v", types)
	}
}
