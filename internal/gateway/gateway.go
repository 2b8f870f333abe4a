// Package gateway drives each submitted command through its lifecycle:
// rule evaluation, credit debit, sandbox execution, and the approval queue.
// It owns the authoritative command record and publishes a notification
// after every committed transition, never before.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cmdgate/internal/credit"
	"cmdgate/internal/domain"
	"cmdgate/internal/metrics"
	"cmdgate/internal/rule"

	"github.com/google/uuid"
)

const defaultCommandCost = 1

type Config struct {
	Store       domain.Store
	Rules       *rule.Engine
	Ledger      *credit.Ledger
	Sandbox     domain.Sandbox
	Notifier    domain.Notifier
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	CommandCost int
}

type Gateway struct {
	store    domain.Store
	rules    *rule.Engine
	ledger   *credit.Ledger
	sandbox  domain.Sandbox
	notifier domain.Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
	cost     int

	// per-command locks serialize lifecycle transitions so no two
	// transitions for the same command race.
	mu       sync.Mutex
	cmdLocks map[string]*sync.Mutex
}

func New(cfg Config) *Gateway {
	if cfg.CommandCost <= 0 {
		cfg.CommandCost = defaultCommandCost
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	return &Gateway{
		store:    cfg.Store,
		rules:    cfg.Rules,
		ledger:   cfg.Ledger,
		sandbox:  cfg.Sandbox,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		cost:     cfg.CommandCost,
		cmdLocks: make(map[string]*sync.Mutex),
	}
}

func (g *Gateway) commandLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.cmdLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		g.cmdLocks[id] = lock
	}
	return lock
}

// releaseCommandLock drops the lock entry once a command is terminal, so
// the map stays bounded by in-flight commands rather than growing with
// every command ever submitted. Late callers recreate the entry, read the
// terminal state, and conflict without mutating anything.
func (g *Gateway) releaseCommandLock(id string, st domain.Status) {
	if !st.Terminal() {
		return
	}
	g.mu.Lock()
	delete(g.cmdLocks, id)
	g.mu.Unlock()
}

// Submit runs the admission flow for one command and returns its record in
// a terminal or pending state. Empty text (after trimming) is a validation
// error and no command is created.
func (g *Gateway) Submit(ctx context.Context, userID, text string) (*domain.Command, error) {
	start := time.Now()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty command text", domain.ErrValidation)
	}

	cmd := domain.Command{
		ID:          uuid.NewString(),
		UserID:      userID,
		CommandText: text,
		ActionTaken: domain.TakenPending,
		Status:      domain.StatusSubmitted,
		Seq:         1,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("create command: %w", err)
	}

	// The record now exists. Admission must reach a committed state even if
	// the submitting client disconnects before it does.
	ctx = context.WithoutCancel(ctx)

	decision, err := g.rules.Evaluate(ctx, text)
	if err != nil {
		return nil, err
	}
	cmd.MatchedRuleID = decision.RuleID

	lock := g.commandLock(cmd.ID)
	lock.Lock()
	defer lock.Unlock()

	var out *domain.Command
	switch decision.Action {
	case domain.ActionAutoReject:
		reason := domain.ReasonAutoReject
		if decision.RuleID == "" {
			reason = domain.ReasonNoMatchingRule
		}
		out, err = g.reject(ctx, &cmd, userID, reason)

	case domain.ActionRequireApproval:
		out, err = g.hold(ctx, &cmd, userID)

	case domain.ActionAutoAccept:
		out, err = g.acceptAndExecute(ctx, &cmd, userID)

	default:
		return nil, fmt.Errorf("unknown rule action %q", decision.Action)
	}
	if err != nil {
		return nil, err
	}
	g.releaseCommandLock(cmd.ID, out.Status)

	g.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	g.metrics.CommandsSubmitted.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

// Decide resolves a pending command. It is valid only while the command is
// PENDING; any other state returns domain.ErrConflict with no state change,
// which makes duplicate or late admin actions safe to retry.
func (g *Gateway) Decide(ctx context.Context, commandID, adminID string, approve bool) (*domain.Command, error) {
	lock := g.commandLock(commandID)
	lock.Lock()
	defer lock.Unlock()

	cmd, err := g.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != domain.StatusPending {
		g.releaseCommandLock(commandID, cmd.Status)
		return nil, fmt.Errorf("%w: command is %s, not pending", domain.ErrConflict, cmd.Status)
	}

	// The decision is being applied; it must commit even if the deciding
	// admin's connection drops.
	ctx = context.WithoutCancel(ctx)

	var out *domain.Command
	if approve {
		out, err = g.acceptAndExecute(ctx, cmd, adminID)
	} else {
		out, err = g.reject(ctx, cmd, adminID, domain.ReasonDeniedByAdmin)
	}
	if err != nil {
		return nil, err
	}

	// Audited after the transition commits, so the trail never records a
	// decision that did not take effect.
	g.appendAudit(ctx, adminID, decisionEvent(approve), domain.AuditDetails{
		CommandID:   cmd.ID,
		CommandText: cmd.CommandText,
	})
	g.releaseCommandLock(commandID, out.Status)

	g.metrics.CommandsSubmitted.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

func decisionEvent(approve bool) string {
	if approve {
		return domain.AuditCommandApproved
	}
	return domain.AuditCommandDenied
}

// Get returns an immutable snapshot of one command.
func (g *Gateway) Get(ctx context.Context, id string) (*domain.Command, error) {
	return g.store.GetCommand(ctx, id)
}

// List returns command history newest first. Empty userID means all users.
func (g *Gateway) List(ctx context.Context, userID string, limit, offset int) ([]domain.Command, error) {
	return g.store.ListCommands(ctx, userID, limit, offset)
}

// ListPending is the approval queue: commands awaiting an admin decision,
// oldest first. The ordering is for display only; an admin may decide any
// of them.
func (g *Gateway) ListPending(ctx context.Context) ([]domain.Command, error) {
	return g.store.ListPendingCommands(ctx)
}

// --- transitions ---

// reject finalizes the command as REJECTED with the given reason.
func (g *Gateway) reject(ctx context.Context, cmd *domain.Command, actorID, reason string) (*domain.Command, error) {
	cmd.ActionTaken = domain.TakenRejected
	cmd.Status = domain.StatusRejected
	cmd.Reason = reason
	cmd.Cost = 0
	if err := g.commit(ctx, cmd); err != nil {
		return nil, err
	}

	g.appendAudit(ctx, actorID, domain.AuditCommandRejected, domain.AuditDetails{
		Reason:      reason,
		CommandID:   cmd.ID,
		CommandText: cmd.CommandText,
		RuleID:      cmd.MatchedRuleID,
	})
	g.notifyUpdate(cmd, nil)
	return cmd, nil
}

// hold parks the command in the approval queue and alerts admins.
func (g *Gateway) hold(ctx context.Context, cmd *domain.Command, actorID string) (*domain.Command, error) {
	cmd.ActionTaken = domain.TakenPending
	cmd.Status = domain.StatusPending
	if err := g.commit(ctx, cmd); err != nil {
		return nil, err
	}

	g.appendAudit(ctx, actorID, domain.AuditCommandPendingApproval, domain.AuditDetails{
		CommandID:   cmd.ID,
		CommandText: cmd.CommandText,
		RuleID:      cmd.MatchedRuleID,
	})

	userName := ""
	if u, err := g.store.GetUser(ctx, cmd.UserID); err == nil {
		userName = u.Name
	}
	g.notifier.PublishToAdmins(domain.Event{
		Type:        domain.EventApprovalRequest,
		CommandID:   cmd.ID,
		CommandText: cmd.CommandText,
		SubmittedBy: cmd.UserID,
		UserName:    userName,
	})
	g.notifyUpdate(cmd, nil)
	return cmd, nil
}

// acceptAndExecute debits the submitter, then runs the sandbox with no
// locks held beyond the per-command transition lock. The credit check is
// the final gate: insufficient balance rejects the command even though a
// rule (or an admin) accepted it. A sandbox failure refunds the debit.
func (g *Gateway) acceptAndExecute(ctx context.Context, cmd *domain.Command, actorID string) (*domain.Command, error) {
	// Once the accept path starts the command must reach a terminal state
	// and the ledger must balance, even if the submitting client
	// disconnects mid-flight. Lifecycle state is server-authoritative.
	ctx = context.WithoutCancel(ctx)

	newBalance, err := g.ledger.TryDebit(ctx, cmd.UserID, g.cost, cmd.ID)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			return g.reject(ctx, cmd, actorID, domain.ReasonInsufficientCredits)
		}
		return nil, err
	}
	g.metrics.CreditsDebited.Add(float64(g.cost))

	cmd.ActionTaken = domain.TakenAccepted
	cmd.Cost = g.cost
	if err := g.commit(ctx, cmd); err != nil {
		return nil, err
	}

	result, execErr := g.sandbox.Execute(ctx, cmd.CommandText)
	if execErr != nil {
		refunded, refundErr := g.ledger.Refund(ctx, cmd.UserID, g.cost, cmd.ID)
		if refundErr != nil {
			g.logger.Error("refund failed after sandbox error",
				"command_id", cmd.ID, "user_id", cmd.UserID, "err", refundErr)
		} else {
			g.metrics.CreditsRefunded.Add(float64(g.cost))
			newBalance = refunded
		}

		cmd.Status = domain.StatusFailed
		cmd.Reason = execErr.Error()
		cmd.Cost = 0
		if err := g.commit(ctx, cmd); err != nil {
			return nil, err
		}

		g.appendAudit(ctx, actorID, domain.AuditCommandFailed, domain.AuditDetails{
			Reason:      execErr.Error(),
			CommandID:   cmd.ID,
			CommandText: cmd.CommandText,
			RuleID:      cmd.MatchedRuleID,
		})
		cmd.NewBalance = &newBalance
		g.notifyUpdate(cmd, &newBalance)
		return cmd, nil
	}

	now := time.Now().UTC()
	cmd.Status = domain.StatusExecuted
	cmd.Result = result
	cmd.ExecutedAt = &now
	if err := g.commit(ctx, cmd); err != nil {
		return nil, err
	}

	g.appendAudit(ctx, actorID, domain.AuditCommandExecuted, domain.AuditDetails{
		CommandID:   cmd.ID,
		CommandText: cmd.CommandText,
		RuleID:      cmd.MatchedRuleID,
		Cost:        cmd.Cost,
	})
	cmd.NewBalance = &newBalance
	g.notifyUpdate(cmd, &newBalance)
	return cmd, nil
}

// commit bumps the command's sequence number and persists it. Every
// committed transition gets a strictly larger seq so consumers can discard
// out-of-order updates.
func (g *Gateway) commit(ctx context.Context, cmd *domain.Command) error {
	cmd.Seq++
	if err := g.store.UpdateCommand(ctx, *cmd); err != nil {
		return fmt.Errorf("persist command %s: %w", cmd.ID, err)
	}
	return nil
}

// notifyUpdate publishes a command_update to the submitter's sessions.
// Command state already reflects the truth; delivery failure is logged by
// the notifier, never retried here.
func (g *Gateway) notifyUpdate(cmd *domain.Command, newBalance *int) {
	g.notifier.PublishToUser(cmd.UserID, domain.Event{
		Type:       domain.EventCommandUpdate,
		CommandID:  cmd.ID,
		Status:     cmd.Status,
		Seq:        cmd.Seq,
		Result:     cmd.Result,
		NewBalance: newBalance,
		Reason:     cmd.Reason,
	})
}

func (g *Gateway) appendAudit(ctx context.Context, actorID, eventType string, details domain.AuditDetails) {
	err := g.store.AppendAudit(ctx, domain.AuditEntry{
		ID:          uuid.NewString(),
		ActorUserID: actorID,
		EventType:   eventType,
		Details:     details,
	})
	if err != nil {
		g.logger.Error("audit write failed", "event", eventType, "err", err)
	}
}
