package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cmdgate/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		api_key     TEXT NOT NULL UNIQUE,
		role        TEXT NOT NULL,
		credits     INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_users_api_key ON users(api_key);

	CREATE TABLE IF NOT EXISTS rules (
		id          TEXT PRIMARY KEY,
		priority    INTEGER NOT NULL,
		pattern     TEXT NOT NULL,
		action      TEXT NOT NULL,
		description TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rules_priority ON rules(priority, created_at);

	CREATE TABLE IF NOT EXISTS commands (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		command_text     TEXT NOT NULL,
		matched_rule_id  TEXT,
		action_taken     TEXT NOT NULL,
		status           TEXT NOT NULL,
		cost             INTEGER NOT NULL DEFAULT 0,
		reason           TEXT,
		result           TEXT,
		seq              INTEGER NOT NULL DEFAULT 1,
		executed_at      DATETIME,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_commands_user ON commands(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id             TEXT PRIMARY KEY,
		actor_user_id  TEXT,
		event_type     TEXT NOT NULL,
		details        TEXT,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, api_key, role, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.APIKey, string(u.Role), u.Credits, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, role, credits, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByAPIKey(ctx context.Context, key string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, role, credits, created_at, updated_at
		 FROM users WHERE api_key = ?`, key))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.APIKey, &role, &u.Credits, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.queryUsers(ctx,
		`SELECT id, name, api_key, role, credits, created_at, updated_at
		 FROM users ORDER BY created_at ASC`)
}

func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]domain.User, error) {
	return s.queryUsers(ctx,
		`SELECT id, name, api_key, role, credits, created_at, updated_at
		 FROM users WHERE role = 'admin' ORDER BY created_at ASC`)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.APIKey, &role, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUserCredits(ctx context.Context, id string, credits int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET credits = ?, updated_at = ? WHERE id = ?`,
		credits, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- Rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r domain.Rule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, priority, pattern, action, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Priority, r.Pattern, string(r.Action), r.Description, r.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	var r domain.Rule
	var action string
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, priority, pattern, action, description, created_at
		 FROM rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.Priority, &r.Pattern, &action, &desc, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Action = domain.RuleAction(action)
	r.Description = desc.String
	return &r, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, priority, pattern, action, description, created_at
		 FROM rules ORDER BY priority ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var action string
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Priority, &r.Pattern, &action, &desc, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Action = domain.RuleAction(action)
		r.Description = desc.String
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r domain.Rule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET priority = ?, pattern = ?, action = ?, description = ? WHERE id = ?`,
		r.Priority, r.Pattern, string(r.Action), r.Description, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountRules(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n)
	return n, err
}

// --- Commands ---

func (s *SQLiteStore) CreateCommand(ctx context.Context, c domain.Command) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	result, err := marshalResult(c.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO commands (id, user_id, command_text, matched_rule_id, action_taken,
		                       status, cost, reason, result, seq, executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CommandText, nullString(c.MatchedRuleID), string(c.ActionTaken),
		string(c.Status), c.Cost, nullString(c.Reason), result, c.Seq, c.ExecutedAt, c.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) UpdateCommand(ctx context.Context, c domain.Command) error {
	result, err := marshalResult(c.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE commands SET matched_rule_id = ?, action_taken = ?, status = ?, cost = ?,
		                     reason = ?, result = ?, seq = ?, executed_at = ?
		 WHERE id = ?`,
		nullString(c.MatchedRuleID), string(c.ActionTaken), string(c.Status), c.Cost,
		nullString(c.Reason), result, c.Seq, c.ExecutedAt, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const commandColumns = `id, user_id, command_text, matched_rule_id, action_taken,
	status, cost, reason, result, seq, executed_at, created_at`

func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*domain.Command, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cmds, err := scanCommands(rows)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, domain.ErrNotFound
	}
	return &cmds[0], nil
}

func (s *SQLiteStore) ListCommands(ctx context.Context, userID string, limit, offset int) ([]domain.Command, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if userID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+commandColumns+` FROM commands
			 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+commandColumns+` FROM commands WHERE user_id = ?
			 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func (s *SQLiteStore) ListPendingCommands(ctx context.Context) ([]domain.Command, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE status = ?
		 ORDER BY created_at ASC, id ASC`, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func scanCommands(rows *sql.Rows) ([]domain.Command, error) {
	var cmds []domain.Command
	for rows.Next() {
		var c domain.Command
		var matchedRule, reason, result sql.NullString
		var action, status string
		var executedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.CommandText, &matchedRule, &action,
			&status, &c.Cost, &reason, &result, &c.Seq, &executedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.MatchedRuleID = matchedRule.String
		c.ActionTaken = domain.ActionTaken(action)
		c.Status = domain.Status(status)
		c.Reason = reason.String
		if result.Valid && result.String != "" {
			var r domain.ExecResult
			if err := json.Unmarshal([]byte(result.String), &r); err != nil {
				return nil, fmt.Errorf("decode command result: %w", err)
			}
			c.Result = &r
		}
		if executedAt.Valid {
			t := executedAt.Time
			c.ExecutedAt = &t
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_user_id, event_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ActorUserID), e.EventType, string(details), e.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_user_id, event_type, details, created_at
		 FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var actor, details sql.NullString
		if err := rows.Scan(&e.ID, &actor, &e.EventType, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorUserID = actor.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalResult(r *domain.ExecResult) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode command result: %w", err)
	}
	return string(data), nil
}
