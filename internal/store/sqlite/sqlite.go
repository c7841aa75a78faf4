// Package sqlite is a single-file Repository for one-terminal deployments that
// have no PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/xid"
)

type Store struct {
	db *sql.DB
	// mu serializes writers; SQLite allows one at a time.
	mu sync.Mutex
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tills (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bills TEXT NOT NULL DEFAULT '{}',
		total_cash INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tills_store ON tills(store_id);

	CREATE TABLE IF NOT EXISTS cash_movements (
		id TEXT PRIMARY KEY,
		till_id TEXT NOT NULL REFERENCES tills(id),
		store_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		bills TEXT NOT NULL DEFAULT '{}',
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		version_after INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		actor_username TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cash_movements_till ON cash_movements(till_id, version_after);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_store ON audit_logs(store_id, created_at);

	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		till_id TEXT NOT NULL,
		terminal_id TEXT NOT NULL,
		cashier_name TEXT NOT NULL,
		opening_cash INTEGER NOT NULL,
		expected_cash INTEGER NOT NULL DEFAULT 0,
		closing_cash INTEGER NOT NULL DEFAULT 0,
		discrepancy INTEGER NOT NULL DEFAULT 0,
		discrepancies TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		closed_at TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_open_terminal ON shifts(store_id, terminal_id) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const tillColumns = `id, store_id, name, bills, total_cash, version, created_at, updated_at`

func scanTill(row rowScanner) (*domain.Till, error) {
	var till domain.Till
	var bills, createdAt, updatedAt string
	if err := row.Scan(&till.ID, &till.StoreID, &till.Name, &bills, &till.TotalCash, &till.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bills), &till.Bills); err != nil {
		return nil, err
	}
	till.CreatedAt = parseTime(createdAt)
	till.UpdatedAt = parseTime(updatedAt)
	return &till, nil
}

func (s *Store) CreateTill(ctx context.Context, till domain.Till) (*domain.Till, error) {
	till, err := store.NormalizeTill(till)
	if err != nil {
		return nil, err
	}
	bills, err := json.Marshal(till.Bills)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tills (`+tillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, till.ID, till.StoreID, till.Name, string(bills), till.TotalCash, till.Version,
		formatTime(till.CreatedAt), formatTime(till.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &till, nil
}

func (s *Store) GetTill(ctx context.Context, tillID string) (*domain.Till, error) {
	till, err := scanTill(s.db.QueryRowContext(ctx, `SELECT `+tillColumns+` FROM tills WHERE id = ?`, tillID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return till, nil
}

func (s *Store) ListTills(ctx context.Context, storeID string) ([]domain.Till, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tillColumns+`
		FROM tills
		WHERE ? = '' OR store_id = ?
		ORDER BY name, id
	`, storeID, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tills := make([]domain.Till, 0, 4)
	for rows.Next() {
		till, err := scanTill(rows)
		if err != nil {
			return nil, err
		}
		tills = append(tills, *till)
	}
	return tills, rows.Err()
}

func (s *Store) ApplyCashMovement(ctx context.Context, movement domain.CashMovement, expectedVersion int64) (*domain.Till, *domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	till, err := scanTill(sqlTx.QueryRowContext(ctx, `SELECT `+tillColumns+` FROM tills WHERE id = ?`, movement.TillID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	if err := store.ApplyMovement(till, &movement, expectedVersion); err != nil {
		return nil, nil, err
	}

	tillBills, err := json.Marshal(till.Bills)
	if err != nil {
		return nil, nil, err
	}
	movementBills, err := json.Marshal(movement.Bills)
	if err != nil {
		return nil, nil, err
	}

	if _, err := sqlTx.ExecContext(ctx, `
		UPDATE tills SET bills = ?, total_cash = ?, version = ?, updated_at = ? WHERE id = ?
	`, string(tillBills), till.TotalCash, till.Version, formatTime(till.UpdatedAt), till.ID); err != nil {
		return nil, nil, err
	}

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO cash_movements (
			id, till_id, store_id, kind, bills, amount, balance_after, version_after,
			session_id, actor_username, note, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, movement.ID, movement.TillID, movement.StoreID, movement.Kind, string(movementBills), movement.Amount,
		movement.BalanceAfter, movement.VersionAfter, movement.SessionID, movement.ActorUsername,
		movement.Note, formatTime(movement.CreatedAt)); err != nil {
		return nil, nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, nil, err
	}
	return till, &movement, nil
}

func (s *Store) ListCashMovements(ctx context.Context, tillID string, limit int) ([]domain.CashMovement, error) {
	if limit < 1 {
		limit = 100
	}
	if _, err := s.GetTill(ctx, tillID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, till_id, store_id, kind, bills, amount, balance_after, version_after,
			session_id, actor_username, note, created_at
		FROM cash_movements
		WHERE till_id = ?
		ORDER BY version_after DESC
		LIMIT ?
	`, tillID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, limit)
	for rows.Next() {
		var mv domain.CashMovement
		var bills, createdAt string
		if err := rows.Scan(&mv.ID, &mv.TillID, &mv.StoreID, &mv.Kind, &bills, &mv.Amount, &mv.BalanceAfter,
			&mv.VersionAfter, &mv.SessionID, &mv.ActorUsername, &mv.Note, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bills), &mv.Bills); err != nil {
			return nil, err
		}
		mv.CreatedAt = parseTime(createdAt)
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, formatTime(entry.CreatedAt))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, storeID, formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = parseTime(createdAt)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

const shiftColumns = `id, store_id, till_id, terminal_id, cashier_name, opening_cash, expected_cash,
	closing_cash, discrepancy, discrepancies, notes, status, opened_at, closed_at`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var discrepancies, openedAt string
	var closedAt sql.NullString
	if err := row.Scan(&shift.ID, &shift.StoreID, &shift.TillID, &shift.TerminalID, &shift.CashierName,
		&shift.OpeningCash, &shift.ExpectedCash, &shift.ClosingCash, &shift.Discrepancy, &discrepancies,
		&shift.Notes, &shift.Status, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	if discrepancies != "" && discrepancies != "[]" {
		if err := json.Unmarshal([]byte(discrepancies), &shift.Discrepancies); err != nil {
			return nil, err
		}
	}
	shift.OpenedAt = parseTime(openedAt)
	if closedAt.Valid {
		at := parseTime(closedAt.String)
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" || strings.TrimSpace(shift.TillID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCash = 0
	shift.ExpectedCash = 0
	shift.Discrepancy = 0
	shift.Discrepancies = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, store_id, till_id, terminal_id, cashier_name, opening_cash, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, shift.ID, shift.StoreID, shift.TillID, shift.TerminalID, shift.CashierName, shift.OpeningCash,
		shift.Status, formatTime(shift.OpenedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, storeID string, terminalID string, closing domain.ShiftClose) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	closedAt := closing.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	discrepancies := []byte("[]")
	if len(closing.Discrepancies) > 0 {
		var err error
		if discrepancies, err = json.Marshal(closing.Discrepancies); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', expected_cash = ?, closing_cash = ?, discrepancy = ?,
			discrepancies = ?, notes = ?, closed_at = ?
		WHERE store_id = ? AND terminal_id = ? AND status = 'open'
		RETURNING `+shiftColumns,
		closing.ExpectedCash, closing.ClosingCash, closing.ClosingCash-closing.ExpectedCash,
		string(discrepancies), closing.Notes, formatTime(closedAt), storeID, terminalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = ? AND terminal_id = ? AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, terminalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.Password, user.Role, user.Active, formatTime(user.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &createdAt); err != nil {
			return nil, err
		}
		user.CreatedAt = parseTime(createdAt)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return t.UTC()
}
