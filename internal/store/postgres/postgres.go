package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tills (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bills JSONB NOT NULL DEFAULT '{}'::jsonb,
		total_cash BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tills_store_idx ON tills (store_id)`,
	`CREATE TABLE IF NOT EXISTS cash_movements (
		id TEXT PRIMARY KEY,
		till_id TEXT NOT NULL REFERENCES tills (id),
		store_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		bills JSONB NOT NULL DEFAULT '{}'::jsonb,
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		version_after BIGINT NOT NULL,
		session_id TEXT,
		actor_username TEXT,
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cash_movements_till_idx ON cash_movements (till_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_store_created_idx ON audit_logs (store_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		till_id TEXT NOT NULL,
		terminal_id TEXT NOT NULL,
		cashier_name TEXT NOT NULL,
		opening_cash BIGINT NOT NULL,
		expected_cash BIGINT NOT NULL DEFAULT 0,
		closing_cash BIGINT NOT NULL DEFAULT 0,
		discrepancy BIGINT NOT NULL DEFAULT 0,
		discrepancies JSONB NOT NULL DEFAULT '[]'::jsonb,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS shifts_one_open_per_terminal ON shifts (store_id, terminal_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

const tillColumns = `id, store_id, name, bills, total_cash, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTill(row rowScanner) (*domain.Till, error) {
	var till domain.Till
	var bills []byte
	if err := row.Scan(&till.ID, &till.StoreID, &till.Name, &bills, &till.TotalCash, &till.Version, &till.CreatedAt, &till.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bills, &till.Bills); err != nil {
		return nil, err
	}
	till.CreatedAt = till.CreatedAt.UTC()
	till.UpdatedAt = till.UpdatedAt.UTC()
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tills (`+tillColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, till.ID, till.StoreID, till.Name, string(bills), till.TotalCash, till.Version, till.CreatedAt, till.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &till, nil
}

func (s *Store) GetTill(ctx context.Context, tillID string) (*domain.Till, error) {
	till, err := scanTill(s.db.QueryRowContext(ctx, `
		SELECT `+tillColumns+`
		FROM tills
		WHERE id = $1
	`, tillID))
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
		WHERE $1 = '' OR store_id = $1
		ORDER BY name, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tills := make([]domain.Till, 0, 8)
	for rows.Next() {
		till, err := scanTill(rows)
		if err != nil {
			return nil, err
		}
		tills = append(tills, *till)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tills, nil
}

func (s *Store) ApplyCashMovement(ctx context.Context, movement domain.CashMovement, expectedVersion int64) (*domain.Till, *domain.CashMovement, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	till, err := scanTill(pgTx.QueryRowContext(ctx, `
		SELECT `+tillColumns+`
		FROM tills
		WHERE id = $1
		FOR UPDATE
	`, movement.TillID))
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

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE tills
		SET bills = $2, total_cash = $3, version = $4, updated_at = $5
		WHERE id = $1
	`, till.ID, string(tillBills), till.TotalCash, till.Version, till.UpdatedAt); err != nil {
		return nil, nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO cash_movements (
			id, till_id, store_id, kind, bills, amount, balance_after, version_after,
			session_id, actor_username, note, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, movement.ID, movement.TillID, movement.StoreID, movement.Kind, string(movementBills), movement.Amount,
		movement.BalanceAfter, movement.VersionAfter, nullIfEmpty(movement.SessionID),
		nullIfEmpty(movement.ActorUsername), nullIfEmpty(movement.Note), movement.CreatedAt); err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
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
			COALESCE(session_id, ''), COALESCE(actor_username, ''), COALESCE(note, ''), created_at
		FROM cash_movements
		WHERE till_id = $1
		ORDER BY created_at DESC, version_after DESC
		LIMIT $2
	`, tillID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, limit)
	for rows.Next() {
		var mv domain.CashMovement
		var bills []byte
		if err := rows.Scan(&mv.ID, &mv.TillID, &mv.StoreID, &mv.Kind, &bills, &mv.Amount, &mv.BalanceAfter,
			&mv.VersionAfter, &mv.SessionID, &mv.ActorUsername, &mv.Note, &mv.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(bills, &mv.Bills); err != nil {
			return nil, err
		}
		mv.CreatedAt = mv.CreatedAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const shiftColumns = `id, store_id, till_id, terminal_id, cashier_name, opening_cash, expected_cash,
	closing_cash, discrepancy, discrepancies, notes, status, opened_at, closed_at`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var discrepancies []byte
	var closedAtNull sql.NullTime
	if err := row.Scan(
		&shift.ID,
		&shift.StoreID,
		&shift.TillID,
		&shift.TerminalID,
		&shift.CashierName,
		&shift.OpeningCash,
		&shift.ExpectedCash,
		&shift.ClosingCash,
		&shift.Discrepancy,
		&discrepancies,
		&shift.Notes,
		&shift.Status,
		&shift.OpenedAt,
		&closedAtNull,
	); err != nil {
		return nil, err
	}
	if len(discrepancies) > 0 {
		if err := json.Unmarshal(discrepancies, &shift.Discrepancies); err != nil {
			return nil, err
		}
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, store_id, till_id, terminal_id, cashier_name, opening_cash, status, opened_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, shift.ID, shift.StoreID, shift.TillID, shift.TerminalID, shift.CashierName, shift.OpeningCash,
		shift.Status, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
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
	discrepancies, err := json.Marshal(nonNilDiscrepancies(closing.Discrepancies))
	if err != nil {
		return nil, err
	}

	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', expected_cash = $3, closing_cash = $4, discrepancy = $5,
			discrepancies = $6, notes = $7, closed_at = $8
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		RETURNING `+shiftColumns,
		storeID, terminalID, closing.ExpectedCash, closing.ClosingCash, closing.ClosingCash-closing.ExpectedCash,
		string(discrepancies), closing.Notes, closedAt))
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
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
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

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nonNilDiscrepancies(items []domain.BillDiscrepancy) []domain.BillDiscrepancy {
	if items == nil {
		return []domain.BillDiscrepancy{}
	}
	return items
}
