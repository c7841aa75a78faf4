package store

import (
	"context"
	"errors"
	"time"

	"lacikas/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientCash   = errors.New("insufficient cash in till")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrVersionConflict    = errors.New("till changed since it was read")
)

type Repository interface {
	CreateTill(ctx context.Context, till domain.Till) (*domain.Till, error)
	GetTill(ctx context.Context, tillID string) (*domain.Till, error)
	ListTills(ctx context.Context, storeID string) ([]domain.Till, error)
	// ApplyCashMovement atomically applies movement to its till. A positive
	// expectedVersion must match the till's current version.
	ApplyCashMovement(ctx context.Context, movement domain.CashMovement, expectedVersion int64) (*domain.Till, *domain.CashMovement, error)
	ListCashMovements(ctx context.Context, tillID string, limit int) ([]domain.CashMovement, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, storeID string, terminalID string, closing domain.ShiftClose) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
