package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	tillsByID        map[string]domain.Till
	movementsByTill  map[string][]domain.CashMovement
	auditLogs        []domain.AuditLog
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		tillsByID:        make(map[string]domain.Till),
		movementsByTill:  make(map[string][]domain.CashMovement),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the demo till for storeID and the dev user
// accounts.
func NewSeeded(storeID string) (*Store, store.SeedReport, error) {
	s := New()
	report, err := store.SeedIfEmpty(context.Background(), s, storeID)
	if err != nil {
		return nil, report, err
	}
	return s, report, nil
}

func (s *Store) CreateTill(_ context.Context, till domain.Till) (*domain.Till, error) {
	till, err := store.NormalizeTill(till)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tillsByID[till.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.tillsByID[till.ID] = till
	return cloneTill(till), nil
}

func (s *Store) GetTill(_ context.Context, tillID string) (*domain.Till, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	till, exists := s.tillsByID[tillID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneTill(till), nil
}

func (s *Store) ListTills(_ context.Context, storeID string) ([]domain.Till, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Till, 0, len(s.tillsByID))
	for _, till := range s.tillsByID {
		if storeID != "" && till.StoreID != storeID {
			continue
		}
		result = append(result, *cloneTill(till))
	}
	slices.SortFunc(result, func(a, b domain.Till) int {
		return strings.Compare(a.Name+a.ID, b.Name+b.ID)
	})
	return result, nil
}

func (s *Store) ApplyCashMovement(_ context.Context, movement domain.CashMovement, expectedVersion int64) (*domain.Till, *domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tillsByID[movement.TillID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	till := *cloneTill(current)
	if err := store.ApplyMovement(&till, &movement, expectedVersion); err != nil {
		return nil, nil, err
	}

	s.tillsByID[till.ID] = till
	s.movementsByTill[till.ID] = append(s.movementsByTill[till.ID], movement)
	saved := movement
	saved.Bills = movement.Bills.Clone()
	return cloneTill(till), &saved, nil
}

func (s *Store) ListCashMovements(_ context.Context, tillID string, limit int) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.tillsByID[tillID]; !exists {
		return nil, store.ErrNotFound
	}
	source := s.movementsByTill[tillID]
	result := make([]domain.CashMovement, 0, len(source))
	for i := len(source) - 1; i >= 0; i-- {
		mv := source[i]
		mv.Bills = mv.Bills.Clone()
		result = append(result, mv)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" || strings.TrimSpace(shift.TillID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.StoreID, shift.TerminalID)
	if _, exists := s.activeShiftByKey[key]; exists {
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

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, storeID string, terminalID string, closing domain.ShiftClose) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(storeID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	closedAt := closing.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ExpectedCash = closing.ExpectedCash
	shift.ClosingCash = closing.ClosingCash
	shift.Discrepancy = closing.ClosingCash - closing.ExpectedCash
	shift.Discrepancies = slices.Clone(closing.Discrepancies)
	shift.Notes = closing.Notes
	shift.ClosedAt = &closedAt

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := shiftMapKey(storeID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func shiftMapKey(storeID string, terminalID string) string {
	return storeID + "::" + terminalID
}

func cloneTill(src domain.Till) *domain.Till {
	out := src
	out.Bills = src.Bills.Clone()
	return &out
}
