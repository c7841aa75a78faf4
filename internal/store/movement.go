package store

import (
	"fmt"
	"math"
	"strings"
	"time"

	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/xid"
)

// ValidateBills rejects non-positive denominations, negative counts and bills
// whose total value would not fit in an int64.
func ValidateBills(bills domain.Bills) error {
	for d, c := range bills {
		if d <= 0 {
			return fmt.Errorf("%w: denomination %d", ErrInvalidTransaction, d)
		}
		if c < 0 {
			return fmt.Errorf("%w: %d has negative count %d", ErrInvalidTransaction, d, c)
		}
	}
	if _, err := denom.CheckedTotal(bills); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return nil
}

// NormalizeTill fills defaults for a new till and derives TotalCash from its
// bills.
func NormalizeTill(till domain.Till) (domain.Till, error) {
	if strings.TrimSpace(till.StoreID) == "" || strings.TrimSpace(till.Name) == "" {
		return domain.Till{}, ErrInvalidTransaction
	}
	if err := ValidateBills(till.Bills); err != nil {
		return domain.Till{}, err
	}
	if till.ID == "" {
		till.ID = xid.New("till")
	}
	now := time.Now().UTC()
	if till.CreatedAt.IsZero() {
		till.CreatedAt = now
	}
	till.UpdatedAt = till.CreatedAt
	till.Bills = pruneBills(till.Bills)
	till.TotalCash = till.Bills.Total()
	till.Version = 1
	return till, nil
}

// ApplyMovement mutates till in place according to movement and stamps the
// movement with its resulting balance and version. Every backend runs it
// inside its own lock or transaction.
//
//   - in adds bills; a bill-less in with a positive Amount adds cash that was
//     typed rather than counted.
//   - out removes bills and fails with ErrInsufficientCash if any count would
//     go negative.
//   - count replaces bills; Amount becomes the change in total cash.
func ApplyMovement(till *domain.Till, movement *domain.CashMovement, expectedVersion int64) error {
	if expectedVersion > 0 && till.Version != expectedVersion {
		return fmt.Errorf("%w: expected version %d, found %d", ErrVersionConflict, expectedVersion, till.Version)
	}
	if err := ValidateBills(movement.Bills); err != nil {
		return err
	}

	bills := till.Bills.Clone()
	if bills == nil {
		bills = make(domain.Bills)
	}
	total := till.TotalCash

	switch movement.Kind {
	case domain.MovementIn:
		if len(pruneBills(movement.Bills)) == 0 {
			if movement.Amount <= 0 {
				return ErrInvalidTransaction
			}
			if total > math.MaxInt64-movement.Amount {
				return fmt.Errorf("%w: till total would overflow", ErrInvalidTransaction)
			}
			total += movement.Amount
			break
		}
		for d, c := range movement.Bills {
			if bills[d] > math.MaxInt-c {
				return fmt.Errorf("%w: count of %d would overflow", ErrInvalidTransaction, d)
			}
			bills[d] += c
		}
		if err := ValidateBills(bills); err != nil {
			return err
		}
		movement.Amount = movement.Bills.Total()
		if total > math.MaxInt64-movement.Amount {
			return fmt.Errorf("%w: till total would overflow", ErrInvalidTransaction)
		}
		total += movement.Amount
	case domain.MovementOut:
		if len(pruneBills(movement.Bills)) == 0 {
			return ErrInvalidTransaction
		}
		for d, c := range movement.Bills {
			if bills[d] < c {
				return fmt.Errorf("%w: need %d x %d, have %d", ErrInsufficientCash, c, d, bills[d])
			}
			bills[d] -= c
		}
		movement.Amount = movement.Bills.Total()
		total -= movement.Amount
	case domain.MovementCount:
		bills = movement.Bills.Clone()
		next := bills.Total()
		movement.Amount = next - total
		total = next
	default:
		return fmt.Errorf("%w: unknown movement kind %q", ErrInvalidTransaction, movement.Kind)
	}

	now := time.Now().UTC()
	till.Bills = pruneBills(bills)
	till.TotalCash = total
	till.Version++
	till.UpdatedAt = now

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = now
	}
	movement.TillID = till.ID
	movement.StoreID = till.StoreID
	movement.Bills = pruneBills(movement.Bills)
	movement.BalanceAfter = total
	movement.VersionAfter = till.Version
	return nil
}

func pruneBills(bills domain.Bills) domain.Bills {
	out := make(domain.Bills, len(bills))
	for d, c := range bills {
		if c > 0 {
			out[d] = c
		}
	}
	return out
}
