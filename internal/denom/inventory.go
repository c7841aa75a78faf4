// Package denom reconciles physical cash. It models the bills and coins held in
// a till, searches for combinations of them that pay an exact amount, and
// tracks a cashier's unit-by-unit selection against what the till holds.
//
// All amounts are integers in the smallest currency unit.
package denom

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidDenomination = errors.New("denomination must be a positive integer")
	ErrNegativeCount       = errors.New("denomination count must not be negative")
	ErrNegativeTarget      = errors.New("target amount must not be negative")
	ErrExceedsInventory    = errors.New("selection exceeds available units")
	ErrExceedsCeiling      = errors.New("selection exceeds ceiling")
	ErrInventoryOverflow   = errors.New("inventory value does not fit in a 64-bit amount")
)

// Holding is one (denomination, count) pair.
type Holding struct {
	Denomination int64 `json:"denomination"`
	Count        int   `json:"count"`
}

func (h Holding) Value() int64 {
	return h.Denomination * int64(h.Count)
}

// Inventory is the read-only set of units available for one reconciliation.
// Holdings are kept sorted by face value, highest first.
type Inventory struct {
	holdings []Holding
	index    map[int64]int
}

func NewInventory(counts map[int64]int) (Inventory, error) {
	holdings := make([]Holding, 0, len(counts))
	for d, c := range counts {
		if d <= 0 {
			return Inventory{}, fmt.Errorf("%w: %d", ErrInvalidDenomination, d)
		}
		if c < 0 {
			return Inventory{}, fmt.Errorf("%w: %d has %d", ErrNegativeCount, d, c)
		}
		holdings = append(holdings, Holding{Denomination: d, Count: c})
	}
	if _, err := CheckedTotal(counts); err != nil {
		return Inventory{}, err
	}
	return fromHoldings(holdings), nil
}

// CheckedTotal sums d*count over counts, failing with ErrInventoryOverflow
// instead of wrapping past math.MaxInt64. Denominations and counts are
// expected to be non-negative.
func CheckedTotal(counts map[int64]int) (int64, error) {
	total := int64(0)
	for d, c := range counts {
		if d <= 0 || c <= 0 {
			continue
		}
		if d > math.MaxInt64/int64(c) {
			return 0, fmt.Errorf("%w: %d x %d", ErrInventoryOverflow, c, d)
		}
		value := d * int64(c)
		if total > math.MaxInt64-value {
			return 0, fmt.Errorf("%w: total passes %d", ErrInventoryOverflow, int64(math.MaxInt64))
		}
		total += value
	}
	return total, nil
}

// ParseBills builds an Inventory from a till record, whose counts are keyed by
// the denomination's decimal string.
func ParseBills(bills map[string]int) (Inventory, error) {
	counts := make(map[int64]int, len(bills))
	for raw, c := range bills {
		d, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Inventory{}, fmt.Errorf("%w: %q", ErrInvalidDenomination, raw)
		}
		if _, dup := counts[d]; dup {
			return Inventory{}, fmt.Errorf("%w: %q listed twice", ErrInvalidDenomination, raw)
		}
		counts[d] = c
	}
	return NewInventory(counts)
}

// Capped returns an inventory holding limit units of every denomination. It
// bounds free counting, where the units come from a customer rather than the till.
func Capped(denominations []int64, limit int) (Inventory, error) {
	counts := make(map[int64]int, len(denominations))
	for _, d := range denominations {
		counts[d] = limit
	}
	return NewInventory(counts)
}

func fromHoldings(holdings []Holding) Inventory {
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Denomination > holdings[j].Denomination
	})
	index := make(map[int64]int, len(holdings))
	for i, h := range holdings {
		index[h.Denomination] = i
	}
	return Inventory{holdings: holdings, index: index}
}

func (inv Inventory) Holdings() []Holding {
	out := make([]Holding, len(inv.holdings))
	copy(out, inv.holdings)
	return out
}

func (inv Inventory) Denominations() []int64 {
	out := make([]int64, len(inv.holdings))
	for i, h := range inv.holdings {
		out[i] = h.Denomination
	}
	return out
}

func (inv Inventory) Has(d int64) bool {
	_, ok := inv.index[d]
	return ok
}

func (inv Inventory) Count(d int64) int {
	i, ok := inv.index[d]
	if !ok {
		return 0
	}
	return inv.holdings[i].Count
}

func (inv Inventory) Len() int {
	return len(inv.holdings)
}

// Total is the cash value of every unit in the inventory.
func (inv Inventory) Total() int64 {
	total := int64(0)
	for _, h := range inv.holdings {
		total += h.Value()
	}
	return total
}

func (inv Inventory) Counts() map[int64]int {
	out := make(map[int64]int, len(inv.holdings))
	for _, h := range inv.holdings {
		out[h.Denomination] = h.Count
	}
	return out
}

// Discrepancy is a per-denomination mismatch between what a till should hold
// and what was physically counted.
type Discrepancy struct {
	Denomination int64 `json:"denomination"`
	Expected     int   `json:"expected"`
	Counted      int   `json:"counted"`
	Delta        int   `json:"delta"`
}

func (d Discrepancy) Value() int64 {
	return d.Denomination * int64(d.Delta)
}

// Diff lists every denomination whose counted units differ from the expected
// units, highest face value first.
func Diff(expected Inventory, counted Inventory) []Discrepancy {
	seen := make(map[int64]struct{}, expected.Len()+counted.Len())
	denominations := make([]int64, 0, expected.Len()+counted.Len())
	for _, d := range append(expected.Denominations(), counted.Denominations()...) {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		denominations = append(denominations, d)
	}
	sort.Slice(denominations, func(i, j int) bool { return denominations[i] > denominations[j] })

	result := make([]Discrepancy, 0)
	for _, d := range denominations {
		want, got := expected.Count(d), counted.Count(d)
		if want == got {
			continue
		}
		result = append(result, Discrepancy{Denomination: d, Expected: want, Counted: got, Delta: got - want})
	}
	return result
}
