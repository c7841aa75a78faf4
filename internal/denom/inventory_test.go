package denom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInventoryValidates(t *testing.T) {
	_, err := NewInventory(map[int64]int{0: 1})
	assert.ErrorIs(t, err, ErrInvalidDenomination)

	_, err = NewInventory(map[int64]int{100: -1})
	assert.ErrorIs(t, err, ErrNegativeCount)

	inv, err := NewInventory(map[int64]int{100: 3, 2000: 1, 500: 0})
	require.NoError(t, err)
	assert.Equal(t, []int64{2000, 500, 100}, inv.Denominations())
	assert.Equal(t, int64(2300), inv.Total())
	assert.True(t, inv.Has(500))
	assert.Zero(t, inv.Count(500))
	assert.Zero(t, inv.Count(50))
}

func TestParseBills(t *testing.T) {
	inv, err := ParseBills(map[string]int{"100000": 2, "50000": 1, " 2000 ": 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{100000: 2, 50000: 1, 2000: 4}, inv.Counts())

	_, err = ParseBills(map[string]int{"abc": 1})
	assert.ErrorIs(t, err, ErrInvalidDenomination)

	_, err = ParseBills(map[string]int{"100": 1, "0100": 2})
	assert.ErrorIs(t, err, ErrInvalidDenomination)
}

func TestCappedInventory(t *testing.T) {
	inv, err := Capped([]int64{1000, 500}, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, inv.Count(1000))
	assert.Equal(t, int64(30000), inv.Total())
}

func TestSelectionKeyIsCanonical(t *testing.T) {
	a := Selection{1000: 2, 100: 1}
	b := Selection{100: 1, 1000: 2, 500: 0}

	assert.Equal(t, "100:1,1000:2", a.Key())
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, 3, a.Units())
	assert.Equal(t, []Holding{{Denomination: 1000, Count: 2}, {Denomination: 100, Count: 1}}, b.Pairs())
	assert.NotContains(t, b.Clone(), int64(500))
}

func TestDiffReportsMismatchesOnly(t *testing.T) {
	expected := mustInventory(t, map[int64]int{1000: 3, 500: 2, 100: 5})
	counted := mustInventory(t, map[int64]int{1000: 3, 500: 1, 100: 6, 50: 2})

	diff := Diff(expected, counted)
	require.Len(t, diff, 3)
	assert.Equal(t, Discrepancy{Denomination: 500, Expected: 2, Counted: 1, Delta: -1}, diff[0])
	assert.Equal(t, Discrepancy{Denomination: 100, Expected: 5, Counted: 6, Delta: 1}, diff[1])
	assert.Equal(t, Discrepancy{Denomination: 50, Expected: 0, Counted: 2, Delta: 2}, diff[2])
	assert.Equal(t, int64(-500), diff[0].Value())

	assert.Empty(t, Diff(expected, expected))
}

func TestCheckedTotalRejectsOverflow(t *testing.T) {
	total, err := CheckedTotal(map[int64]int{100000: 3, 500: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(300000), total)

	_, err = CheckedTotal(map[int64]int{math.MaxInt64 / 2: 3})
	assert.ErrorIs(t, err, ErrInventoryOverflow)

	_, err = CheckedTotal(map[int64]int{math.MaxInt64: 1, 1: 1})
	assert.ErrorIs(t, err, ErrInventoryOverflow)

	_, err = ParseBills(map[string]int{"4611686018427387904": 2})
	assert.ErrorIs(t, err, ErrInventoryOverflow)
}
