package denom

import (
	"sort"
	"strconv"
	"strings"
)

// Selection maps a denomination to a strictly positive unit count. Zero
// entries are deleted, never stored.
type Selection map[int64]int

// Combination is a Selection produced by the search; it sums exactly to the
// searched target.
type Combination = Selection

func (s Selection) Total() int64 {
	total := int64(0)
	for d, c := range s {
		total += d * int64(c)
	}
	return total
}

// Units is the number of physical bills and coins in the selection.
func (s Selection) Units() int {
	units := 0
	for _, c := range s {
		units += c
	}
	return units
}

func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for d, c := range s {
		if c > 0 {
			out[d] = c
		}
	}
	return out
}

// Pairs returns the selection as (denomination, count) pairs, highest first.
func (s Selection) Pairs() []Holding {
	out := make([]Holding, 0, len(s))
	for d, c := range s {
		if c > 0 {
			out = append(out, Holding{Denomination: d, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denomination > out[j].Denomination })
	return out
}

// Key is a canonical encoding: "denomination:count" pairs sorted by
// denomination ascending. Equal multisets produce equal keys.
func (s Selection) Key() string {
	denominations := make([]int64, 0, len(s))
	for d, c := range s {
		if c > 0 {
			denominations = append(denominations, d)
		}
	}
	sort.Slice(denominations, func(i, j int) bool { return denominations[i] < denominations[j] })

	var b strings.Builder
	for i, d := range denominations {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(d, 10))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(s[d]))
	}
	return b.String()
}

// Fits reports whether every count is non-negative and within the inventory.
func (s Selection) Fits(inv Inventory) bool {
	for d, c := range s {
		if c < 0 || c > inv.Count(d) {
			return false
		}
	}
	return true
}
