package denom

import (
	"errors"
	"fmt"
)

// Mode decides what pressing a denomination's single control does.
type Mode string

const (
	ModeAdd      Mode = "add"
	ModeSubtract Mode = "subtract"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeAdd, ModeSubtract:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

// Unbounded disables the ceiling; used for free counting.
const Unbounded int64 = -1

var ErrCountedMode = errors.New("amount entry is disabled while counting units")

// Observer is notified after every successful mutation.
type Observer func(total int64, selection Selection)

// Reason explains why a denomination's control is disabled.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonExhausted Reason = "exhausted"
	ReasonCeiling   Reason = "ceiling"
	ReasonEmpty     Reason = "empty"
	ReasonUnknown   Reason = "unknown"
	ReasonUncounted Reason = "uncounted"
)

type Affordance struct {
	Denomination  int64  `json:"denomination"`
	Selected      int    `json:"selected"`
	Available     int    `json:"available"`
	CanAdd        bool   `json:"can_add"`
	AddBlocked    Reason `json:"add_blocked,omitempty"`
	CanRemove     bool   `json:"can_remove"`
	RemoveBlocked Reason `json:"remove_blocked,omitempty"`
}

// Enabled reports whether pressing the control does anything in mode.
func (a Affordance) Enabled(mode Mode) bool {
	if mode == ModeSubtract {
		return a.CanRemove
	}
	return a.CanAdd
}

// Accumulator holds a cashier's selection for one reconciliation session.
// It is not safe for concurrent use; the session owner serializes calls.
type Accumulator struct {
	inventory Inventory
	selection Selection
	total     int64
	ceiling   int64
	mode      Mode
	counted   bool
	observer  Observer
}

type Option func(*Accumulator)

// WithCeiling rejects any add that would push the total above ceiling.
func WithCeiling(ceiling int64) Option {
	return func(a *Accumulator) {
		if ceiling < 0 {
			ceiling = Unbounded
		}
		a.ceiling = ceiling
	}
}

func WithObserver(fn Observer) Option {
	return func(a *Accumulator) { a.observer = fn }
}

func WithMode(mode Mode) Option {
	return func(a *Accumulator) { a.mode = mode }
}

// WithCounted picks between unit counting (true) and free-text amount entry.
func WithCounted(counted bool) Option {
	return func(a *Accumulator) { a.counted = counted }
}

func NewAccumulator(inv Inventory, opts ...Option) *Accumulator {
	a := &Accumulator{
		inventory: inv,
		selection: make(Selection),
		ceiling:   Unbounded,
		mode:      ModeAdd,
		counted:   true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accumulator) Inventory() Inventory { return a.inventory }
func (a *Accumulator) Mode() Mode           { return a.mode }
func (a *Accumulator) Total() int64         { return a.total }
func (a *Accumulator) Counted() bool        { return a.counted }

// Ceiling returns the ceiling and whether one is set.
func (a *Accumulator) Ceiling() (int64, bool) {
	return a.ceiling, a.ceiling != Unbounded
}

func (a *Accumulator) Selection() Selection {
	return a.selection.Clone()
}

func (a *Accumulator) SetMode(mode Mode) {
	a.mode = mode
}

// Press applies the current mode to denomination d.
func (a *Accumulator) Press(d int64) bool {
	if a.mode == ModeSubtract {
		return a.RemoveUnit(d)
	}
	return a.AddUnit(d)
}

// AddUnit selects one more unit of d. It is a no-op, reported by false, when
// d is exhausted, unknown, or the unit would cross the ceiling.
func (a *Accumulator) AddUnit(d int64) bool {
	if a.addBlocked(d) != ReasonNone {
		return false
	}
	a.selection[d]++
	a.total += d
	a.notify()
	return true
}

// RemoveUnit deselects one unit of d; a count reaching zero deletes the key.
func (a *Accumulator) RemoveUnit(d int64) bool {
	if a.removeBlocked(d) != ReasonNone {
		return false
	}
	a.selection[d]--
	if a.selection[d] <= 0 {
		delete(a.selection, d)
	}
	a.total = max(a.total-d, 0)
	a.notify()
	return true
}

// Accept replaces the selection with a suggested combination and switches
// back to counting.
func (a *Accumulator) Accept(c Combination) error {
	if !c.Fits(a.inventory) {
		return ErrExceedsInventory
	}
	total := c.Total()
	if a.ceiling != Unbounded && total > a.ceiling {
		return fmt.Errorf("%w: %d > %d", ErrExceedsCeiling, total, a.ceiling)
	}
	a.selection = c.Clone()
	a.total = total
	a.counted = true
	a.notify()
	return nil
}

// SetCounted toggles between unit counting and free-text entry. Returning to
// counting restores the total from the selection.
func (a *Accumulator) SetCounted(counted bool) {
	if a.counted == counted {
		return
	}
	a.counted = counted
	if counted {
		a.total = a.selection.Total()
	}
	a.notify()
}

// EnterAmount replaces the total directly while free-text entry is active.
// No selection is computed. Amounts above the ceiling are rejected.
func (a *Accumulator) EnterAmount(amount int64) (bool, error) {
	if a.counted {
		return false, ErrCountedMode
	}
	if amount < 0 {
		return false, fmt.Errorf("%w: %d", ErrNegativeTarget, amount)
	}
	if a.ceiling != Unbounded && amount > a.ceiling {
		return false, nil
	}
	a.total = amount
	a.notify()
	return true, nil
}

// Reset clears the selection and total.
func (a *Accumulator) Reset() {
	a.selection = make(Selection)
	a.total = 0
	a.notify()
}

func (a *Accumulator) Affordance(d int64) Affordance {
	add, remove := a.addBlocked(d), a.removeBlocked(d)
	return Affordance{
		Denomination:  d,
		Selected:      a.selection[d],
		Available:     a.inventory.Count(d),
		CanAdd:        add == ReasonNone,
		AddBlocked:    add,
		CanRemove:     remove == ReasonNone,
		RemoveBlocked: remove,
	}
}

// Affordances describes every inventory denomination, highest first.
func (a *Accumulator) Affordances() []Affordance {
	out := make([]Affordance, 0, a.inventory.Len())
	for _, d := range a.inventory.Denominations() {
		out = append(out, a.Affordance(d))
	}
	return out
}

func (a *Accumulator) addBlocked(d int64) Reason {
	switch {
	case !a.counted:
		return ReasonUncounted
	case !a.inventory.Has(d):
		return ReasonUnknown
	case a.selection[d] >= a.inventory.Count(d):
		return ReasonExhausted
	case a.ceiling != Unbounded && a.total+d > a.ceiling:
		return ReasonCeiling
	}
	return ReasonNone
}

func (a *Accumulator) removeBlocked(d int64) Reason {
	switch {
	case !a.counted:
		return ReasonUncounted
	case !a.inventory.Has(d):
		return ReasonUnknown
	case a.selection[d] <= 0:
		return ReasonEmpty
	}
	return ReasonNone
}

func (a *Accumulator) notify() {
	if a.observer != nil {
		a.observer(a.total, a.selection.Clone())
	}
}
