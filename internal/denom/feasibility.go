package denom

// Reachable is the cheap pre-filter: the inventory holds at least target in
// total value. It is necessary but not sufficient; {500:1} holds enough for
// 300 and still cannot pay it.
func Reachable(inv Inventory, target int64) bool {
	return target >= 0 && inv.Total() >= target
}
