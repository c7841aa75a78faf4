package denom

import "fmt"

const (
	// MaxSuggestions caps how many combinations a search returns.
	MaxSuggestions = 5
	// DefaultNodeBudget caps distinct (index, remaining) expansions per search.
	DefaultNodeBudget = 200_000
)

type SearchOptions struct {
	// MaxResults is clamped to [1, MaxSuggestions]; zero means MaxSuggestions.
	MaxResults int
	// NodeBudget bounds the depth-first pass; zero means DefaultNodeBudget,
	// negative disables the bound.
	NodeBudget int
}

func (o SearchOptions) normalized() SearchOptions {
	if o.MaxResults <= 0 || o.MaxResults > MaxSuggestions {
		o.MaxResults = MaxSuggestions
	}
	if o.NodeBudget == 0 {
		o.NodeBudget = DefaultNodeBudget
	}
	return o
}

type Result struct {
	Combinations []Combination
	// Greedy is set when the first combination came from the greedy pass.
	Greedy bool
	// Truncated is set when the node budget stopped the search early.
	Truncated bool
	Nodes     int
}

// Search finds up to opts.MaxResults distinct combinations of inventory units
// that sum exactly to target.
//
// A greedy pass taking as many of each denomination as fit, highest first,
// runs before anything else; when it lands on zero it is the first result.
// A depth-first pass then walks denominations highest first, trying counts from
// the largest that fits down to zero. Subproblems are identified by
// (index, remaining) only, and each is expanded at most once. A branch is cut
// when the units from index onward cannot cover what remains.
func Search(inv Inventory, target int64, opts SearchOptions) (Result, error) {
	if target < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeTarget, target)
	}
	if target == 0 {
		return Result{Combinations: []Combination{{}}}, nil
	}
	if !Reachable(inv, target) {
		return Result{Combinations: []Combination{}}, nil
	}

	s := newSearcher(inv, target, opts.normalized())
	s.greedy()
	s.explore(0, target)

	return Result{
		Combinations: s.found,
		Greedy:       s.greedyHit,
		Truncated:    s.truncated,
		Nodes:        s.nodes,
	}, nil
}

type subproblem struct {
	index     int
	remaining int64
}

type searcher struct {
	holdings  []Holding
	suffix    []int64
	target    int64
	max       int
	budget    int
	nodes     int
	truncated bool
	greedyHit bool
	partial   []int
	seen      map[string]struct{}
	visited   map[subproblem]struct{}
	found     []Combination
}

func newSearcher(inv Inventory, target int64, opts SearchOptions) *searcher {
	holdings := make([]Holding, 0, inv.Len())
	for _, h := range inv.holdings {
		if h.Count > 0 {
			holdings = append(holdings, h)
		}
	}

	suffix := make([]int64, len(holdings)+1)
	for i := len(holdings) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + holdings[i].Value()
	}

	return &searcher{
		holdings: holdings,
		suffix:   suffix,
		target:   target,
		max:      opts.MaxResults,
		budget:   opts.NodeBudget,
		partial:  make([]int, len(holdings)),
		seen:     make(map[string]struct{}, opts.MaxResults),
		visited:  make(map[subproblem]struct{}),
		found:    make([]Combination, 0, opts.MaxResults),
	}
}

func (s *searcher) done() bool {
	return len(s.found) >= s.max || s.truncated
}

func (s *searcher) greedy() {
	remaining := s.target
	counts := make([]int, len(s.holdings))
	for i, h := range s.holdings {
		take := min(int64(h.Count), remaining/h.Denomination)
		counts[i] = int(take)
		remaining -= take * h.Denomination
	}
	if remaining == 0 {
		s.greedyHit = s.emit(counts)
	}
}

func (s *searcher) explore(index int, remaining int64) {
	if s.done() {
		return
	}
	if remaining == 0 {
		s.emit(s.partial)
		return
	}
	if index >= len(s.holdings) || s.suffix[index] < remaining {
		return
	}

	key := subproblem{index: index, remaining: remaining}
	if _, ok := s.visited[key]; ok {
		return
	}
	s.visited[key] = struct{}{}

	s.nodes++
	if s.budget > 0 && s.nodes > s.budget {
		s.truncated = true
		return
	}

	h := s.holdings[index]
	for take := min(int64(h.Count), remaining/h.Denomination); take >= 0; take-- {
		s.partial[index] = int(take)
		s.explore(index+1, remaining-take*h.Denomination)
		if s.done() {
			break
		}
	}
	s.partial[index] = 0
}

// emit records counts as a combination unless an identical multiset was
// already found.
func (s *searcher) emit(counts []int) bool {
	combo := make(Combination, len(counts))
	for i, c := range counts {
		if c > 0 {
			combo[s.holdings[i].Denomination] = c
		}
	}
	key := combo.Key()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.found = append(s.found, combo)
	return true
}
