// Package sample holds the state shared by every sampling policy: the
// canonical edge key, the bounded Sample Store and the reservoir slot index.
//
// The graph is treated as undirected. An edge observed as (a,b) and later as
// (b,a) is the same entity, and the first orientation seen stays the
// canonical key for the lifetime of the entry (it is NOT a sorted pair).
//
// Example Usage:
//
//	store := sample.NewStore()
//	store.Observe("A", "B") // inserts A,B with weight 1
//	store.Observe("B", "A") // same edge, weight 2
//
//	key, ok := store.Resolve("B", "A")
//	fmt.Println(key, ok) // A,B true
//
// A Store is owned by exactly one policy and is not safe for concurrent use.
package sample

import "strings"

// EdgeKey is the canonical identity of an undirected edge.
type EdgeKey struct {
	Source string
	Target string
}

// String renders the key the way snapshot rows print it.
func (k EdgeKey) String() string {
	return k.Source + "," + k.Target
}

// Reverse returns the opposite orientation.
func (k EdgeKey) Reverse() EdgeKey {
	return EdgeKey{Source: k.Target, Target: k.Source}
}

// Less orders keys by source, then target.
func (k EdgeKey) Less(other EdgeKey) bool {
	if c := strings.Compare(k.Source, other.Source); c != 0 {
		return c < 0
	}
	return k.Target < other.Target
}

// Canonicalize resolves (source, target) against any keyed collection.
//
// It checks (source,target) first and (target,source) second. When either
// exists the stored orientation is returned with true; otherwise a fresh key
// in the given orientation is returned with false. It has no side effects.
func Canonicalize(has func(EdgeKey) bool, source, target string) (EdgeKey, bool) {
	key := EdgeKey{Source: source, Target: target}
	if has(key) {
		return key, true
	}
	if flipped := key.Reverse(); has(flipped) {
		return flipped, true
	}
	return key, false
}

// Entry is one live edge of the sample.
//
// Weight is an occurrence count for reservoir-style policies and a decayable
// score for decay policies. Count always holds the raw number of
// occurrences accumulated into the entry.
type Entry struct {
	Key    EdgeKey `json:"key"`
	Weight float64 `json:"weight"`
	Count  int     `json:"count"`
}

// PruneRule selects how a threshold is compared during pruning.
type PruneRule int

const (
	// PruneAtOrBelow removes entries with weight <= threshold.
	PruneAtOrBelow PruneRule = iota
	// PruneBelow removes entries with weight < threshold.
	PruneBelow
)

// String implements fmt.Stringer.
func (r PruneRule) String() string {
	if r == PruneBelow {
		return "below"
	}
	return "at-or-below"
}

// drops reports whether weight w must be removed under rule r.
// Non-positive weights are always dropped.
func (r PruneRule) drops(w, threshold float64) bool {
	if w <= 0 {
		return true
	}
	if r == PruneBelow {
		return w < threshold
	}
	return w <= threshold
}

// Store maps canonical edge keys to accumulated weight.
type Store struct {
	entries map[EdgeKey]*Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[EdgeKey]*Entry)}
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Has reports whether key is stored in exactly this orientation.
func (s *Store) Has(key EdgeKey) bool {
	_, ok := s.entries[key]
	return ok
}

// Resolve is the edge key canonicalizer for this store.
func (s *Store) Resolve(source, target string) (EdgeKey, bool) {
	return Canonicalize(s.Has, source, target)
}

// Get returns a copy of the entry stored under key.
func (s *Store) Get(key EdgeKey) (Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup resolves (source, target) in either orientation and returns a copy
// of the stored entry.
func (s *Store) Lookup(source, target string) (Entry, bool) {
	key, ok := s.Resolve(source, target)
	if !ok {
		return Entry{}, false
	}
	return s.Get(key)
}

// Insert adds a new entry. An existing entry under key is replaced.
func (s *Store) Insert(key EdgeKey, weight float64, count int) {
	s.entries[key] = &Entry{Key: key, Weight: weight, Count: count}
}

// Add increases the weight and count of an existing entry. It returns false
// when key is not stored.
func (s *Store) Add(key EdgeKey, weight float64, count int) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.Weight += weight
	e.Count += count
	return true
}

// Observe records one occurrence of (source, target): weight and count grow
// by one on the canonical entry, or a new entry is created with weight 1.
// It returns the canonical key and whether the edge already existed.
func (s *Store) Observe(source, target string) (EdgeKey, bool) {
	key, existed := s.Resolve(source, target)
	if existed {
		s.Add(key, 1, 1)
	} else {
		s.Insert(key, 1, 1)
	}
	return key, existed
}

// Remove deletes key. It returns false when the key was not stored.
func (s *Store) Remove(key EdgeKey) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// Scale multiplies every weight by factor.
func (s *Store) Scale(factor float64) {
	for _, e := range s.entries {
		e.Weight *= factor
	}
}

// Prune removes every entry that rule drops for threshold and returns how
// many were removed.
func (s *Store) Prune(threshold float64, rule PruneRule) int {
	removed := 0
	for key, e := range s.entries {
		if rule.drops(e.Weight, threshold) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Each calls fn for every entry in unspecified order. fn must not mutate
// the store.
func (s *Store) Each(fn func(Entry)) {
	for _, e := range s.entries {
		fn(*e)
	}
}

// Entries returns a copy of all entries in unspecified order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// TotalWeight sums the weight of every entry.
func (s *Store) TotalWeight() float64 {
	var total float64
	for _, e := range s.entries {
		total += e.Weight
	}
	return total
}
