package sample

import "fmt"

// Index is the reservoir slot array: slot number -> key of a stored entry.
//
// It only grows during the initial fill. After that, slots are overwritten
// in place by Replace, and the caller removes the displaced key from the
// Store in the same step so both structures always name the same set of
// keys.
type Index struct {
	slots []EdgeKey
}

// NewIndex creates an empty index with room for capacity slots.
func NewIndex(capacity int) *Index {
	if capacity <= 0 {
		panic(fmt.Sprintf("sample: index capacity must be positive, got %d", capacity))
	}
	return &Index{slots: make([]EdgeKey, 0, capacity)}
}

// Len returns the number of filled slots.
func (x *Index) Len() int { return len(x.slots) }

// Cap returns the fixed capacity.
func (x *Index) Cap() int { return cap(x.slots) }

// Full reports whether every slot is filled.
func (x *Index) Full() bool { return len(x.slots) == cap(x.slots) }

// Append fills the next free slot and returns its number.
func (x *Index) Append(key EdgeKey) int {
	if x.Full() {
		panic("sample: append to a full index")
	}
	x.slots = append(x.slots, key)
	return len(x.slots) - 1
}

// At returns the key in slot.
func (x *Index) At(slot int) EdgeKey {
	return x.slots[slot]
}

// Replace installs key in slot and returns the key it displaced.
func (x *Index) Replace(slot int, key EdgeKey) EdgeKey {
	old := x.slots[slot]
	x.slots[slot] = key
	return old
}
