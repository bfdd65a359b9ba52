// Package reservoir implements the two slot-based sampling policies for
// undirected multigraph streams:
//
//   - ModeReservoir: Vitter's algorithm R. Once the reservoir is full, a new
//     edge seen as the N-th occurrence of the stream is admitted with
//     probability R/N and evicts a uniformly chosen slot.
//   - ModeWindow: the bounded-window approximation. Once full, every new
//     edge is admitted and evicts a uniformly chosen slot, so turnover stays
//     high and the sample leans towards recent edges.
//
// In both modes an occurrence of an edge that is already sampled (in either
// orientation) only increments its weight. Repeat occurrences therefore make
// an edge more likely to survive; this multigraph weighting is intended.
//
// The two modes have different statistical guarantees and are kept as
// separate, explicitly selected variants.
//
// Example:
//
//	s, err := reservoir.New(reservoir.ModeReservoir, 1000, rand.New(rand.NewSource(1)))
//	if err != nil {
//		return err
//	}
//	out, _ := s.Offer(sample.Edge{Source: "A", Target: "B"})
//	fmt.Println(out.Action) // inserted
package reservoir

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/orneryd/edgesample/pkg/sample"
)

// ErrInvalidCapacity is returned when the reservoir size is not positive.
var ErrInvalidCapacity = errors.New("reservoir: capacity must be positive")

// Mode selects the admission rule used once the reservoir is full.
type Mode int

const (
	// ModeReservoir admits a new edge with probability R/N.
	ModeReservoir Mode = iota
	// ModeWindow always admits a new edge.
	ModeWindow
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeReservoir:
		return "reservoir"
	case ModeWindow:
		return "window"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Sampler is a fixed-capacity edge sample.
//
// Sampler implements sample.Policy. It is not safe for concurrent use.
type Sampler struct {
	mode     Mode
	capacity int
	store    *sample.Store
	index    *sample.Index
	seen     int64
	rng      *rand.Rand
}

// New creates a Sampler with room for capacity edges. rng drives admission
// and eviction; pass a seeded source for reproducible runs.
func New(mode Mode, capacity int, rng *rand.Rand) (*Sampler, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if mode != ModeReservoir && mode != ModeWindow {
		return nil, fmt.Errorf("reservoir: unknown mode %d", int(mode))
	}
	if rng == nil {
		return nil, errors.New("reservoir: nil random source")
	}
	return &Sampler{
		mode:     mode,
		capacity: capacity,
		store:    sample.NewStore(),
		index:    sample.NewIndex(capacity),
		rng:      rng,
	}, nil
}

// Name implements sample.Policy.
func (s *Sampler) Name() string { return s.mode.String() }

// Mode returns the admission rule.
func (s *Sampler) Mode() Mode { return s.mode }

// Capacity returns R.
func (s *Sampler) Capacity() int { return s.capacity }

// Seen returns the stream position counter N: every occurrence offered so
// far, including merged and rejected ones.
func (s *Sampler) Seen() int64 { return s.seen }

// Store implements sample.Policy.
func (s *Sampler) Store() *sample.Store { return s.store }

// Begin implements sample.Policy. The reservoir carries no per-unit state.
func (s *Sampler) Begin() {}

// Decay implements sample.Policy. Slot-based sampling never decays.
func (s *Sampler) Decay(sample.Trigger) int { return 0 }

// Offer implements sample.Policy.
func (s *Sampler) Offer(e sample.Edge) (sample.Outcome, error) {
	s.seen++

	key, existed := s.store.Resolve(e.Source, e.Target)
	if existed {
		s.store.Add(key, 1, 1)
		return sample.Outcome{Action: sample.Merged, Key: key}, nil
	}

	if !s.index.Full() {
		s.store.Insert(key, 1, 1)
		s.index.Append(key)
		return sample.Outcome{Action: sample.Inserted, Key: key}, nil
	}

	slot, ok := s.pickSlot()
	if !ok {
		return sample.Outcome{Action: sample.Rejected, Key: key}, nil
	}

	evicted := s.index.Replace(slot, key)
	if !s.store.Remove(evicted) {
		panic(fmt.Sprintf("reservoir: slot %d names %s which is not in the store", slot, evicted))
	}
	s.store.Insert(key, 1, 1)
	return sample.Outcome{Action: sample.Replaced, Key: key, Evicted: evicted}, nil
}

// pickSlot chooses the slot a new edge evicts, or reports rejection.
//
// For ModeReservoir a position j is drawn uniformly from [0, N); the edge is
// admitted iff j < R, which happens with probability R/N, and j is then
// uniform over the R slots.
func (s *Sampler) pickSlot() (int, bool) {
	if s.mode == ModeWindow {
		return s.rng.Intn(s.capacity), true
	}
	j := s.rng.Int63n(s.seen)
	if j >= int64(s.capacity) {
		return 0, false
	}
	return int(j), true
}
