package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/orneryd/edgesample/pkg/decay"
	"github.com/orneryd/edgesample/pkg/reservoir"
	"github.com/orneryd/edgesample/pkg/sample"
)

// ErrUnknownKind is returned for a policy name that is not one of the Kind
// constants.
var ErrUnknownKind = errors.New("engine: unknown policy")

// Kind names a sampling policy.
type Kind string

const (
	KindReservoir Kind = "reservoir"
	KindWindow    Kind = "window"
	KindSmoothing Kind = "smoothing"
	KindBiased    Kind = "biased"
)

// Kinds lists every selectable policy.
var Kinds = []Kind{KindReservoir, KindWindow, KindSmoothing, KindBiased}

// ParseKind maps a policy name to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// NeedsTime reports whether the policy reads record timestamps.
func (k Kind) NeedsTime() bool {
	return k == KindBiased
}

// PolicyOptions parameterise NewPolicy. Capacity is read by the slot-based
// kinds; AttFactor, Threshold and Step by the decay kinds.
type PolicyOptions struct {
	Kind      Kind
	Capacity  int
	AttFactor float64
	Threshold float64
	Step      decay.Granularity
	// Seed for the random source when NewPolicy is given none. 0 seeds
	// from the clock.
	Seed int64
}

// NewPolicy builds the policy named by opts.Kind. rng is only used by the
// reservoir and window kinds; a nil rng is created from opts.Seed.
func NewPolicy(opts PolicyOptions, rng *rand.Rand) (sample.Policy, error) {
	switch opts.Kind {
	case KindReservoir, KindWindow:
		if rng == nil {
			seed := opts.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng = rand.New(rand.NewSource(seed))
		}
		mode := reservoir.ModeReservoir
		if opts.Kind == KindWindow {
			mode = reservoir.ModeWindow
		}
		return reservoir.New(mode, opts.Capacity, rng)

	case KindSmoothing, KindBiased:
		cfg := &decay.Config{
			AttFactor: opts.AttFactor,
			Threshold: opts.Threshold,
			Step:      opts.Step,
		}
		if opts.Kind == KindSmoothing {
			return decay.NewSmoothing(cfg)
		}
		return decay.NewBiased(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
}
