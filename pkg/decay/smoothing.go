package decay

import (
	"github.com/orneryd/edgesample/pkg/sample"
)

// Smoothing is the exponential smoothing policy.
//
// Edges offered during a unit are only counted into a pending batch. When
// the unit completes, Decay(sample.TriggerUnit) blends the batch into the
// store:
//
//	stored  = stored * AttFactor                (every entry, touched or not)
//	batch   = batch  * (1 - AttFactor)
//	stored += batch                             (new keys take the batch term)
//	prune weight <= Threshold
//
// Both AttFactor extremes work without special cases: 0 replaces the sample
// with the latest unit, 1 freezes it (new edges get zero weight and are
// pruned immediately).
type Smoothing struct {
	cfg   *Config
	store *sample.Store
	batch *sample.Store
}

// NewSmoothing creates a smoothing policy. A nil cfg uses DefaultConfig.
func NewSmoothing(cfg *Config) (*Smoothing, error) {
	cfg = cfg.orDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Smoothing{
		cfg:   cfg,
		store: sample.NewStore(),
		batch: sample.NewStore(),
	}, nil
}

// Name implements sample.Policy.
func (p *Smoothing) Name() string { return "smoothing" }

// Store implements sample.Policy.
func (p *Smoothing) Store() *sample.Store { return p.store }

// Pending returns the number of distinct edges counted in the current unit.
func (p *Smoothing) Pending() int { return p.batch.Len() }

// Begin implements sample.Policy. It discards any batch left over from a
// unit that was not completed.
func (p *Smoothing) Begin() {
	p.batch = sample.NewStore()
}

// Offer implements sample.Policy. The edge is canonicalized against the
// current batch only; it meets the store when the unit is merged.
func (p *Smoothing) Offer(e sample.Edge) (sample.Outcome, error) {
	key, _ := p.batch.Observe(e.Source, e.Target)
	return sample.Outcome{Action: sample.Buffered, Key: key}, nil
}

// Decay implements sample.Policy. Only TriggerUnit has an effect.
func (p *Smoothing) Decay(trigger sample.Trigger) int {
	if trigger != sample.TriggerUnit {
		return 0
	}

	att := p.cfg.AttFactor
	p.batch.Scale(1 - att)
	p.store.Scale(att)

	p.batch.Each(func(e sample.Entry) {
		key, ok := p.store.Resolve(e.Key.Source, e.Key.Target)
		if ok {
			p.store.Add(key, e.Weight, e.Count)
			return
		}
		p.store.Insert(e.Key, e.Weight, e.Count)
	})
	p.batch = sample.NewStore()

	return p.store.Prune(p.cfg.Threshold, sample.PruneAtOrBelow)
}
