package decay

import (
	"github.com/orneryd/edgesample/pkg/sample"
)

// Biased is the timestamp-triggered biased decay policy (SBias).
//
// The policy watches the step key of every record. When it changes, the
// whole store is multiplied by AttFactor and entries with weight strictly
// below Threshold are pruned, and only then is the new record applied. The
// result is a sample biased towards edges that are both active and recent.
//
// Unit boundaries do not trigger decay: a unit may span many steps and a
// step may span many units.
type Biased struct {
	cfg     *Config
	store   *sample.Store
	current string
	started bool
	decays  int
}

// NewBiased creates a biased decay policy. A nil cfg uses DefaultConfig.
func NewBiased(cfg *Config) (*Biased, error) {
	cfg = cfg.orDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Biased{cfg: cfg, store: sample.NewStore()}, nil
}

// Name implements sample.Policy.
func (p *Biased) Name() string { return "biased" }

// Store implements sample.Policy.
func (p *Biased) Store() *sample.Store { return p.store }

// CurrentStep returns the step of the last applied record and whether any
// record has been applied yet.
func (p *Biased) CurrentStep() (string, bool) { return p.current, p.started }

// Decays returns how many step decays have run.
func (p *Biased) Decays() int { return p.decays }

// Begin implements sample.Policy. The step marker survives unit boundaries.
func (p *Biased) Begin() {}

// Offer implements sample.Policy.
func (p *Biased) Offer(e sample.Edge) (sample.Outcome, error) {
	if e.Time.IsZero() {
		return sample.Outcome{}, sample.ErrMissingTimestamp
	}

	step := p.cfg.Step.StepKey(e.Time)
	pruned := 0
	if p.started && step != p.current {
		pruned = p.Decay(sample.TriggerStep)
	}

	key, existed := p.store.Observe(e.Source, e.Target)
	p.current = step
	p.started = true

	action := sample.Inserted
	if existed {
		action = sample.Merged
	}
	return sample.Outcome{Action: action, Key: key, Pruned: pruned}, nil
}

// Decay implements sample.Policy. Only TriggerStep has an effect.
func (p *Biased) Decay(trigger sample.Trigger) int {
	if trigger != sample.TriggerStep {
		return 0
	}
	p.decays++
	p.store.Scale(p.cfg.AttFactor)
	return p.store.Prune(p.cfg.Threshold, sample.PruneBelow)
}
