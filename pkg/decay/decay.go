// Package decay implements the forgetting policies for edge samples.
//
// Instead of a fixed number of slots, the decay policies keep every edge
// whose weight is still above a threshold. Weights shrink multiplicatively
// by an attenuation factor, so edges that stop occurring fade out and are
// pruned, while active edges are kept alive by new occurrences.
//
// Two policies are provided:
//   - Smoothing: exponential smoothing per input unit. At the end of a unit
//     the stored weights are multiplied by AttFactor and the unit's own
//     occurrence counts by (1 - AttFactor) before they are merged. Entries
//     with weight <= Threshold are pruned.
//   - Biased: timestamp-triggered decay (SBias). Whenever the step key of
//     an incoming record differs from the previous one, every weight is
//     multiplied by AttFactor and entries with weight < Threshold are pruned
//     before the record itself is applied.
//
// The two threshold comparisons differ on purpose and are fixed per policy.
//
// Example Usage:
//
//	cfg := decay.DefaultConfig()
//	cfg.AttFactor = 0.2
//	cfg.Threshold = 0
//
//	policy, err := decay.NewSmoothing(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	policy.Begin()
//	policy.Offer(sample.Edge{Source: "A", Target: "B"})
//	policy.Decay(sample.TriggerUnit)
//	// A,B now has weight 0.8
//
// ELI12 (Explain Like I'm 12):
//
// Imagine a notebook where you tally every time two friends call each other.
// At the end of each day you shrink every tally a bit (multiply by the
// factor). Friends who keep calling stay in the notebook. Friends who never
// call again shrink and shrink until their tally is too small to matter, and
// then you erase them. That erasing line is the threshold.
package decay

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidAttFactor is returned when AttFactor is outside [0, 1].
	ErrInvalidAttFactor = errors.New("decay: att factor must be within [0, 1]")
	// ErrInvalidThreshold is returned when Threshold is negative.
	ErrInvalidThreshold = errors.New("decay: threshold must be >= 0")
	// ErrUnknownGranularity is returned for an unrecognised step name.
	ErrUnknownGranularity = errors.New("decay: unknown step granularity")
)

// Granularity is the resolution at which timestamps are grouped into steps.
type Granularity string

const (
	StepSecond Granularity = "second"
	StepMinute Granularity = "minute"
	StepHour   Granularity = "hour"
	StepDay    Granularity = "day"
	StepMonth  Granularity = "month"
	StepYear   Granularity = "year"
)

// stepLayouts truncate a timestamp to its step by formatting it.
var stepLayouts = map[Granularity]string{
	StepSecond: "2006-01-02T15:04:05",
	StepMinute: "2006-01-02T15:04",
	StepHour:   "2006-01-02T15",
	StepDay:    "2006-01-02",
	StepMonth:  "2006-01",
	StepYear:   "2006",
}

// ParseGranularity validates a step name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if _, ok := stepLayouts[g]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
	return g, nil
}

// StepKey returns the step a timestamp belongs to. Two records fall in the
// same step iff their keys are equal.
func (g Granularity) StepKey(t time.Time) string {
	layout, ok := stepLayouts[g]
	if !ok {
		layout = stepLayouts[StepDay]
	}
	return t.Format(layout)
}

// Config holds the forgetting parameters shared by both policies.
//
// Example:
//
//	cfg := &decay.Config{
//		AttFactor: 0.5, // halve old weight every step
//		Threshold: 0.1, // forget edges whose weight drops under 0.1
//		Step:      decay.StepDay,
//	}
type Config struct {
	// AttFactor is the multiplicative decay applied to stored weights.
	//
	// Range: [0, 1]. 1 keeps everything (with Threshold 0 the Biased policy
	// then reproduces the full weighted network). 0 forgets the past at
	// every decay.
	AttFactor float64

	// Threshold is the pruning line.
	//
	// Range: >= 0, usually up to the highest edge weight in the stream;
	// setting it that high forgets the whole network.
	Threshold float64

	// Step groups timestamps for the Biased policy. Ignored by Smoothing.
	//
	// Default: day
	Step Granularity
}

// DefaultConfig returns the parameters used when nothing is configured.
//
// Defaults:
//   - AttFactor: 1.0 (no forgetting)
//   - Threshold: 0.0
//   - Step: day
func DefaultConfig() *Config {
	return &Config{
		AttFactor: 1.0,
		Threshold: 0.0,
		Step:      StepDay,
	}
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if c.AttFactor < 0 || c.AttFactor > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidAttFactor, c.AttFactor)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.Threshold)
	}
	if c.Step != "" {
		if _, err := ParseGranularity(string(c.Step)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) orDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Step == "" {
		out.Step = StepDay
	}
	return &out
}
