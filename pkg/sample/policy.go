package sample

import (
	"errors"
	"time"
)

// ErrMissingTimestamp is returned by policies that need a per-record
// timestamp when an edge arrives without one.
var ErrMissingTimestamp = errors.New("sample: edge has no timestamp")

// Edge is one occurrence read from the stream.
type Edge struct {
	Source string
	Target string
	// Time is zero when the input carries no timestamp column.
	Time time.Time
	// Line is the 1-based input line the edge came from (0 if unknown).
	Line int
}

// Action describes what a policy did with an offered edge.
type Action int

const (
	// Merged means the edge matched a stored key and its weight grew.
	Merged Action = iota
	// Inserted means the edge was new and took a free place in the sample.
	Inserted
	// Replaced means the edge was new and evicted another entry.
	Replaced
	// Rejected means the edge was new and discarded.
	Rejected
	// Buffered means the edge was counted into a pending batch that is
	// merged when the unit completes.
	Buffered
)

var actionNames = [...]string{"merged", "inserted", "replaced", "rejected", "buffered"}

// String implements fmt.Stringer.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Outcome reports the effect of one Offer.
type Outcome struct {
	Action Action
	Key    EdgeKey
	// Evicted is set when Action == Replaced.
	Evicted EdgeKey
	// Pruned counts entries removed by a decay the edge triggered.
	Pruned int
}

// Trigger names the event that asks a policy to decay and prune.
type Trigger int

const (
	// TriggerUnit fires once after an input unit was fully read.
	TriggerUnit Trigger = iota
	// TriggerStep fires when a timestamp step boundary is crossed.
	TriggerStep
)

// String implements fmt.Stringer.
func (t Trigger) String() string {
	if t == TriggerStep {
		return "step"
	}
	return "unit"
}

// Policy is a sampling strategy over a Store.
//
// Policies are driven by one goroutine. For every input unit the caller runs
// Begin, then Offer for each edge in stream order, then Decay(TriggerUnit)
// if the unit was read completely. Policies that react to timestamp changes
// call their own step decay from Offer before applying the edge.
type Policy interface {
	// Name identifies the policy in logs, metrics and archives.
	Name() string
	// Begin starts a new unit and drops any pending per-unit state.
	Begin()
	// Offer decides whether the edge is merged, inserted, evicts another
	// entry or is rejected.
	Offer(e Edge) (Outcome, error)
	// Decay applies the policy's forgetting for trigger and returns the
	// number of pruned entries. Policies that do not react to trigger
	// return 0.
	Decay(trigger Trigger) int
	// Store exposes the live sample for snapshotting. Callers must not
	// mutate it.
	Store() *Store
}
