// Package engine drives a sampling policy over a sequence of input units.
//
// For each unit the engine opens the unit's file, offers every well-formed
// record to the policy, completes the unit (Decay with sample.TriggerUnit),
// and emits a snapshot of the live sample to its sinks. Units are processed
// in order and one at a time; an Engine is not safe for concurrent use.
//
// Failures are reported per unit and never stop the run:
//   - a unit whose file cannot be opened is skipped and the sample is left
//     untouched
//   - a malformed record is recorded as an Issue and skipped
//   - a read error part-way through marks the unit failed; no snapshot is
//     emitted and none of the unit's records reach the policy
//   - a snapshot write failure is reported on the unit; the sample is kept
//
// Example:
//
//	policy, _ := engine.NewPolicy(engine.PolicyOptions{Kind: engine.KindBiased, AttFactor: 0.5}, nil)
//	e := engine.New(policy, stream.NewDir("./calls", "%d"),
//		engine.WithSinks(snapshot.NewWriter("./samples", "%d")),
//		engine.WithLogger(logger),
//	)
//	report, err := e.Run(ctx, 1, 30)
package engine

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orneryd/edgesample/pkg/metrics"
	"github.com/orneryd/edgesample/pkg/sample"
	"github.com/orneryd/edgesample/pkg/snapshot"
	"github.com/orneryd/edgesample/pkg/stream"
)

// Source opens input units by number. stream.Dir implements it.
type Source interface {
	Open(unit int) (io.ReadCloser, error)
}

// Status is the result of processing one unit.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// UnitReport describes one processed unit.
type UnitReport struct {
	Unit   int
	Status Status
	// Records is the number of edges offered to the policy.
	Records int
	// Issues are the records that were skipped, in line order.
	Issues  []stream.Issue
	Actions map[sample.Action]int
	// Evictions counts entries displaced by a new edge.
	Evictions int
	// Pruned counts entries removed by decay, both step and unit triggered.
	Pruned int
	// StepDecays counts timestamp step boundaries crossed in this unit.
	StepDecays int
	StoreSize  int
	Summary    snapshot.Summary
	// Err is set when the unit was skipped or failed.
	Err error
	// WriteErr is set when a sink rejected the snapshot.
	WriteErr error
	Duration time.Duration
}

// Report summarises a run.
type Report struct {
	RunID   string
	Policy  string
	Units   []UnitReport
	Elapsed time.Duration
}

// Count returns how many units ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == s {
			n++
		}
	}
	return n
}

// WriteFailures returns how many snapshots could not be written.
func (r *Report) WriteFailures() int {
	n := 0
	for _, u := range r.Units {
		if u.WriteErr != nil {
			n++
		}
	}
	return n
}

// Engine runs one policy over a Source.
type Engine struct {
	policy     sample.Policy
	source     Source
	sinks      snapshot.MultiSink
	metrics    *metrics.Metrics
	log        zerolog.Logger
	runID      string
	streamOpts stream.Options
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSinks adds snapshot sinks.
func WithSinks(sinks ...snapshot.Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithMetrics replaces the engine's private metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithStreamOptions sets how records are parsed.
func WithStreamOptions(opts stream.Options) Option {
	return func(e *Engine) { e.streamOpts = opts }
}

// WithClock sets the time source used for snapshot timestamps and timing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Without options it parses records with
// stream.DefaultOptions, emits to no sinks and logs nothing.
func New(policy sample.Policy, source Source, opts ...Option) *Engine {
	e := &Engine{
		policy:     policy,
		source:     source,
		log:        zerolog.Nop(),
		runID:      uuid.NewString(),
		streamOpts: stream.DefaultOptions(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if k, err := ParseKind(policy.Name()); err == nil && k.NeedsTime() {
		e.streamOpts.RequireTime = true
	}
	e.log = e.log.With().Str("run", e.runID).Str("policy", policy.Name()).Logger()
	return e
}

// RunID returns the identifier attached to every snapshot of this engine.
func (e *Engine) RunID() string { return e.runID }

// Policy returns the policy being driven.
func (e *Engine) Policy() sample.Policy { return e.policy }

// Metrics returns the collectors the engine updates.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Run processes units first..last in order. Cancellation is checked between
// units; when ctx is done Run returns the partial report and ctx.Err().
func (e *Engine) Run(ctx context.Context, first, last int) (*Report, error) {
	start := e.now()
	report := &Report{RunID: e.runID, Policy: e.policy.Name()}

	e.log.Info().Int("first", first).Int("last", last).Msg("run started")

	var err error
	for unit := first; unit <= last; unit++ {
		if err = ctx.Err(); err != nil {
			e.log.Warn().Int("unit", unit).Err(err).Msg("run cancelled")
			break
		}
		report.Units = append(report.Units, e.ProcessUnit(unit))
	}

	report.Elapsed = e.now().Sub(start)
	e.log.Info().
		Int("units", len(report.Units)).
		Int("ok", report.Count(StatusOK)).
		Int("skipped", report.Count(StatusSkipped)).
		Int("failed", report.Count(StatusFailed)).
		Int64("elapsed_ms", report.Elapsed.Milliseconds()).
		Msg("run finished")
	return report, err
}

// ProcessUnit reads one unit, completes it and emits its snapshot.
func (e *Engine) ProcessUnit(unit int) (rep UnitReport) {
	start := e.now()
	rep = UnitReport{Unit: unit, Actions: make(map[sample.Action]int)}
	name := e.policy.Name()
	log := e.log.With().Int("unit", unit).Logger()

	defer func() {
		rep.Duration = e.now().Sub(start)
		rep.StoreSize = e.policy.Store().Len()
		e.metrics.Units.WithLabelValues(string(rep.Status)).Inc()
		e.metrics.LastUnit.Set(float64(unit))
		if sp, ok := e.policy.(interface{ Seen() int64 }); ok {
			e.metrics.StreamPosition.Set(float64(sp.Seen()))
		}
		e.metrics.StoreSize.Set(float64(rep.StoreSize))
		e.metrics.StoreWeight.Set(e.policy.Store().TotalWeight())
		e.metrics.UnitDuration.Observe(rep.Duration.Seconds())
	}()

	rc, err := e.source.Open(unit)
	if err != nil {
		rep.Status = StatusSkipped
		rep.Err = err
		log.Error().Err(err).Msg("unit skipped")
		return rep
	}
	defer rc.Close()

	// The whole unit is read before the policy sees any record, so a read
	// error leaves the sample exactly as the previous unit left it.
	edges, parsed, err := readUnit(rc, e.streamOpts)
	if err != nil {
		rep.Status = StatusFailed
		rep.Err = err
		rep.Issues = parsed
		e.countIssues(log, rep.Issues)
		log.Error().Err(err).Int("read", len(edges)).Msg("unit failed")
		return rep
	}

	e.policy.Begin()
	decaysBefore := e.stepDecays()
	var rejected []stream.Issue

	for _, edge := range edges {
		out, err := e.policy.Offer(edge)
		if err != nil {
			rejected = append(rejected, stream.Issue{Line: edge.Line, Reason: err.Error()})
			continue
		}
		rep.Records++
		rep.Actions[out.Action]++
		e.metrics.Edges.WithLabelValues(name, out.Action.String()).Inc()
		if out.Action == sample.Replaced {
			rep.Evictions++
			e.metrics.Evictions.WithLabelValues(name).Inc()
		}
		if out.Pruned > 0 {
			rep.Pruned += out.Pruned
			e.metrics.Pruned.WithLabelValues(name, sample.TriggerStep.String()).Add(float64(out.Pruned))
		}
	}

	rep.Issues = mergeIssues(parsed, rejected)
	e.countIssues(log, rep.Issues)

	rep.StepDecays = e.stepDecays() - decaysBefore
	if rep.StepDecays > 0 {
		log.Debug().Int("step_decays", rep.StepDecays).Msg("step decay applied")
	}

	if pruned := e.policy.Decay(sample.TriggerUnit); pruned > 0 {
		rep.Pruned += pruned
		e.metrics.Pruned.WithLabelValues(name, sample.TriggerUnit.String()).Add(float64(pruned))
	}

	rep.Status = StatusOK
	entries := snapshot.Collect(e.policy.Store())
	rep.Summary = snapshot.Summarize(entries)

	if len(e.sinks) > 0 {
		snap := &snapshot.Snapshot{
			RunID:     e.runID,
			Unit:      unit,
			Policy:    name,
			CreatedAt: e.now().UTC(),
			Entries:   entries,
		}
		if err := e.sinks.Emit(snap); err != nil {
			rep.WriteErr = err
			log.Error().Err(err).Msg("snapshot write failed")
		}
	}

	log.Info().
		Str("status", string(rep.Status)).
		Int("records", rep.Records).
		Int("issues", len(rep.Issues)).
		Int("evictions", rep.Evictions).
		Int("pruned", rep.Pruned).
		Int("edges", rep.Summary.Edges).
		Int("nodes", rep.Summary.Nodes).
		Float64("total_weight", rep.Summary.TotalWeight).
		Float64("mean_weight", rep.Summary.MeanWeight).
		Msg("unit processed")
	return rep
}

// readUnit parses every record of one unit. On a read error it returns the
// edges and issues seen so far together with the error.
func readUnit(rc io.Reader, opts stream.Options) ([]sample.Edge, []stream.Issue, error) {
	r := stream.NewReader(rc, opts)
	var edges []sample.Edge
	for {
		edge, err := r.Next()
		if errors.Is(err, io.EOF) {
			return edges, r.Issues(), nil
		}
		if err != nil {
			return edges, r.Issues(), err
		}
		edges = append(edges, edge)
	}
}

func (e *Engine) countIssues(log zerolog.Logger, issues []stream.Issue) {
	for _, is := range issues {
		log.Warn().Int("line", is.Line).Str("reason", is.Reason).Msg("record skipped")
	}
	e.metrics.Issues.Add(float64(len(issues)))
}

func (e *Engine) stepDecays() int {
	if d, ok := e.policy.(interface{ Decays() int }); ok {
		return d.Decays()
	}
	return 0
}

// mergeIssues combines parse issues and policy rejections in line order.
func mergeIssues(parsed, rejected []stream.Issue) []stream.Issue {
	if len(rejected) == 0 {
		return parsed
	}
	out := make([]stream.Issue, 0, len(parsed)+len(rejected))
	out = append(out, parsed...)
	out = append(out, rejected...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}
