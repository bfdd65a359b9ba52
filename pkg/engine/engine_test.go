package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/edgesample/pkg/config"
	"github.com/orneryd/edgesample/pkg/decay"
	"github.com/orneryd/edgesample/pkg/reservoir"
	"github.com/orneryd/edgesample/pkg/sample"
	"github.com/orneryd/edgesample/pkg/snapshot"
)

// memSource serves units from memory. A unit missing from units behaves like
// a missing file; a unit listed in broken fails after its text is read.
type memSource struct {
	units  map[int]string
	broken map[int]bool
}

func (m *memSource) Open(unit int) (io.ReadCloser, error) {
	text, ok := m.units[unit]
	if !ok {
		return nil, fmt.Errorf("open unit %d: %w", unit, os.ErrNotExist)
	}
	if m.broken[unit] {
		return io.NopCloser(io.MultiReader(strings.NewReader(text), errReader{})), nil
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

var errDisk = errors.New("disk on fire")

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errDisk }

type recordingSink struct {
	snaps []*snapshot.Snapshot
	fail  bool
}

func (r *recordingSink) Emit(s *snapshot.Snapshot) error {
	if r.fail {
		return errors.New("sink full")
	}
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recordingSink) last() *snapshot.Snapshot {
	return r.snaps[len(r.snaps)-1]
}

func weights(entries []sample.Entry) map[string]float64 {
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.Key.String()] = e.Weight
	}
	return out
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func mustPolicy(t *testing.T, opts PolicyOptions) sample.Policy {
	t.Helper()
	p, err := NewPolicy(opts, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return p
}

func TestNewPolicy(t *testing.T) {
	t.Run("every kind", func(t *testing.T) {
		for _, k := range Kinds {
			p, err := NewPolicy(PolicyOptions{Kind: k, Capacity: 3, AttFactor: 0.5}, nil)
			require.NoError(t, err, k)
			assert.Equal(t, string(k), p.Name())
			assert.Equal(t, 0, p.Store().Len())
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewPolicy(PolicyOptions{Kind: "lru"}, nil)
		assert.ErrorIs(t, err, ErrUnknownKind)
		_, err = ParseKind("lru")
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, err := NewPolicy(PolicyOptions{Kind: KindReservoir}, nil)
		assert.Error(t, err)
		_, err = NewPolicy(PolicyOptions{Kind: KindSmoothing, AttFactor: 2}, nil)
		assert.ErrorIs(t, err, decay.ErrInvalidAttFactor)
		_, err = NewPolicy(PolicyOptions{Kind: KindBiased, AttFactor: 0.5, Threshold: -1}, nil)
		assert.ErrorIs(t, err, decay.ErrInvalidThreshold)
	})

	t.Run("only biased needs time", func(t *testing.T) {
		assert.True(t, KindBiased.NeedsTime())
		assert.False(t, KindSmoothing.NeedsTime())
		assert.False(t, KindReservoir.NeedsTime())
	})
}

func TestEngine_ReservoirScenario(t *testing.T) {
	src := &memSource{units: map[int]string{
		1: "SOURCE,TARGET\nA,B\nB,A\nC,D\n",
		2: "E,F\nG,H\nA,B\n",
	}}
	sink := &recordingSink{}
	p := mustPolicy(t, PolicyOptions{Kind: KindReservoir, Capacity: 2})
	e := New(p, src, WithSinks(sink), WithClock(fixedClock()))

	report, err := e.Run(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, report.Units, 2)

	u1 := report.Units[0]
	assert.Equal(t, StatusOK, u1.Status)
	assert.Equal(t, 3, u1.Records)
	assert.Equal(t, 1, u1.Actions[sample.Merged])
	assert.Equal(t, 2, u1.Actions[sample.Inserted])
	assert.Equal(t, map[string]float64{"A,B": 2, "C,D": 1}, weights(sink.snaps[0].Entries))

	assert.LessOrEqual(t, report.Units[1].StoreSize, 2)
	assert.Len(t, sink.snaps, 2)
	assert.Equal(t, e.RunID(), sink.last().RunID)
	assert.Equal(t, "reservoir", sink.last().Policy)
	assert.Equal(t, 2, sink.last().Unit)
	assert.True(t, report.Elapsed > 0)
	assert.Equal(t, 6.0, testutil.ToFloat64(e.Metrics().StreamPosition))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics().LastUnit))
}

func TestEngine_SmoothingScenario(t *testing.T) {
	src := &memSource{units: map[int]string{1: "A,B\n", 2: "B,A\n"}}
	sink := &recordingSink{}
	p := mustPolicy(t, PolicyOptions{Kind: KindSmoothing, AttFactor: 0.2})
	e := New(p, src, WithSinks(sink))

	_, err := e.Run(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, sink.snaps, 2)

	assert.InDelta(t, 0.8, weights(sink.snaps[0].Entries)["A,B"], 1e-9)
	assert.InDelta(t, 0.96, weights(sink.snaps[1].Entries)["A,B"], 1e-9)
}

func TestEngine_BiasedScenario(t *testing.T) {
	src := &memSource{units: map[int]string{
		1: "A,B,2019-03-01 10:00:00\nB,A,2019-03-01 18:30:00\n",
		2: "C,D,2019-03-02 09:00:00\n",
	}}
	sink := &recordingSink{}
	p := mustPolicy(t, PolicyOptions{Kind: KindBiased, AttFactor: 0.5, Step: decay.StepDay})
	e := New(p, src, WithSinks(sink))

	report, err := e.Run(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Units[0].StepDecays)
	assert.Equal(t, map[string]float64{"A,B": 2}, weights(sink.snaps[0].Entries))

	assert.Equal(t, 1, report.Units[1].StepDecays)
	assert.Equal(t, map[string]float64{"A,B": 1, "C,D": 1}, weights(sink.snaps[1].Entries))
}

func TestEngine_MissingUnitIsSkipped(t *testing.T) {
	src := &memSource{units: map[int]string{1: "A,B\n", 3: "C,D\n"}}
	sink := &recordingSink{}
	p := mustPolicy(t, PolicyOptions{Kind: KindReservoir, Capacity: 10})
	e := New(p, src, WithSinks(sink))

	report, err := e.Run(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, report.Units, 3)

	skipped := report.Units[1]
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.ErrorIs(t, skipped.Err, os.ErrNotExist)
	assert.Equal(t, 1, skipped.StoreSize)

	assert.Equal(t, 2, report.Count(StatusOK))
	assert.Equal(t, 1, report.Count(StatusSkipped))
	require.Len(t, sink.snaps, 2)
	assert.Equal(t, 1, sink.snaps[0].Unit)
	assert.Equal(t, 3, sink.snaps[1].Unit)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Units.WithLabelValues("skipped")))
}

func TestEngine_MalformedRecords(t *testing.T) {
	t.Run("reservoir", func(t *testing.T) {
		src := &memSource{units: map[int]string{1: "A,B\nlonely\n,B\nC,D\n"}}
		p := mustPolicy(t, PolicyOptions{Kind: KindReservoir, Capacity: 10})
		e := New(p, src)

		rep := e.ProcessUnit(1)
		assert.Equal(t, StatusOK, rep.Status)
		assert.Equal(t, 2, rep.Records)
		require.Len(t, rep.Issues, 2)
		assert.Equal(t, 2, rep.Issues[0].Line)
		assert.Equal(t, 3, rep.Issues[1].Line)
		assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics().Issues))
	})

	t.Run("biased requires timestamps", func(t *testing.T) {
		src := &memSource{units: map[int]string{1: strings.Join([]string{
			"A,B,2019-03-01 10:00:00",
			"C,D",
			"E,F,yesterday",
			"G,H,2019-03-01 11:00:00",
		}, "\n")}}
		p := mustPolicy(t, PolicyOptions{Kind: KindBiased, AttFactor: 0.5})
		e := New(p, src)

		rep := e.ProcessUnit(1)
		assert.Equal(t, StatusOK, rep.Status)
		assert.Equal(t, 2, rep.Records)
		require.Len(t, rep.Issues, 2)
		assert.Equal(t, 2, rep.Issues[0].Line)
		assert.Equal(t, 3, rep.Issues[1].Line)
		assert.Equal(t, 2, p.Store().Len())
	})

	t.Run("policy rejection becomes an issue", func(t *testing.T) {
		src := &memSource{units: map[int]string{1: "A,B\nC,D,2019-03-01 10:00:00\n"}}
		p := mustPolicy(t, PolicyOptions{Kind: KindBiased, AttFactor: 0.5})
		// Without RequireTime the reader passes the untimed record through
		// and the policy rejects it.
		e := New(p, src)
		e.streamOpts.RequireTime = false

		rep := e.ProcessUnit(1)
		require.Len(t, rep.Issues, 1)
		assert.Equal(t, 1, rep.Issues[0].Line)
		assert.Equal(t, sample.ErrMissingTimestamp.Error(), rep.Issues[0].Reason)
		assert.Equal(t, 1, rep.Records)
	})
}

func TestEngine_WriteFailureKeepsSample(t *testing.T) {
	src := &memSource{units: map[int]string{1: "A,B\n", 2: "C,D\n"}}
	sink := &recordingSink{fail: true}
	p := mustPolicy(t, PolicyOptions{Kind: KindReservoir, Capacity: 10})
	e := New(p, src, WithSinks(sink))

	rep := e.ProcessUnit(1)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Error(t, rep.WriteErr)
	assert.Equal(t, 1, p.Store().Len())

	sink.fail = false
	rep = e.ProcessUnit(2)
	assert.NoError(t, rep.WriteErr)
	require.Len(t, sink.snaps, 1)
	assert.Len(t, sink.snaps[0].Entries, 2)
}

func TestEngine_ReadFailureEmitsNothing(t *testing.T) {
	run := func(t *testing.T, opts PolicyOptions, units map[int]string) (sample.Policy, *Report, *recordingSink) {
		t.Helper()
		src := &memSource{units: units, broken: map[int]bool{2: true}}
		sink := &recordingSink{}
		p := mustPolicy(t, opts)
		e := New(p, src, WithSinks(sink))

		report, err := e.Run(context.Background(), 1, 3)
		require.NoError(t, err)
		require.Len(t, report.Units, 3)

		failed := report.Units[1]
		assert.Equal(t, StatusFailed, failed.Status)
		assert.ErrorIs(t, failed.Err, errDisk)
		assert.Equal(t, 0, failed.Records)
		assert.Equal(t, 1, failed.StoreSize)

		require.Len(t, sink.snaps, 2)
		assert.Equal(t, 1, sink.snaps[0].Unit)
		assert.Equal(t, 3, sink.snaps[1].Unit)
		return p, report, sink
	}

	t.Run("smoothing", func(t *testing.T) {
		p, _, sink := run(t, PolicyOptions{Kind: KindSmoothing, AttFactor: 0.5},
			map[int]string{1: "A,B\n", 2: "C,D\nE,F\n", 3: "A,B\n"})

		assert.Equal(t, 0, p.(*decay.Smoothing).Pending())
		assert.Equal(t, map[string]float64{"A,B": 0.75}, weights(sink.snaps[1].Entries))
	})

	t.Run("reservoir", func(t *testing.T) {
		p, _, sink := run(t, PolicyOptions{Kind: KindReservoir, Capacity: 10},
			map[int]string{1: "A,B\n", 2: "C,D\nE,F\n", 3: "B,A\n"})

		assert.Equal(t, map[string]float64{"A,B": 2}, weights(sink.snaps[1].Entries))
		assert.Equal(t, int64(2), p.(*reservoir.Sampler).Seen())
	})

	t.Run("biased", func(t *testing.T) {
		p, report, sink := run(t, PolicyOptions{Kind: KindBiased, AttFactor: 0.5},
			map[int]string{
				1: "A,B,2019-03-01 10:00:00\n",
				2: "C,D,2019-03-05 10:00:00\nE,F,2019-03-06 10:00:00\n",
				3: "B,A,2019-03-01 12:00:00\n",
			})

		b := p.(*decay.Biased)
		step, started := b.CurrentStep()
		assert.True(t, started)
		assert.Equal(t, "2019-03-01", step)
		assert.Equal(t, 0, b.Decays())
		assert.Equal(t, 0, report.Units[1].StepDecays)
		assert.Equal(t, map[string]float64{"A,B": 2}, weights(sink.snaps[1].Entries))
	})
}

func TestEngine_CancelBetweenUnits(t *testing.T) {
	src := &memSource{units: map[int]string{1: "A,B\n", 2: "C,D\n", 3: "E,F\n"}}
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelSink{cancel: cancel}
	p := mustPolicy(t, PolicyOptions{Kind: KindReservoir, Capacity: 10})
	e := New(p, src, WithSinks(sink))

	report, err := e.Run(ctx, 1, 3)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Units, 1)
	assert.Equal(t, StatusOK, report.Units[0].Status)
	assert.Equal(t, 1, p.Store().Len())
}

type cancelSink struct{ cancel context.CancelFunc }

func (c *cancelSink) Emit(*snapshot.Snapshot) error {
	c.cancel()
	return nil
}

func TestEngine_MetricsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	src := &memSource{units: map[int]string{
		1: "A,B,2019-03-01 10:00:00\nC,D,2019-03-02 10:00:00\nbad\n",
	}}
	p := mustPolicy(t, PolicyOptions{Kind: KindBiased, AttFactor: 0.5, Threshold: 0.6})
	e := New(p, src, WithLogger(log), WithRunID("run-42"))

	rep := e.ProcessUnit(1)
	assert.Equal(t, 1, rep.Pruned)

	m := e.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Edges.WithLabelValues("biased", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pruned.WithLabelValues("biased", "step")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Units.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastUnit))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamPosition))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreSize))

	out := buf.String()
	assert.Contains(t, out, `"run":"run-42"`)
	assert.Contains(t, out, `"message":"unit processed"`)
	assert.Contains(t, out, `"message":"record skipped"`)
	assert.Contains(t, out, `"message":"step decay applied"`)
}

func TestFromConfig(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(in, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(in, "1"), []byte("SOURCE,TARGET,TIMESTAMP\nA,B,2019-03-01 10:00:00\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "2"), []byte("B,A,2019-03-01 12:00:00\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Input.Dir = in
	cfg.Input.LastUnit = 2
	cfg.Output.Dir = filepath.Join(root, "out")
	cfg.Output.ArchiveDir = filepath.Join(root, "archive")
	cfg.Sampling.Policy = config.PolicyBiased
	cfg.Sampling.AttFactor = 0.5

	b, err := FromConfig(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer b.Close()

	report, err := b.Run(context.Background(), cfg.Input.FirstUnit, cfg.Input.LastUnit)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(StatusOK))
	assert.Equal(t, 0, report.WriteFailures())

	data, err := os.ReadFile(b.Writer.Path(2))
	require.NoError(t, err)
	assert.Equal(t, "SOURCE,TARGET,WEIGHT\nA,B,2\n", string(data))

	snap, err := b.Archive.Get(b.RunID(), 2)
	require.NoError(t, err)
	assert.Equal(t, "biased", snap.Policy)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, 2, snap.Entries[0].Count)

	metas, err := b.Archive.List(b.RunID())
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestFromConfig_Invalid(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sampling.Policy = "lru"
	_, err := FromConfig(cfg, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestFromConfig_NoArchive(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Dir = t.TempDir()
	b, err := FromConfig(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Nil(t, b.Archive)
	assert.NoError(t, b.Close())
}

func TestFromConfig_SeedIsLogged(t *testing.T) {
	build := func(t *testing.T, seed int64) (*Built, string) {
		t.Helper()
		cfg := config.DefaultConfig()
		cfg.Output.Dir = t.TempDir()
		cfg.Sampling.Policy = config.PolicyReservoir
		cfg.Sampling.Capacity = 10
		cfg.Sampling.Seed = seed

		var buf bytes.Buffer
		b, err := FromConfig(cfg, zerolog.New(&buf), nil)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b, buf.String()
	}

	t.Run("configured", func(t *testing.T) {
		b, out := build(t, 7)
		assert.Equal(t, int64(7), b.Seed)
		assert.Contains(t, out, `"message":"policy configured"`)
		assert.Contains(t, out, `"seed":7`)
	})

	t.Run("from clock", func(t *testing.T) {
		b, out := build(t, 0)
		require.NotZero(t, b.Seed)
		assert.Contains(t, out, fmt.Sprintf(`"seed":%d`, b.Seed))
	})
}
