package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orneryd/edgesample/pkg/config"
	"github.com/orneryd/edgesample/pkg/decay"
	"github.com/orneryd/edgesample/pkg/metrics"
	"github.com/orneryd/edgesample/pkg/snapshot"
	"github.com/orneryd/edgesample/pkg/storage"
	"github.com/orneryd/edgesample/pkg/stream"
)

// Built is an Engine assembled from configuration together with the
// resources it owns.
type Built struct {
	*Engine
	// Writer is the snapshot file sink.
	Writer *snapshot.Writer
	// Archive is nil unless output.archive_dir is set.
	Archive *storage.BadgerArchive
	// Seed is the seed the random source was created with, resolved from
	// the clock when sampling.seed is 0.
	Seed int64
}

// Close releases the archive, if any.
func (b *Built) Close() error {
	if b.Archive == nil {
		return nil
	}
	return b.Archive.Close()
}

// PolicyOptionsFromConfig converts the sampling section.
func PolicyOptionsFromConfig(s config.SamplingConfig) (PolicyOptions, error) {
	kind, err := ParseKind(s.Policy)
	if err != nil {
		return PolicyOptions{}, err
	}
	step, err := decay.ParseGranularity(s.Step)
	if err != nil {
		return PolicyOptions{}, err
	}
	return PolicyOptions{
		Kind:      kind,
		Capacity:  s.Capacity,
		AttFactor: s.AttFactor,
		Threshold: s.Threshold,
		Step:      step,
		Seed:      s.SeedOrNow(),
	}, nil
}

// FromConfig validates cfg and wires a policy, the input directory, the
// snapshot writer and, when configured, the BadgerDB archive.
func FromConfig(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*Built, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	popts, err := PolicyOptionsFromConfig(cfg.Sampling)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(popts, nil)
	if err != nil {
		return nil, err
	}

	sopts := stream.DefaultOptions()
	sopts.TimeColumn = cfg.Input.TimeColumn
	sopts.TimeLayout = cfg.Input.TimeLayout

	b := &Built{
		Writer: snapshot.NewWriter(cfg.Output.Dir, cfg.Output.Pattern),
		Seed:   popts.Seed,
	}
	sinks := []snapshot.Sink{b.Writer}
	if cfg.Output.ArchiveDir != "" {
		b.Archive, err = storage.NewBadgerArchiveWithOptions(storage.BadgerOptions{
			DataDir: cfg.Output.ArchiveDir,
			Logger:  storage.NewBadgerLogger(log),
		})
		if err != nil {
			return nil, fmt.Errorf("opening archive %s: %w", cfg.Output.ArchiveDir, err)
		}
		sinks = append(sinks, b.Archive)
	}

	opts := []Option{
		WithSinks(sinks...),
		WithLogger(log),
		WithStreamOptions(sopts),
	}
	if m != nil {
		opts = append(opts, WithMetrics(m))
	}
	b.Engine = New(policy, stream.NewDir(cfg.Input.Dir, cfg.Input.Pattern), opts...)

	ev := log.Info().Str("run", b.RunID()).Str("policy", string(popts.Kind))
	switch popts.Kind {
	case KindReservoir, KindWindow:
		ev = ev.Int("capacity", popts.Capacity).Int64("seed", popts.Seed)
	default:
		ev = ev.Float64("att_factor", popts.AttFactor).Float64("threshold", popts.Threshold).Str("step", string(popts.Step))
	}
	ev.Msg("policy configured")
	return b, nil
}
