// Package main provides the edgesample CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/edgesample/pkg/config"
	"github.com/orneryd/edgesample/pkg/engine"
	"github.com/orneryd/edgesample/pkg/metrics"
	"github.com/orneryd/edgesample/pkg/snapshot"
	"github.com/orneryd/edgesample/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "edgesample",
		Short: "edgesample - bounded sampling of temporal edge streams",
		Long: `edgesample reads a stream of undirected, repeating edges split into
numbered input units and keeps a bounded, weighted sample of the graph,
writing a snapshot of the sample after every unit.

Policies:
  • reservoir  uniform reservoir sampling (Vitter)
  • window     bounded window, always admits once full
  • smoothing  exponential smoothing per unit
  • biased     timestamp-triggered decay towards recent activity`,
		SilenceUsage: true,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edgesample v%s (%s)\n", version, commit)
		},
	})

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sample a range of input units",
		Long:  "Process input units first..last in order and write one snapshot per unit",
		RunE:  runRun,
	}
	runCmd.Flags().String("config", "", "YAML config file")
	runCmd.Flags().String("policy", "", "Sampling policy (reservoir, window, smoothing, biased)")
	runCmd.Flags().String("input", "", "Input directory with one file per unit")
	runCmd.Flags().String("output", "", "Output directory for snapshots")
	runCmd.Flags().Int("first", 0, "First unit")
	runCmd.Flags().Int("last", 0, "Last unit (inclusive)")
	runCmd.Flags().Int("capacity", 0, "Reservoir size (reservoir, window)")
	runCmd.Flags().Float64("att-factor", 0, "Attenuation factor in [0,1] (smoothing, biased)")
	runCmd.Flags().Float64("threshold", 0, "Pruning threshold (smoothing, biased)")
	runCmd.Flags().Int64("seed", 0, "Random seed, 0 seeds from the clock")
	runCmd.Flags().String("step", "", "Timestamp step for the biased policy (second..year)")
	runCmd.Flags().String("archive", "", "BadgerDB directory archiving every snapshot")
	runCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file at the end")
	runCmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default edgesample.yaml",
		RunE:  runInit,
	}
	initCmd.Flags().String("dir", ".", "Directory for the config file")
	rootCmd.AddCommand(initCmd)

	// Snapshots commands (archive inspection)
	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect archived snapshots",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived snapshots",
		RunE:  runSnapshotsList,
	}
	listCmd.Flags().String("archive", "", "BadgerDB archive directory")
	listCmd.Flags().String("run", "", "Only list this run")
	_ = listCmd.MarkFlagRequired("archive")
	snapshotsCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print one archived snapshot",
		RunE:  runSnapshotsShow,
	}
	showCmd.Flags().String("archive", "", "BadgerDB archive directory")
	showCmd.Flags().String("run", "", "Run identifier")
	showCmd.Flags().Int("unit", 0, "Unit number")
	_ = showCmd.MarkFlagRequired("archive")
	_ = showCmd.MarkFlagRequired("run")
	_ = showCmd.MarkFlagRequired("unit")
	snapshotsCmd.AddCommand(showCmd)
	rootCmd.AddCommand(snapshotsCmd)

	return rootCmd
}

// loadRunConfig layers flags over file and environment configuration.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Sampling.Policy, _ = flags.GetString("policy")
	}
	if flags.Changed("input") {
		cfg.Input.Dir, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		cfg.Output.Dir, _ = flags.GetString("output")
	}
	if flags.Changed("first") {
		cfg.Input.FirstUnit, _ = flags.GetInt("first")
	}
	if flags.Changed("last") {
		cfg.Input.LastUnit, _ = flags.GetInt("last")
	}
	if flags.Changed("capacity") {
		cfg.Sampling.Capacity, _ = flags.GetInt("capacity")
	}
	if flags.Changed("att-factor") {
		cfg.Sampling.AttFactor, _ = flags.GetFloat64("att-factor")
	}
	if flags.Changed("threshold") {
		cfg.Sampling.Threshold, _ = flags.GetFloat64("threshold")
	}
	if flags.Changed("seed") {
		cfg.Sampling.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("step") {
		cfg.Sampling.Step, _ = flags.GetString("step")
	}
	if flags.Changed("archive") {
		cfg.Output.ArchiveDir, _ = flags.GetString("archive")
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile, _ = flags.GetString("metrics-file")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	log := cfg.Logging.NewLogger(cmd.ErrOrStderr())

	m := metrics.New()
	b, err := engine.FromConfig(cfg, log, m)
	if err != nil {
		return err
	}
	defer b.Close()

	params := cfg.Sampling
	params.Seed = b.Seed

	fmt.Fprintf(out, "🚀 Starting edgesample v%s\n", version)
	fmt.Fprintf(out, "   Policy:     %s\n", cfg.Sampling.Policy)
	fmt.Fprintf(out, "   Parameters: %s\n", describeParams(params))
	fmt.Fprintf(out, "   Input:      %s (units %d..%d)\n", cfg.Input.Dir, cfg.Input.FirstUnit, cfg.Input.LastUnit)
	fmt.Fprintf(out, "   Output:     %s\n", cfg.Output.Dir)
	if cfg.Output.ArchiveDir != "" {
		fmt.Fprintf(out, "   Archive:    %s\n", cfg.Output.ArchiveDir)
	}
	fmt.Fprintln(out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := b.Run(ctx, cfg.Input.FirstUnit, cfg.Input.LastUnit)

	printReport(out, report)

	if cfg.Output.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			fmt.Fprintf(out, "   ⚠️  Metrics file: %v\n", err)
		} else {
			fmt.Fprintf(out, "   Metrics: %s\n", cfg.Output.MetricsFile)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(out, "🛑 Interrupted")
		return nil
	}
	return runErr
}

func describeParams(s config.SamplingConfig) string {
	switch s.Policy {
	case config.PolicyReservoir, config.PolicyWindow:
		return fmt.Sprintf("capacity=%d seed=%d", s.Capacity, s.Seed)
	case config.PolicyBiased:
		return fmt.Sprintf("att_factor=%g threshold=%g step=%s", s.AttFactor, s.Threshold, s.Step)
	}
	return fmt.Sprintf("att_factor=%g threshold=%g", s.AttFactor, s.Threshold)
}

func printReport(out io.Writer, r *engine.Report) {
	ok := r.Count(engine.StatusOK)
	skipped := r.Count(engine.StatusSkipped)
	failed := r.Count(engine.StatusFailed)

	if skipped+failed+r.WriteFailures() == 0 {
		fmt.Fprintf(out, "✅ Processed %d units\n", ok)
	} else {
		fmt.Fprintf(out, "⚠️  Processed %d units (%d ok, %d skipped, %d failed, %d write failures)\n",
			len(r.Units), ok, skipped, failed, r.WriteFailures())
	}
	for _, u := range r.Units {
		switch {
		case u.Err != nil:
			fmt.Fprintf(out, "   • unit %d %s: %v\n", u.Unit, u.Status, u.Err)
		case u.WriteErr != nil:
			fmt.Fprintf(out, "   • unit %d snapshot not written: %v\n", u.Unit, u.WriteErr)
		}
	}
	fmt.Fprintf(out, "   Run:  %s\n", r.RunID)
	fmt.Fprintf(out, "   Time to compute: %d ms\n", r.Elapsed.Milliseconds())
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "📂 Initializing edgesample in %s\n", dir)
	cfg := config.DefaultConfig()
	dirs := []string{dir, filepath.Join(dir, "input"), filepath.Join(dir, "output")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}

	configPath := filepath.Join(dir, "edgesample.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}
	if err := cfg.Write(configPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintln(out, "✅ Config written")
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Put unit files named 1, 2, 3, ... into", filepath.Join(dir, "input"))
	fmt.Fprintln(out, "  2. Sample them:  edgesample run --config", configPath)
	return nil
}

func openArchive(cmd *cobra.Command) (*storage.BadgerArchive, error) {
	dir, _ := cmd.Flags().GetString("archive")
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("archive not found: %w", err)
	}
	a, err := storage.NewBadgerArchive(dir)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return a, nil
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	a, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	metas, err := a.List(runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(metas) == 0 {
		fmt.Fprintln(out, "No snapshots archived")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %6s  %-10s  %8s\n", "RUN", "UNIT", "POLICY", "EDGES")
	for _, m := range metas {
		fmt.Fprintf(out, "%-36s  %6d  %-10s  %8d\n", m.RunID, m.Unit, m.Policy, m.Edges)
	}
	return nil
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	unit, _ := cmd.Flags().GetInt("unit")
	a, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Get(strings.TrimSpace(runID), unit)
	if err != nil {
		return err
	}
	return snapshot.Encode(cmd.OutOrStdout(), snap.Entries)
}
