package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "%d", cfg.Input.Pattern)
	assert.Equal(t, 2, cfg.Input.TimeColumn)
	assert.Equal(t, PolicyReservoir, cfg.Sampling.Policy)
	assert.Equal(t, 1000, cfg.Sampling.Capacity)
	assert.Equal(t, "day", cfg.Sampling.Step)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Run("overrides only listed keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "edgesample.yaml")
		yml := `
input:
  dir: /data/calls
  last_unit: 30
sampling:
  policy: biased
  att_factor: 0.5
  threshold: 0.1
`
		require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/data/calls", cfg.Input.Dir)
		assert.Equal(t, 1, cfg.Input.FirstUnit)
		assert.Equal(t, 30, cfg.Input.LastUnit)
		assert.Equal(t, PolicyBiased, cfg.Sampling.Policy)
		assert.Equal(t, 0.5, cfg.Sampling.AttFactor)
		assert.Equal(t, 0.1, cfg.Sampling.Threshold)
		assert.Equal(t, "./output", cfg.Output.Dir)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sampling: [unclosed"), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesample.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  capacity: 10\n"), 0644))

	t.Setenv("EDGESAMPLE_CAPACITY", "25")
	t.Setenv("EDGESAMPLE_POLICY", "window")
	t.Setenv("EDGESAMPLE_SEED", "99")
	t.Setenv("EDGESAMPLE_ATT_FACTOR", "0.75")
	t.Setenv("EDGESAMPLE_LAST_UNIT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Sampling.Capacity)
	assert.Equal(t, PolicyWindow, cfg.Sampling.Policy)
	assert.Equal(t, int64(99), cfg.Sampling.Seed)
	assert.Equal(t, 0.75, cfg.Sampling.AttFactor)
	assert.Equal(t, 1, cfg.Input.LastUnit)
}

func TestLoad_NoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Input, cfg.Input)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown policy", func(c *Config) { c.Sampling.Policy = "lru" }, "sampling.policy"},
		{"zero capacity", func(c *Config) { c.Sampling.Capacity = 0 }, "sampling.capacity"},
		{"att above one", func(c *Config) { c.Sampling.AttFactor = 1.5 }, "sampling.att_factor"},
		{"negative threshold", func(c *Config) { c.Sampling.Threshold = -1 }, "sampling.threshold"},
		{"unknown step", func(c *Config) { c.Sampling.Step = "week" }, "sampling.step"},
		{"last before first", func(c *Config) { c.Input.FirstUnit, c.Input.LastUnit = 5, 4 }, "input.last_unit"},
		{"empty input dir", func(c *Config) { c.Input.Dir = "" }, "input.dir"},
		{"pattern without verb", func(c *Config) { c.Output.Pattern = "out.csv" }, "output.pattern"},
		{"biased without time column", func(c *Config) {
			c.Sampling.Policy = PolicyBiased
			c.Input.TimeColumn = -1
		}, "input.time_column"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("capacity unused by decay policies", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sampling.Policy = PolicySmoothing
		cfg.Sampling.Capacity = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sampling.Policy = "lru"
		cfg.Logging.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sampling.policy")
		assert.Contains(t, err.Error(), "logging.level")
	})
}

func TestConfig_WriteRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampling.Policy = PolicySmoothing
	cfg.Output.ArchiveDir = "/var/lib/edgesample"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Write(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		log := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
		log.Info().Msg("hidden")
		log.Warn().Msg("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"message":"shown"`)
		assert.Contains(t, out, `"service":"edgesample"`)
	})

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		log := LoggingConfig{Level: "debug", Format: "console"}.NewLogger(&buf)
		log.Debug().Msg("hello")
		assert.True(t, strings.Contains(buf.String(), "hello"))
		assert.Equal(t, zerolog.DebugLevel, log.GetLevel())
	})
}

func TestSeedOrNow(t *testing.T) {
	assert.Equal(t, int64(7), SamplingConfig{Seed: 7}.SeedOrNow())
	assert.NotZero(t, SamplingConfig{}.SeedOrNow())
}
