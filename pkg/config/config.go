// Package config handles edgesample configuration.
//
// Configuration is layered, later layers win:
//  1. Defaults (DefaultConfig)
//  2. YAML file (LoadFile / Load)
//  3. Environment variables prefixed with EDGESAMPLE_ (ApplyEnv)
//  4. Command-line flags (applied by cmd/edgesample)
//
// Always call Validate() before use.
//
// Example Usage:
//
//	cfg, err := config.Load("edgesample.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Example YAML:
//
//	input:
//	  dir: ./calls
//	  first_unit: 1
//	  last_unit: 30
//	output:
//	  dir: ./samples
//	sampling:
//	  policy: biased
//	  att_factor: 0.5
//	  threshold: 0.1
//	  step: day
//
// Environment Variables:
//   - EDGESAMPLE_INPUT_DIR, EDGESAMPLE_INPUT_PATTERN
//   - EDGESAMPLE_FIRST_UNIT, EDGESAMPLE_LAST_UNIT
//   - EDGESAMPLE_TIME_COLUMN, EDGESAMPLE_TIME_LAYOUT
//   - EDGESAMPLE_OUTPUT_DIR, EDGESAMPLE_OUTPUT_PATTERN
//   - EDGESAMPLE_ARCHIVE_DIR, EDGESAMPLE_METRICS_FILE
//   - EDGESAMPLE_POLICY, EDGESAMPLE_CAPACITY, EDGESAMPLE_ATT_FACTOR
//   - EDGESAMPLE_THRESHOLD, EDGESAMPLE_SEED, EDGESAMPLE_STEP
//   - EDGESAMPLE_LOG_LEVEL, EDGESAMPLE_LOG_FORMAT
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/edgesample/pkg/stream"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Policy names accepted by sampling.policy.
const (
	PolicyReservoir = "reservoir"
	PolicyWindow    = "window"
	PolicySmoothing = "smoothing"
	PolicyBiased    = "biased"
)

// Config holds all edgesample configuration.
//
// Configuration is organized into logical sections:
//   - Input: where unit files are read from and how records are parsed
//   - Output: snapshot files, archive and metrics destinations
//   - Sampling: the policy and its parameters
//   - Logging: zerolog level and format
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Sampling SamplingConfig `yaml:"sampling"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InputConfig holds input settings.
type InputConfig struct {
	// Dir containing one file per unit
	Dir string `yaml:"dir" validate:"required"`
	// Pattern formats a unit number into a file name (default "%d")
	Pattern string `yaml:"pattern" validate:"required"`
	// FirstUnit is the first unit processed
	FirstUnit int `yaml:"first_unit" validate:"gte=0"`
	// LastUnit is the last unit processed, inclusive
	LastUnit int `yaml:"last_unit" validate:"gtefield=FirstUnit"`
	// TimeColumn is the zero-based timestamp column, -1 for none
	TimeColumn int `yaml:"time_column" validate:"gte=-1"`
	// TimeLayout is a Go time layout for the timestamp column
	TimeLayout string `yaml:"time_layout" validate:"required"`
}

// OutputConfig holds output settings.
type OutputConfig struct {
	// Dir receives one snapshot file per unit
	Dir string `yaml:"dir" validate:"required"`
	// Pattern formats a unit number into a snapshot file name
	Pattern string `yaml:"pattern" validate:"required"`
	// ArchiveDir enables the BadgerDB snapshot archive when set
	ArchiveDir string `yaml:"archive_dir"`
	// MetricsFile receives Prometheus metrics at the end of a run when set
	MetricsFile string `yaml:"metrics_file"`
}

// SamplingConfig selects the policy and its parameters.
type SamplingConfig struct {
	// Policy is one of reservoir, window, smoothing, biased
	Policy string `yaml:"policy" validate:"oneof=reservoir window smoothing biased"`
	// Capacity is the reservoir size R (reservoir and window)
	Capacity int `yaml:"capacity" validate:"gte=0"`
	// AttFactor is the decay factor in [0,1] (smoothing and biased)
	AttFactor float64 `yaml:"att_factor" validate:"gte=0,lte=1"`
	// Threshold is the pruning threshold (smoothing and biased)
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
	// Seed for the random source; 0 seeds from the clock
	Seed int64 `yaml:"seed"`
	// Step is the timestamp granularity of the biased policy
	Step string `yaml:"step" validate:"oneof=second minute hour day month year"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is a zerolog level name
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	// Format is console (human readable) or json
	Format string `yaml:"format" validate:"oneof=console json"`
}

// DefaultConfig returns a Config with every field set.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Dir:        "./input",
			Pattern:    "%d",
			FirstUnit:  1,
			LastUnit:   1,
			TimeColumn: 2,
			TimeLayout: stream.DefaultTimeLayout,
		},
		Output: OutputConfig{
			Dir:     "./output",
			Pattern: "%d",
		},
		Sampling: SamplingConfig{
			Policy:    PolicyReservoir,
			Capacity:  1000,
			AttFactor: 0.2,
			Threshold: 0,
			Step:      "day",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFile reads a YAML file over the defaults. Keys missing from the file
// keep their default value.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Load returns defaults, overlaid with the YAML file at path (skipped when
// path is empty) and then with environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from EDGESAMPLE_* environment variables.
func (c *Config) ApplyEnv() {
	c.Input.Dir = getEnv("EDGESAMPLE_INPUT_DIR", c.Input.Dir)
	c.Input.Pattern = getEnv("EDGESAMPLE_INPUT_PATTERN", c.Input.Pattern)
	c.Input.FirstUnit = getEnvInt("EDGESAMPLE_FIRST_UNIT", c.Input.FirstUnit)
	c.Input.LastUnit = getEnvInt("EDGESAMPLE_LAST_UNIT", c.Input.LastUnit)
	c.Input.TimeColumn = getEnvInt("EDGESAMPLE_TIME_COLUMN", c.Input.TimeColumn)
	c.Input.TimeLayout = getEnv("EDGESAMPLE_TIME_LAYOUT", c.Input.TimeLayout)

	c.Output.Dir = getEnv("EDGESAMPLE_OUTPUT_DIR", c.Output.Dir)
	c.Output.Pattern = getEnv("EDGESAMPLE_OUTPUT_PATTERN", c.Output.Pattern)
	c.Output.ArchiveDir = getEnv("EDGESAMPLE_ARCHIVE_DIR", c.Output.ArchiveDir)
	c.Output.MetricsFile = getEnv("EDGESAMPLE_METRICS_FILE", c.Output.MetricsFile)

	c.Sampling.Policy = getEnv("EDGESAMPLE_POLICY", c.Sampling.Policy)
	c.Sampling.Capacity = getEnvInt("EDGESAMPLE_CAPACITY", c.Sampling.Capacity)
	c.Sampling.AttFactor = getEnvFloat("EDGESAMPLE_ATT_FACTOR", c.Sampling.AttFactor)
	c.Sampling.Threshold = getEnvFloat("EDGESAMPLE_THRESHOLD", c.Sampling.Threshold)
	c.Sampling.Seed = getEnvInt64("EDGESAMPLE_SEED", c.Sampling.Seed)
	c.Sampling.Step = getEnv("EDGESAMPLE_STEP", c.Sampling.Step)

	c.Logging.Level = getEnv("EDGESAMPLE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("EDGESAMPLE_LOG_FORMAT", c.Logging.Format)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml key names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks ranges and cross-field rules. Every problem is reported,
// not just the first.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			problems = append(problems, fmt.Sprintf("%s: failed %s (got %v)", field, rule, fe.Value()))
		}
	}

	switch c.Sampling.Policy {
	case PolicyReservoir, PolicyWindow:
		if c.Sampling.Capacity <= 0 {
			problems = append(problems, fmt.Sprintf("sampling.capacity: must be > 0 for the %s policy", c.Sampling.Policy))
		}
	case PolicyBiased:
		if c.Input.TimeColumn < 0 {
			problems = append(problems, "input.time_column: the biased policy needs a timestamp column")
		}
	}
	if !strings.Contains(c.Input.Pattern, "%") {
		problems = append(problems, "input.pattern: must contain a verb for the unit number")
	}
	if !strings.Contains(c.Output.Pattern, "%") {
		problems = append(problems, "output.pattern: must contain a verb for the unit number")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger builds a zerolog.Logger writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if l.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "edgesample").Logger()
}

// String renders the config as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// Write stores the config as YAML at path.
func (c *Config) Write(path string) error {
	return os.WriteFile(path, []byte(c.String()), 0644)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// SeedOrNow returns the configured seed, or a clock-derived one when unset.
func (s SamplingConfig) SeedOrNow() int64 {
	if s.Seed != 0 {
		return s.Seed
	}
	return time.Now().UnixNano()
}
