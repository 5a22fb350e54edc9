package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/BYTE-6D65/movement/pkg/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MOVEMENT"

// Config holds all tunable parameters for the movement engine.
// Values can be set via:
//  1. Code (programmatic configuration)
//  2. Environment variables (MOVEMENT_*)
//  3. Config file (YAML)
//
// Precedence: Code > Env Vars > Config File > Defaults
type Config struct {
	// Store
	DBPath string `mapstructure:"db_path"` // sqlite file, empty keeps state in memory only

	// Journal
	JournalSize int `mapstructure:"journal_size"` // recalculations kept for debugging

	// Buses
	InputBufferSize    int `mapstructure:"input_buffer_size"`     // change events per entity subscription
	OutputBufferSize   int `mapstructure:"output_buffer_size"`    // output events per emitter subscription
	ErrorBusBufferSize int `mapstructure:"error_bus_buffer_size"` // error events per subscriber

	// Observability
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level"`

	Entities []EntityConfig `mapstructure:"entities"`
}

// DefaultConfig returns a configuration with sensible defaults and no
// tracked entities.
func DefaultConfig() Config {
	return Config{
		DBPath:             "",
		JournalSize:        100,
		InputBufferSize:    64,
		OutputBufferSize:   128,
		ErrorBusBufferSize: 32,
		MetricsEnabled:     true,
		LogLevel:           "info",
	}
}

// LoadFromEnv loads configuration from environment variables.
// Returns a Config with defaults, overridden by any MOVEMENT_* env vars found.
func LoadFromEnv() (Config, error) {
	return Load("")
}

// Load reads the YAML file at path, when path is not empty, and overlays
// MOVEMENT_* environment variables on top of it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("journal_size", def.JournalSize)
	v.SetDefault("input_buffer_size", def.InputBufferSize)
	v.SetDefault("output_buffer_size", def.OutputBufferSize)
	v.SetDefault("error_bus_buffer_size", def.ErrorBusBufferSize)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that configuration values are sensible.
func (c *Config) Validate() error {
	if c.JournalSize <= 0 {
		return fmt.Errorf("journal size must be > 0, got %d", c.JournalSize)
	}

	if c.InputBufferSize <= 0 || c.OutputBufferSize <= 0 || c.ErrorBusBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be > 0, got input=%d output=%d error=%d",
			c.InputBufferSize, c.OutputBufferSize, c.ErrorBusBufferSize)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Entities))
	for i, entity := range c.Entities {
		if err := entity.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		if seen[entity.TrackedEntity] {
			return fmt.Errorf("entity %s configured more than once", entity.TrackedEntity)
		}
		seen[entity.TrackedEntity] = true
	}

	return nil
}

// Validate checks a single entity configuration.
func (e EntityConfig) Validate() error {
	if e.TrackedEntity == "" {
		return errors.New("tracked_entity is required")
	}
	for _, dep := range e.DependentEntities {
		if dep == e.TrackedEntity {
			return fmt.Errorf("%s cannot depend on itself", dep)
		}
	}
	if math.IsNaN(e.Policy.TripAddition) || math.IsInf(e.Policy.TripAddition, 0) {
		return fmt.Errorf("%s: trip_addition must be finite", e.TrackedEntity)
	}
	for road, m := range e.Policy.Multipliers {
		if !(m > 0) || math.IsInf(m, 0) {
			return fmt.Errorf("%s: %s multiplier must be > 0, got %v", e.TrackedEntity, road, m)
		}
	}
	return nil
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `Movement Configuration:
  Store:   %s
  Journal: %d entries

  Buffers:
    Input:  %d
    Output: %d
    Errors: %d

  Metrics:   %t
  Log Level: %s

  Entities: %d
`,
		formatDBPath(c.DBPath),
		c.JournalSize,
		c.InputBufferSize,
		c.OutputBufferSize,
		c.ErrorBusBufferSize,
		c.MetricsEnabled,
		c.LogLevel,
		len(c.Entities),
	)

	for _, e := range c.Entities {
		fmt.Fprintf(&b, "    %s (dependents: %d, trip addition: %.2fkm)\n",
			e.TrackedEntity, len(e.DependentEntities), e.Policy.TripAddition)
	}
	return b.String()
}

func formatDBPath(path string) string {
	if path == "" {
		return "in-memory"
	}
	return path
}
