package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

const appName = "parallax"

// OptimizerSection mirrors optimizer.Config with file-friendly types.
type OptimizerSection struct {
	SampleSize                int           `mapstructure:"sample_size"`
	TargetChunkDuration       time.Duration `mapstructure:"target_chunk_duration"`
	MaxMemoryPerWorker        string        `mapstructure:"max_memory_per_worker"` // e.g. "512MB"; empty means estimate
	ForceBackend              string        `mapstructure:"force_backend"`
	AdaptiveChunkingThreshold float64       `mapstructure:"adaptive_chunking_threshold"`
	MinSpeedup                float64       `mapstructure:"min_speedup"`
	FastRejectMultiple        float64       `mapstructure:"fast_reject_multiple"`
	OverlapFraction           float64       `mapstructure:"overlap_fraction"`
	StreamingItems            int           `mapstructure:"streaming_items"`
	MinPredictionConfidence   float64       `mapstructure:"min_prediction_confidence"`
}

// CacheSection configures the persistent decision cache.
type CacheSection struct {
	Enabled       bool          `mapstructure:"enabled"`
	Path          string        `mapstructure:"path"`
	TTL           time.Duration `mapstructure:"ttl"`
	MemoryEntries int           `mapstructure:"memory_entries"`
}

// HistorySection configures the decision history.
type HistorySection struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	MinRecords    int    `mapstructure:"min_records"`
	Window        int    `mapstructure:"window"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level"`
	Path         string            `mapstructure:"path"`
	ConsoleLevel string            `mapstructure:"console_level"`
	Rotation     RotationConfig    `mapstructure:"rotation"`
	Components   map[string]string `mapstructure:"components"`
}

// Config represents the application configuration.
type Config struct {
	Optimizer OptimizerSection `mapstructure:"optimizer"`
	Cache     CacheSection     `mapstructure:"cache"`
	History   HistorySection   `mapstructure:"history"`
	Logging   LoggingConfig    `mapstructure:"logging"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/parallax/config.yaml
//   - $HOME/.config/parallax/config.yaml
//
// Environment variables are prefixed with PARALLAX_ (e.g.,
// PARALLAX_OPTIMIZER_SAMPLE_SIZE).
func Load() (*Config, error) {
	return LoadFrom(viper.New(), "")
}

// LoadFrom loads configuration into v, which may already carry bound
// command-line flags. A non-empty file replaces the search path.
func LoadFrom(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, appName))
		}

		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", appName))
	}

	v.SetEnvPrefix("PARALLAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	var err error
	if cfg.Cache.Path, err = ExpandPath(cfg.Cache.Path); err != nil {
		return nil, err
	}
	if cfg.History.Path, err = ExpandPath(cfg.History.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("optimizer.sample_size", DefaultSampleSize)
	v.SetDefault("optimizer.target_chunk_duration", DefaultTargetChunkDuration)
	v.SetDefault("optimizer.max_memory_per_worker", "")
	v.SetDefault("optimizer.force_backend", "")
	v.SetDefault("optimizer.adaptive_chunking_threshold", DefaultAdaptiveChunkingThreshold)
	v.SetDefault("optimizer.min_speedup", DefaultMinSpeedup)
	v.SetDefault("optimizer.fast_reject_multiple", DefaultFastRejectMultiple)
	v.SetDefault("optimizer.overlap_fraction", DefaultOverlapFraction)
	v.SetDefault("optimizer.streaming_items", DefaultStreamingItems)
	v.SetDefault("optimizer.min_prediction_confidence", DefaultMinPredictionConfidence)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", DefaultCachePath())
	v.SetDefault("cache.ttl", DefaultCacheTTL)
	v.SetDefault("cache.memory_entries", DefaultCacheMemoryEntries)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)
	v.SetDefault("history.min_records", DefaultMinRecords)
	v.SetDefault("history.window", DefaultHistoryWindow)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", "") // Empty means use logging.DefaultLogPath
	v.SetDefault("logging.console_level", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", logging.DefaultMaxAge)
	v.SetDefault("logging.rotation.max_backups", logging.DefaultMaxBackups)
	v.SetDefault("logging.rotation.daily", false)
	v.SetDefault("logging.components", defaultComponentLevels)
}

// OptimizerConfig converts the optimizer section and validates it.
func (c *Config) OptimizerConfig() (optimizer.Config, error) {
	o := c.Optimizer
	out := optimizer.Config{
		SampleSize:                o.SampleSize,
		TargetChunkDuration:       o.TargetChunkDuration,
		ForceBackend:              types.Backend(strings.ToLower(strings.TrimSpace(o.ForceBackend))),
		AdaptiveChunkingThreshold: o.AdaptiveChunkingThreshold,
		MinSpeedup:                o.MinSpeedup,
		FastRejectMultiple:        o.FastRejectMultiple,
		OverlapFraction:           o.OverlapFraction,
		StreamingItems:            o.StreamingItems,
		MinPredictionConfidence:   o.MinPredictionConfidence,
	}

	if s := strings.TrimSpace(o.MaxMemoryPerWorker); s != "" {
		n, err := types.ParseSize(s)
		if err != nil {
			return optimizer.Config{}, fmt.Errorf("invalid optimizer.max_memory_per_worker: %w", err)
		}
		out.MaxMemoryPerWorker = n
	}

	if err := out.Validate(); err != nil {
		return optimizer.Config{}, err
	}
	return out, nil
}

// CacheOptions returns options for cache.Open.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Path:          c.Cache.Path,
		TTL:           c.Cache.TTL,
		MemoryEntries: c.Cache.MemoryEntries,
	}
}

// HistoryOptions returns options for history.New.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		MinRecords: c.History.MinRecords,
		Window:     c.History.Window,
	}
}

// LoggingSettings converts the logging section for logging.Init.
func (c *Config) LoggingSettings() (logging.Config, error) {
	l := c.Logging
	out := logging.Config{
		Level:        l.Level,
		Path:         l.Path,
		ConsoleLevel: l.ConsoleLevel,
		Components:   l.Components,
		Rotation: logging.RotationConfig{
			MaxAge:     l.Rotation.MaxAge,
			MaxBackups: l.Rotation.MaxBackups,
			Daily:      l.Rotation.Daily,
		},
	}
	if out.Path == "" {
		out.Path = logging.DefaultLogPath()
	}
	if l.Rotation.MaxSize != "" {
		n, err := types.ParseSize(l.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("invalid logging.rotation.max_size: %w", err)
		}
		out.Rotation.MaxSize = n
	}
	return out, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", appName), nil
}

// ConfigPath returns the path of the default config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/parallax/ for decision history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// CacheDir returns $XDG_CACHE_HOME/parallax/ for cached decisions.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// DefaultCachePath returns the default Badger directory.
func DefaultCachePath() string {
	return filepath.Join(CacheDir(), "decisions")
}

// DefaultHistoryPath returns the default history directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultFile()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

func defaultFile() string {
	return fmt.Sprintf(`# parallax configuration

optimizer:
  # Items run through the job before deciding
  sample_size: %d
  # How long one chunk of items should take
  target_chunk_duration: %s
  # Memory one worker may use, e.g. 512MB (empty means estimate)
  max_memory_per_worker: ""
  # Always use this backend: serial, thread_pool or process_pool
  force_backend: ""
  # Shrink chunks when item time varies more than this (coefficient of variation)
  adaptive_chunking_threshold: %g
  # Parallel plans must beat serial by this factor
  min_speedup: %g
  # Reject jobs whose serial runtime is below this many worker spawns
  fast_reject_multiple: %g
  # Share of serialization time that cannot overlap with computation
  overlap_fraction: %g
  # Items assumed for inputs of unknown length
  streaming_items: %d
  # History predictions below this confidence are ignored
  min_prediction_confidence: %g

cache:
  enabled: true
  path: %s
  ttl: %s
  memory_entries: %d

history:
  enabled: true
  path: %s
  retention_days: %d
  # Agreeing records needed before sampling is skipped
  min_records: %d
  window: %d

logging:
  # Log level: debug, info, warn, error
  level: %s
  # Log file path (empty means use default: $XDG_STATE_HOME/parallax/parallax.log)
  path: ""
  # Also log to stderr at this level (empty disables)
  console_level: ""
  rotation:
    max_size: %s
    max_age: %d       # days
    max_backups: %d
    # Also roll over on the first write of a new day
    daily: false
  components:
    profiler: info
    sampler: info
    optimizer: info
    cache: warn
    history: warn
`,
		DefaultSampleSize, DefaultTargetChunkDuration,
		DefaultAdaptiveChunkingThreshold, DefaultMinSpeedup, DefaultFastRejectMultiple,
		DefaultOverlapFraction, DefaultStreamingItems, DefaultMinPredictionConfidence,
		DefaultCachePath(), DefaultCacheTTL, DefaultCacheMemoryEntries,
		DefaultHistoryPath(), DefaultRetentionDays, DefaultMinRecords, DefaultHistoryWindow,
		DefaultLogLevel, DefaultLogMaxSize, logging.DefaultMaxAge, logging.DefaultMaxBackups)
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}
