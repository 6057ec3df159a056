package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// isolate points HOME and XDG_CONFIG_HOME at an empty temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tempDir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Optimizer.SampleSize != DefaultSampleSize {
		t.Errorf("SampleSize = %d, want %d", cfg.Optimizer.SampleSize, DefaultSampleSize)
	}
	if cfg.Optimizer.TargetChunkDuration != DefaultTargetChunkDuration {
		t.Errorf("TargetChunkDuration = %v, want %v", cfg.Optimizer.TargetChunkDuration, DefaultTargetChunkDuration)
	}
	if cfg.Optimizer.MinSpeedup != DefaultMinSpeedup {
		t.Errorf("MinSpeedup = %v, want %v", cfg.Optimizer.MinSpeedup, DefaultMinSpeedup)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled = false, want true")
	}
	if cfg.Cache.TTL != DefaultCacheTTL {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, DefaultCacheTTL)
	}
	if cfg.Cache.Path != DefaultCachePath() {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, DefaultCachePath())
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History.RetentionDays = %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if cfg.Logging.Components["cache"] != "warn" {
		t.Errorf("Logging.Components[cache] = %q, want %q", cfg.Logging.Components["cache"], "warn")
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want empty", cfg.File)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, filepath.Join(home, ".config", "parallax"), `
optimizer:
  sample_size: 12
  target_chunk_duration: 50ms
  max_memory_per_worker: 256MB
  force_backend: thread_pool
cache:
  enabled: false
  path: ~/decisions
  ttl: 1h
history:
  retention_days: 7
  min_records: 4
logging:
  level: debug
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Optimizer.SampleSize != 12 {
		t.Errorf("SampleSize = %d, want %d", cfg.Optimizer.SampleSize, 12)
	}
	if cfg.Optimizer.TargetChunkDuration != 50*time.Millisecond {
		t.Errorf("TargetChunkDuration = %v, want %v", cfg.Optimizer.TargetChunkDuration, 50*time.Millisecond)
	}
	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled = true, want false")
	}
	if want := filepath.Join(home, "decisions"); cfg.Cache.Path != want {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, want)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, time.Hour)
	}
	if cfg.History.RetentionDays != 7 {
		t.Errorf("History.RetentionDays = %d, want %d", cfg.History.RetentionDays, 7)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	opt, err := cfg.OptimizerConfig()
	if err != nil {
		t.Fatalf("OptimizerConfig() error = %v", err)
	}
	if opt.MaxMemoryPerWorker != 256*types.MiB {
		t.Errorf("MaxMemoryPerWorker = %d, want %d", opt.MaxMemoryPerWorker, 256*types.MiB)
	}
	if opt.ForceBackend != types.BackendThreadPool {
		t.Errorf("ForceBackend = %q, want %q", opt.ForceBackend, types.BackendThreadPool)
	}

	if got := cfg.HistoryOptions().MinRecords; got != 4 {
		t.Errorf("HistoryOptions().MinRecords = %d, want %d", got, 4)
	}
}

func TestLoad_XDGConfigHome(t *testing.T) {
	home := isolate(t)
	xdgHome := filepath.Join(home, "xdg-config")
	t.Setenv("XDG_CONFIG_HOME", xdgHome)
	writeConfig(t, filepath.Join(xdgHome, "parallax"), "optimizer:\n  sample_size: 9\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Optimizer.SampleSize != 9 {
		t.Errorf("SampleSize = %d, want %d", cfg.Optimizer.SampleSize, 9)
	}
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("PARALLAX_OPTIMIZER_SAMPLE_SIZE", "20")
	t.Setenv("PARALLAX_CACHE_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Optimizer.SampleSize != 20 {
		t.Errorf("SampleSize = %d, want %d", cfg.Optimizer.SampleSize, 20)
	}
	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled = true, want false")
	}
}

func TestLoadFrom_ExplicitFile(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, filepath.Join(home, "elsewhere"), "optimizer:\n  min_speedup: 2\n")

	cfg, err := LoadFrom(viper.New(), path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Optimizer.MinSpeedup != 2 {
		t.Errorf("MinSpeedup = %v, want %v", cfg.Optimizer.MinSpeedup, 2.0)
	}

	if _, err := LoadFrom(viper.New(), filepath.Join(home, "missing.yaml")); err == nil {
		t.Error("LoadFrom() with a missing explicit file should fail")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	home := isolate(t)
	writeConfig(t, filepath.Join(home, ".config", "parallax"), "optimizer: [unclosed\n")

	if _, err := Load(); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestOptimizerConfig_Invalid(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero sample size", func(c *Config) { c.Optimizer.SampleSize = 0 }},
		{"unknown backend", func(c *Config) { c.Optimizer.ForceBackend = "gpu" }},
		{"bad memory size", func(c *Config) { c.Optimizer.MaxMemoryPerWorker = "lots" }},
		{"overlap above one", func(c *Config) { c.Optimizer.OverlapFraction = 1.5 }},
		{"speedup below one", func(c *Config) { c.Optimizer.MinSpeedup = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.modify(cfg)
			if _, err := cfg.OptimizerConfig(); err == nil {
				t.Error("OptimizerConfig() error = nil, want error")
			}
		})
	}
}

func TestOptimizerConfig_MemorySizeError(t *testing.T) {
	cfg := &Config{Optimizer: OptimizerSection{MaxMemoryPerWorker: "12XB"}}
	_, err := cfg.OptimizerConfig()
	if !errors.Is(err, types.ErrInvalidSize) {
		t.Errorf("OptimizerConfig() error = %v, want ErrInvalidSize", err)
	}
}

func TestLoggingSettings(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	lc, err := cfg.LoggingSettings()
	if err != nil {
		t.Fatalf("LoggingSettings() error = %v", err)
	}
	if lc.Rotation.MaxSize != 10*types.MiB {
		t.Errorf("Rotation.MaxSize = %d, want %d", lc.Rotation.MaxSize, 10*types.MiB)
	}
	if want := logging.DefaultRotationConfig(); lc.Rotation != want {
		t.Errorf("Rotation = %+v, want %+v", lc.Rotation, want)
	}
	if lc.Path == "" {
		t.Error("Path should default to the state directory log")
	}

	cfg.Logging.Rotation.MaxSize = "huge"
	if _, err := cfg.LoggingSettings(); err == nil {
		t.Error("LoggingSettings() with bad max_size should fail")
	}
}

func TestWriteDefault(t *testing.T) {
	isolate(t)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() of default file error = %v", err)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if _, err := cfg.OptimizerConfig(); err != nil {
		t.Errorf("default file does not validate: %v", err)
	}
	if cfg.Cache.TTL != DefaultCacheTTL {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, DefaultCacheTTL)
	}
}

func TestWriteDefault_KeepsExisting(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, filepath.Join(home, ".config", "parallax"), "optimizer:\n  sample_size: 3\n")

	got, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if got != path {
		t.Errorf("WriteDefault() = %q, want %q", got, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != "optimizer:\n  sample_size: 3\n" {
		t.Errorf("existing config was overwritten: %q", data)
	}
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		in   string
		want string
	}{
		{"~/x/y", filepath.Join(home, "x", "y")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
