package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.Ingestion.MaxQueueSize <= 0 {
		t.Error("expected positive max_queue_size")
	}

	if cfg.Scheduler.HourlyDelay <= 0 || cfg.Scheduler.HourlyDelay >= time.Hour {
		t.Errorf("unexpected hourly delay %v", cfg.Scheduler.HourlyDelay)
	}

	if cfg.Live.Interval != 2*time.Second {
		t.Errorf("expected live interval 2s, got %v", cfg.Live.Interval)
	}

	if cfg.Retention.RawDays <= 0 {
		t.Error("expected positive raw retention")
	}
}

func TestConfigValidate(t *testing.T) {
	// Valid config
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty data_dir and dsn", func(c *Config) { c.DataDir = "" }},
		{"zero queue", func(c *Config) { c.Ingestion.MaxQueueSize = 0 }},
		{"eager above queue", func(c *Config) { c.Ingestion.EagerFlushThreshold = c.Ingestion.MaxQueueSize + 1 }},
		{"hourly delay too long", func(c *Config) { c.Scheduler.HourlyDelay = 2 * time.Hour }},
		{"daily before hourly", func(c *Config) { c.Scheduler.DailyDelay = time.Minute }},
		{"negative retention", func(c *Config) { c.Retention.RawDays = -1 }},
		{"bad accuracy", func(c *Config) { c.Query.PercentileAccuracy = 0 }},
		{"zero live interval", func(c *Config) { c.Live.Interval = 0 }},
		{"no listen", func(c *Config) { c.HTTP.Listen = "" }},
		{"journal sync mode", func(c *Config) {
			c.Ingestion.Journal.Enabled = true
			c.Ingestion.Journal.SyncMode = "sometimes"
		}},
		{"journal segment size", func(c *Config) {
			c.Ingestion.Journal.Enabled = true
			c.Ingestion.Journal.MaxSegmentSize = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDSNWithoutDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Store.DSN = ":memory:"

	if err := cfg.Validate(); err != nil {
		t.Errorf("dsn alone should be valid: %v", err)
	}
	if cfg.DatabasePath() != ":memory:" {
		t.Errorf("expected :memory:, got %s", cfg.DatabasePath())
	}
}

func TestRetentionZeroIsUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = RetentionConfig{}

	if err := cfg.Retention.Validate(); err != nil {
		t.Errorf("zero windows should be valid: %v", err)
	}
}

func TestBackpressureValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Valid thresholds
	if err := cfg.Backpressure.Validate(); err != nil {
		t.Errorf("valid backpressure should pass: %v", err)
	}

	// Invalid: warning >= critical
	cfg.Backpressure.Thresholds.Warning = 0.90
	cfg.Backpressure.Thresholds.Critical = 0.80
	if err := cfg.Backpressure.Validate(); err == nil {
		t.Error("expected error when warning >= critical")
	}

	// Disabled skips checks
	cfg.Backpressure.Enabled = false
	if err := cfg.Backpressure.Validate(); err != nil {
		t.Errorf("disabled backpressure should pass: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
data_dir: /tmp/rigwatch-test
scale:
  machines: 12
  sample_interval: 5s
store:
  timeout: 10s
  memory_limit: 512MB
  insert_chunk_size: 100
ingestion:
  max_queue_size: 1000
  flush_interval: 1s
  eager_flush_threshold: 200
scheduler:
  enabled: false
  hourly_delay: 2m
  daily_delay: 30m
  retention_offset: 4h
  max_catch_up_hours: 24
  max_catch_up_days: 3
retention:
  raw_days: 3
  hourly_days: 0
  daily_days: 365
live:
  interval: 1s
http:
  listen: 127.0.0.1:9999
log:
  level: debug
  json: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "/tmp/rigwatch-test" {
		t.Errorf("expected data_dir=/tmp/rigwatch-test, got %s", cfg.DataDir)
	}

	if cfg.Scale.Machines != 12 {
		t.Errorf("expected machines=12, got %d", cfg.Scale.Machines)
	}

	if cfg.Ingestion.FlushInterval != time.Second {
		t.Errorf("expected flush_interval=1s, got %v", cfg.Ingestion.FlushInterval)
	}

	if cfg.Scheduler.Enabled {
		t.Error("expected scheduler disabled")
	}

	if cfg.Scheduler.RetentionOffset != 4*time.Hour {
		t.Errorf("expected retention_offset=4h, got %v", cfg.Scheduler.RetentionOffset)
	}

	if cfg.Retention.HourlyDays != 0 || cfg.Retention.RawDays != 3 {
		t.Errorf("unexpected retention %+v", cfg.Retention)
	}

	if !cfg.Log.JSON || cfg.Log.Level != "debug" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}

	// Unset keys keep defaults
	if cfg.Query.PercentileAccuracy != DefaultConfig().Query.PercentileAccuracy {
		t.Errorf("expected default accuracy, got %v", cfg.Query.PercentileAccuracy)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RIGWATCH_DSN":               ":memory:",
		"RIGWATCH_LISTEN":            "127.0.0.1:1234",
		"RIGWATCH_FLUSH_INTERVAL":    "250ms",
		"RIGWATCH_MAX_QUEUE_SIZE":    "77",
		"RIGWATCH_SCHEDULER_ENABLED": "false",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Store.DSN != ":memory:" {
		t.Errorf("dsn = %s", cfg.Store.DSN)
	}
	if cfg.HTTP.Listen != "127.0.0.1:1234" {
		t.Errorf("listen = %s", cfg.HTTP.Listen)
	}
	if cfg.Ingestion.FlushInterval != 250*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Ingestion.FlushInterval)
	}
	if cfg.Ingestion.MaxQueueSize != 77 {
		t.Errorf("max queue = %d", cfg.Ingestion.MaxQueueSize)
	}
	if cfg.Scheduler.Enabled {
		t.Error("expected scheduler disabled")
	}

	env["RIGWATCH_FLUSH_INTERVAL"] = "soon"
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Error("expected parse error")
	}
}

func TestCalculateRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scale.Machines = 100
	cfg.Scale.SampleInterval = 2 * time.Second

	req := cfg.CalculateRequirements()

	if req.SamplesPerSecond != 50 {
		t.Errorf("expected 50 samples/sec, got %v", req.SamplesPerSecond)
	}

	if req.SamplesPerDay != 50*86400 {
		t.Errorf("expected %d samples/day, got %d", 50*86400, req.SamplesPerDay)
	}

	if req.TotalStorageBytes <= req.RawStorageBytes {
		t.Error("expected summaries to add storage")
	}

	if req.QueueBytes <= 0 {
		t.Error("expected positive queue bytes")
	}
}

func TestFormatRequirements(t *testing.T) {
	cfg := DefaultConfig()

	req := cfg.CalculateRequirements()
	output := req.FormatRequirements()

	if len(output) < 100 {
		t.Error("expected substantial output")
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1GB", 1 * 1024 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"512MB", 512 * 1024 * 1024},
		{"1024KB", 1024 * 1024},
		{"", 2 * 1024 * 1024 * 1024}, // Default
	}

	for _, tt := range tests {
		result := parseMemoryLimit(tt.input)
		if result != tt.expected {
			t.Errorf("parseMemoryLimit(%s): expected %d, got %d", tt.input, tt.expected, result)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("%s is not a directory", cfg.DataDir)
	}

	if cfg.DatabasePath() != filepath.Join(cfg.DataDir, "rigwatch.duckdb") {
		t.Errorf("unexpected database path %s", cfg.DatabasePath())
	}
}

func TestJournalDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/rigwatch"
	if got := cfg.JournalDir(); got != filepath.Join("/var/lib/rigwatch", "journal") {
		t.Errorf("JournalDir = %s", got)
	}

	cfg.Ingestion.Journal.Dir = "/fast/journal"
	if got := cfg.JournalDir(); got != "/fast/journal" {
		t.Errorf("explicit JournalDir = %s", got)
	}
}
