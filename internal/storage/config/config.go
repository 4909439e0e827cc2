package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/rigwatch/config"
)

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for the database file.
	DataDir string `yaml:"data_dir"`

	// Scale defines the expected fleet size, used for capacity estimates.
	Scale ScaleConfig `yaml:"scale"`

	// Store configures the DuckDB store.
	Store StoreConfig `yaml:"store"`

	// Ingestion configures the ingestion queue.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Backpressure configures queue pressure reporting.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Scheduler configures the rollup and retention jobs.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Retention seeds the per-resolution retention windows. Once the
	// settings table holds values these are ignored; use the admin API.
	Retention RetentionConfig `yaml:"retention"`

	// Query configures the query planner.
	Query QueryConfig `yaml:"query"`

	// Live configures the live push channel.
	Live LiveConfig `yaml:"live"`

	// HTTP configures the API server.
	HTTP HTTPConfig `yaml:"http"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// ScaleConfig defines the expected load parameters.
type ScaleConfig struct {
	// Machines is the expected number of reporting machines.
	Machines int `yaml:"machines"`

	// SampleInterval is how often each machine pushes a sample.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// StoreConfig configures the DuckDB store.
type StoreConfig struct {
	// DSN overrides the database path. ":memory:" keeps everything in RAM.
	DSN string `yaml:"dsn"`

	// Timeout is applied to store calls without a deadline.
	Timeout time.Duration `yaml:"timeout"`

	// MemoryLimit is the DuckDB memory limit, e.g. "1GB".
	MemoryLimit string `yaml:"memory_limit"`

	// InsertChunkSize is the number of rows per multi-row INSERT.
	InsertChunkSize int `yaml:"insert_chunk_size"`
}

// IngestionConfig configures the ingestion queue.
type IngestionConfig struct {
	// MaxQueueSize is the queue capacity before oldest-first eviction.
	MaxQueueSize int `yaml:"max_queue_size"`

	// FlushInterval is the fixed flush cadence.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// EagerFlushThreshold triggers an immediate flush when reached.
	// 0 disables eager flushing.
	EagerFlushThreshold int `yaml:"eager_flush_threshold"`

	// Journal keeps queued samples on disk until they are flushed.
	Journal JournalConfig `yaml:"journal"`
}

// JournalConfig configures the on-disk journal of the ingestion queue.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir defaults to <data_dir>/journal.
	Dir string `yaml:"dir"`

	// SyncMode is "none", "write" or "fsync".
	SyncMode string `yaml:"sync_mode"`

	// MaxSegmentSize is the segment size in bytes before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// BackpressureConfig configures queue pressure reporting.
type BackpressureConfig struct {
	// Enabled enables backpressure level tracking.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines queue usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines queue usage thresholds.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level changes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// SchedulerConfig configures the rollup and retention jobs.
type SchedulerConfig struct {
	// Enabled starts the scheduler with the daemon.
	Enabled bool `yaml:"enabled"`

	// HourlyDelay is the offset after each hour boundary.
	HourlyDelay time.Duration `yaml:"hourly_delay"`

	// DailyDelay is the offset after midnight UTC.
	DailyDelay time.Duration `yaml:"daily_delay"`

	// RetentionOffset is the UTC time of day of the retention sweep.
	RetentionOffset time.Duration `yaml:"retention_offset"`

	// MaxCatchUpHours bounds hourly gap replay.
	MaxCatchUpHours int `yaml:"max_catch_up_hours"`

	// MaxCatchUpDays bounds daily gap replay.
	MaxCatchUpDays int `yaml:"max_catch_up_days"`
}

// RetentionConfig holds retention windows in days. 0 means unlimited.
type RetentionConfig struct {
	RawDays    int `yaml:"raw_days"`
	HourlyDays int `yaml:"hourly_days"`
	DailyDays  int `yaml:"daily_days"`
}

// QueryConfig configures the query planner.
type QueryConfig struct {
	// RawMaxSpan is the longest auto span served from fine samples.
	RawMaxSpan time.Duration `yaml:"raw_max_span"`

	// HourlyMaxSpan is the longest auto span served from hourly summaries.
	HourlyMaxSpan time.Duration `yaml:"hourly_max_span"`

	// PercentileAccuracy is the DDSketch relative accuracy for p95.
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// LiveConfig configures the live push channel.
type LiveConfig struct {
	// Interval is the push cadence.
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	DrainTimeoutSec int           `yaml:"drain_timeout_sec"`

	// TLS is enabled when both files are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path when it is non-empty, otherwise starts from
// DefaultConfig with environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	config := DefaultConfig()
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Scale: ScaleConfig{
			Machines:       50,
			SampleInterval: 2 * time.Second,
		},
		Store: StoreConfig{
			Timeout:         defaults.DefaultStoreTimeout,
			MemoryLimit:     "1GB",
			InsertChunkSize: defaults.DefaultInsertChunkSize,
		},
		Ingestion: IngestionConfig{
			MaxQueueSize:        defaults.DefaultMaxQueueSize,
			FlushInterval:       defaults.DefaultFlushInterval,
			EagerFlushThreshold: defaults.DefaultEagerFlushThreshold,
			Journal: JournalConfig{
				SyncMode:       defaults.DefaultJournalSyncMode,
				MaxSegmentSize: defaults.DefaultJournalSegmentSize,
			},
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   0.50,
				Critical:  0.80,
				Emergency: 0.95,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: 0.10,
				Cooldown:   30 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			HourlyDelay:     defaults.DefaultHourlyDelay,
			DailyDelay:      defaults.DefaultDailyDelay,
			RetentionOffset: defaults.DefaultRetentionOffset,
			MaxCatchUpHours: defaults.DefaultMaxCatchUpHours,
			MaxCatchUpDays:  defaults.DefaultMaxCatchUpDays,
		},
		Retention: RetentionConfig{
			RawDays:    defaults.DefaultRawRetentionDays,
			HourlyDays: defaults.DefaultHourlyRetentionDays,
			DailyDays:  defaults.DefaultDailyRetentionDays,
		},
		Query: QueryConfig{
			RawMaxSpan:         defaults.DefaultRawMaxSpan,
			HourlyMaxSpan:      defaults.DefaultHourlyMaxSpan,
			PercentileAccuracy: defaults.DefaultPercentileAccuracy,
		},
		Live: LiveConfig{
			Interval: defaults.DefaultLiveInterval,
		},
		HTTP: HTTPConfig{
			Listen:          defaults.DefaultListenAddress,
			ReadTimeout:     defaults.DefaultReadTimeout,
			WriteTimeout:    defaults.DefaultWriteTimeout,
			MaxBodyBytes:    defaults.DefaultMaxBodyBytes,
			DrainTimeoutSec: defaults.DefaultDrainTimeoutSec,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
