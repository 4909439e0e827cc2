package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/xtxerr/rigwatch/config"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" && c.Store.DSN == "" {
		errs = append(errs, errors.New("data_dir or store.dsn is required"))
	}

	if err := c.Scale.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scale: %w", err))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if c.Live.Interval <= 0 {
		errs = append(errs, errors.New("live: interval must be positive"))
	}

	if c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http: listen is required"))
	}

	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("http: tls_cert_file and tls_key_file must be set together"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scale configuration.
func (c *ScaleConfig) Validate() error {
	var errs []error

	if c.Machines <= 0 {
		errs = append(errs, errors.New("machines must be positive"))
	}

	if c.SampleInterval <= 0 {
		errs = append(errs, errors.New("sample_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.InsertChunkSize <= 0 {
		errs = append(errs, errors.New("insert_chunk_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	if c.MaxQueueSize <= 0 {
		errs = append(errs, errors.New("max_queue_size must be positive"))
	}

	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}

	if c.EagerFlushThreshold < 0 {
		errs = append(errs, errors.New("eager_flush_threshold must be non-negative"))
	}

	if c.EagerFlushThreshold > c.MaxQueueSize {
		errs = append(errs, errors.New("eager_flush_threshold must be <= max_queue_size"))
	}

	if c.Journal.Enabled {
		switch c.Journal.SyncMode {
		case "", "none", "write", "fsync":
		default:
			errs = append(errs, fmt.Errorf("journal.sync_mode must be none, write or fsync, got %q", c.Journal.SyncMode))
		}
		if c.Journal.MaxSegmentSize < 0 {
			errs = append(errs, errors.New("journal.max_segment_size must be non-negative"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	// Thresholds must be in order
	if c.Thresholds.Warning <= 0 || c.Thresholds.Warning >= 1 {
		errs = append(errs, errors.New("thresholds.warning must be between 0 and 1"))
	}
	if c.Thresholds.Critical <= 0 || c.Thresholds.Critical >= 1 {
		errs = append(errs, errors.New("thresholds.critical must be between 0 and 1"))
	}
	if c.Thresholds.Emergency <= 0 || c.Thresholds.Emergency > 1 {
		errs = append(errs, errors.New("thresholds.emergency must be between 0 and 1"))
	}

	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, errors.New("thresholds.warning must be < thresholds.critical"))
	}
	if c.Thresholds.Critical >= c.Thresholds.Emergency {
		errs = append(errs, errors.New("thresholds.critical must be < thresholds.emergency"))
	}

	// Recovery
	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("recovery.hysteresis must be between 0 and 0.5"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.New("recovery.cooldown must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	var errs []error

	if c.HourlyDelay < 0 || c.HourlyDelay >= time.Hour {
		errs = append(errs, errors.New("hourly_delay must be within [0, 1h)"))
	}
	if c.DailyDelay < 0 || c.DailyDelay >= 24*time.Hour {
		errs = append(errs, errors.New("daily_delay must be within [0, 24h)"))
	}
	if c.DailyDelay <= c.HourlyDelay {
		errs = append(errs, errors.New("daily_delay must be > hourly_delay"))
	}
	if c.RetentionOffset < 0 || c.RetentionOffset >= 24*time.Hour {
		errs = append(errs, errors.New("retention_offset must be within [0, 24h)"))
	}
	if c.MaxCatchUpHours <= 0 {
		errs = append(errs, errors.New("max_catch_up_hours must be positive"))
	}
	if c.MaxCatchUpDays <= 0 {
		errs = append(errs, errors.New("max_catch_up_days must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
// Windows are days; 0 means unlimited.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.RawDays < 0 {
		errs = append(errs, errors.New("raw_days must be non-negative"))
	}
	if c.HourlyDays < 0 {
		errs = append(errs, errors.New("hourly_days must be non-negative"))
	}
	if c.DailyDays < 0 {
		errs = append(errs, errors.New("daily_days must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.RawMaxSpan <= 0 {
		errs = append(errs, errors.New("raw_max_span must be positive"))
	}
	if c.HourlyMaxSpan <= c.RawMaxSpan {
		errs = append(errs, errors.New("hourly_max_span must be > raw_max_span"))
	}
	if c.PercentileAccuracy <= 0 || c.PercentileAccuracy >= 1 {
		errs = append(errs, errors.New("percentile_accuracy must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if c.Store.DSN != "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}

// JournalDir returns the directory of the ingestion journal.
func (c *Config) JournalDir() string {
	if c.Ingestion.Journal.Dir != "" {
		return c.Ingestion.Journal.Dir
	}
	return filepath.Join(c.DataDir, "journal")
}

// DatabasePath returns the DSN handed to the store.
func (c *Config) DatabasePath() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.DataDir, defaults.DefaultDatabaseFile)
}
