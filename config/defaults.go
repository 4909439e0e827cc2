// Package config provides configuration defaults and utilities
// for the rigwatch daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: http.listen or RIGWATCH_LISTEN
	DefaultListenAddress = "0.0.0.0:9270"

	// DefaultMaxBodyBytes limits ingest request bodies to prevent OOM.
	// 8 MiB holds several thousand samples per batch.
	// Override via config: http.max_body_bytes
	DefaultMaxBodyBytes = 8 * 1024 * 1024

	// DefaultReadTimeout bounds reading a full request.
	// Override via config: http.read_timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout bounds writing a response. Export streams are
	// exempt because the handler extends its own deadline.
	// Override via config: http.write_timeout
	DefaultWriteTimeout = 60 * time.Second
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultDataDir is where the DuckDB file lives.
	// Override via config: data_dir or RIGWATCH_DATA_DIR
	DefaultDataDir = "/var/lib/rigwatch"

	// DefaultDatabaseFile is the DuckDB file name inside DataDir.
	DefaultDatabaseFile = "rigwatch.duckdb"

	// DefaultStoreTimeout is applied to store calls whose context has no
	// deadline of its own.
	// Override via config: store.timeout
	DefaultStoreTimeout = 30 * time.Second

	// DefaultInsertChunkSize is the number of rows per multi-row INSERT
	// statement inside a batch transaction.
	// Override via config: store.insert_chunk_size
	DefaultInsertChunkSize = 500
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultMaxQueueSize is the ingestion queue capacity. When full, the
	// oldest queued sample is evicted for each new one.
	// Override via config: ingestion.max_queue_size
	DefaultMaxQueueSize = 50000

	// DefaultFlushInterval is the fixed flush cadence.
	// Override via config: ingestion.flush_interval
	DefaultFlushInterval = 5 * time.Second

	// DefaultEagerFlushThreshold triggers an out-of-cycle flush once the
	// queue holds this many samples.
	// Override via config: ingestion.eager_flush_threshold
	DefaultEagerFlushThreshold = 2000

	// DefaultJournalSyncMode hands every journal record to the OS before
	// Enqueue returns. "fsync" also survives power loss.
	// Override via config: ingestion.journal.sync_mode
	DefaultJournalSyncMode = "write"

	// DefaultJournalSegmentSize is the journal segment size before rotation.
	// Override via config: ingestion.journal.max_segment_size
	DefaultJournalSegmentSize = 64 * 1024 * 1024
)

// =============================================================================
// Scheduler Defaults
// =============================================================================

const (
	// DefaultHourlyDelay is how long after each hour boundary the hourly
	// rollup fires, giving late samples time to land.
	// Override via config: scheduler.hourly_delay
	DefaultHourlyDelay = 5 * time.Minute

	// DefaultDailyDelay is how long after midnight UTC the daily rollup fires.
	// It must exceed DefaultHourlyDelay so the last hour of the day is rolled.
	// Override via config: scheduler.daily_delay
	DefaultDailyDelay = 20 * time.Minute

	// DefaultRetentionOffset is the time of day (UTC) the retention sweep runs.
	// Override via config: scheduler.retention_offset
	DefaultRetentionOffset = 3 * time.Hour

	// DefaultMaxCatchUpHours bounds how many missed hour buckets are replayed
	// after downtime.
	// Override via config: scheduler.max_catch_up_hours
	DefaultMaxCatchUpHours = 48

	// DefaultMaxCatchUpDays bounds how many missed day buckets are replayed.
	// Override via config: scheduler.max_catch_up_days
	DefaultMaxCatchUpDays = 7
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRawRetentionDays seeds retention.raw_days on first start.
	// 0 means unlimited.
	DefaultRawRetentionDays = 7

	// DefaultHourlyRetentionDays seeds retention.hourly_days.
	DefaultHourlyRetentionDays = 90

	// DefaultDailyRetentionDays seeds retention.daily_days.
	DefaultDailyRetentionDays = 730
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultRawMaxSpan is the longest span answered from fine samples when
	// resolution is auto.
	DefaultRawMaxSpan = 24 * time.Hour

	// DefaultHourlyMaxSpan is the longest span answered from hourly
	// summaries when resolution is auto.
	DefaultHourlyMaxSpan = 90 * 24 * time.Hour

	// DefaultPercentileAccuracy is the DDSketch relative accuracy used for
	// the cpu_load p95 column.
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Live Defaults
// =============================================================================

const (
	// DefaultLiveInterval is the push cadence of the live channel.
	// Override via config: live.interval
	DefaultLiveInterval = 2 * time.Second

	// DefaultLivePongWait is how long a live client may stay silent.
	DefaultLivePongWait = 60 * time.Second
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeoutSec is how long to wait for the final flush and
	// in-flight jobs during shutdown.
	// Override via config: http.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)
