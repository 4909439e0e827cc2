package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides file values with RIGWATCH_* environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) string {
		value, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(value)
	}

	if value := get("RIGWATCH_DATA_DIR"); value != "" {
		c.DataDir = value
	}

	if value := get("RIGWATCH_DSN"); value != "" {
		c.Store.DSN = value
	}

	if value := get("RIGWATCH_LISTEN"); value != "" {
		c.HTTP.Listen = value
	}

	if value := get("RIGWATCH_LOG_LEVEL"); value != "" {
		c.Log.Level = value
	}

	if value := get("RIGWATCH_LOG_JSON"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_LOG_JSON: %w", err)
		}
		c.Log.JSON = enabled
	}

	if value := get("RIGWATCH_MAX_QUEUE_SIZE"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_MAX_QUEUE_SIZE: %w", err)
		}
		c.Ingestion.MaxQueueSize = n
	}

	if value := get("RIGWATCH_FLUSH_INTERVAL"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_FLUSH_INTERVAL: %w", err)
		}
		c.Ingestion.FlushInterval = d
	}

	if value := get("RIGWATCH_JOURNAL_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_JOURNAL_ENABLED: %w", err)
		}
		c.Ingestion.Journal.Enabled = enabled
	}

	if value := get("RIGWATCH_LIVE_INTERVAL"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_LIVE_INTERVAL: %w", err)
		}
		c.Live.Interval = d
	}

	if value := get("RIGWATCH_SCHEDULER_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse RIGWATCH_SCHEDULER_ENABLED: %w", err)
		}
		c.Scheduler.Enabled = enabled
	}

	return nil
}
