package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Setting keys.
const (
	KeyRetentionRaw    = "retention.raw_days"
	KeyRetentionHourly = "retention.hourly_days"
	KeyRetentionDaily  = "retention.daily_days"

	KeyWatermarkHourly = "watermark.hourly"
	KeyWatermarkDaily  = "watermark.daily"
)

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	found := false
	err := s.query(ctx, func(rows *sql.Rows) error {
		if rows.Next() {
			if err := rows.Scan(&value); err != nil {
				return errors.Database("scan setting", err)
			}
			found = true
		}
		return nil
	}, `SELECT value FROM settings WHERE key = ?`, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("setting '%s': %w", key, errors.ErrSettingNotFound)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetInt returns an integer setting, or def when it is not set.
func (s *Store) GetInt(ctx context.Context, key string, def int64) (int64, error) {
	value, err := s.GetSetting(ctx, key)
	if errors.Is(err, errors.ErrSettingNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.NewInvalidValue(key, value, "not an integer")
	}
	return n, nil
}

// SetInt stores an integer setting.
func (s *Store) SetInt(ctx context.Context, key string, value int64) error {
	return s.SetSetting(ctx, key, strconv.FormatInt(value, 10))
}

// GetRetention reads the retention windows. Missing keys read as 0
// (unlimited).
func (s *Store) GetRetention(ctx context.Context) (types.RetentionConfig, error) {
	var cfg types.RetentionConfig

	raw, err := s.GetInt(ctx, KeyRetentionRaw, 0)
	if err != nil {
		return cfg, err
	}
	hourly, err := s.GetInt(ctx, KeyRetentionHourly, 0)
	if err != nil {
		return cfg, err
	}
	daily, err := s.GetInt(ctx, KeyRetentionDaily, 0)
	if err != nil {
		return cfg, err
	}

	cfg.RawDays = int(raw)
	cfg.HourlyDays = int(hourly)
	cfg.DailyDays = int(daily)
	return cfg, nil
}

// SetRetention writes all three retention windows in one transaction.
func (s *Store) SetRetention(ctx context.Context, cfg types.RetentionConfig) error {
	if cfg.RawDays < 0 || cfg.HourlyDays < 0 || cfg.DailyDays < 0 {
		return errors.NewInvalidValue("retention", cfg, "days must be non-negative")
	}
	return s.writeSettings(ctx, map[string]string{
		KeyRetentionRaw:    strconv.Itoa(cfg.RawDays),
		KeyRetentionHourly: strconv.Itoa(cfg.HourlyDays),
		KeyRetentionDaily:  strconv.Itoa(cfg.DailyDays),
	}, true)
}

// SeedRetention writes the windows only for keys that are not set yet, so
// values changed at runtime survive restarts.
func (s *Store) SeedRetention(ctx context.Context, cfg types.RetentionConfig) error {
	return s.writeSettings(ctx, map[string]string{
		KeyRetentionRaw:    strconv.Itoa(cfg.RawDays),
		KeyRetentionHourly: strconv.Itoa(cfg.HourlyDays),
		KeyRetentionDaily:  strconv.Itoa(cfg.DailyDays),
	}, false)
}

func (s *Store) writeSettings(ctx context.Context, values map[string]string, replace bool) error {
	query := `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`
	if replace {
		query = `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`
	}
	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
				return errors.Database("write setting "+key, err)
			}
		}
		return nil
	})
}

// Watermark returns the next bucket start a rollup job still has to
// process, or 0 when the job never completed a bucket.
func (s *Store) Watermark(ctx context.Context, key string) (int64, error) {
	return s.GetInt(ctx, key, 0)
}

// SetWatermark records the next bucket start a rollup job has to process.
func (s *Store) SetWatermark(ctx context.Context, key string, nextBucketMs int64) error {
	return s.SetInt(ctx, key, nextBucketMs)
}
