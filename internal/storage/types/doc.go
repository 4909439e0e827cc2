// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: one fine-resolution telemetry record
//   - Field: the catalogue of numeric sample columns and how they reduce
//   - Summary: hourly and daily rollup rows
//   - Tier: storage resolution (raw, hourly, daily)
//   - Machine: a registry row
package types
