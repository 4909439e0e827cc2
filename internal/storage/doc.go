// Package storage wires the telemetry pipeline of the rigwatch daemon.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Ingest    │────▶│   Buffer    │────▶│   DuckDB    │
//	│   (batch)   │     │   (ring)    │     │  raw tier   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                                       │
//	       ▼                                       ▼
//	┌─────────────┐                         ┌─────────────┐
//	│  Live hub   │                         │  Scheduler  │
//	│ (snapshots) │                         │ hourly/daily│
//	└─────────────┘                         └─────────────┘
//	                                               │
//	                                               ▼
//	                                        ┌─────────────┐
//	                                        │    Query    │
//	                                        │   planner   │
//	                                        └─────────────┘
//
// The Service owns one store and injects it into every component:
//   - ingestion: bounded queue with oldest-first eviction, flushed on a timer
//   - compaction: hourly and daily rollups driven by persisted watermarks
//   - retention: per-resolution windows held in the store's settings
//   - query: auto resolution selection and bucket-aligned ranges
//   - registry: machine identity and hardware metadata
//   - export: Parquet download of stored rows
package storage
