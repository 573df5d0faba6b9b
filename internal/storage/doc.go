// Package storage implements the occupancy statistics store for the
// rfistat archival service.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Ingest    │────▶│ Live Store  │────▶│  Archiver   │
//	│   Service   │     │  (SQLite)   │     │ (Parquet)   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │                    │
//	                           ▼                    ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │    Query    │◀────│   Segment   │
//	                    │  (DuckDB)   │     │    Index    │
//	                    └─────────────┘     └─────────────┘
//
// The storage system provides:
//   - Per-record validation with explicit reason codes
//   - A transactional SQLite live store with duplicate detection on
//     (agent, channel, timestamp)
//   - Windowed archival into checksummed immutable Parquet segments,
//     durable before live deletion
//   - A rebuildable JSON segment index
//   - Merged live+archive range queries through DuckDB
package storage
