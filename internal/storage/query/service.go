// Package query answers bounded time-range queries over live and archived
// records.
//
// Archived segments are checked against the checksum recorded at seal time
// and then scanned with DuckDB's Parquet reader, one segment per statement
// so a cancelled context stops between segments. Live
// records come straight from the live store. During the archive handoff a
// record can briefly exist in both places; the merge keeps the archived
// copy.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/archindex"
	"github.com/xtxerr/rfistat/internal/storage/livestore"
	"github.com/xtxerr/rfistat/internal/storage/segment"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Request defines a time-range query. The range is half-open and must be
// bounded: unbounded queries are rejected.
type Request struct {
	// StartMs and EndMs bound the range, end exclusive.
	StartMs int64
	EndMs   int64

	// AgentID filters to a single agent when non-empty.
	AgentID string

	// Channel filters to a single channel when non-nil.
	Channel *int32

	// Limit caps the number of returned records. Zero means the
	// configured maximum. Truncation lands on a timestamp boundary so a
	// caller can resume with StartMs = last timestamp + 1; when the
	// records up to the limit all share one timestamp, the whole group
	// is returned.
	Limit int
}

// Service answers queries over the live store and the archive.
type Service struct {
	cfg   *config.Config
	db    *sql.DB
	store *livestore.Store
	index *archindex.Index
	log   *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	Queries         atomic.Int64
	RowsReturned    atomic.Int64
	SegmentsScanned atomic.Int64
	Errors          atomic.Int64
}

// New creates a query service. The DuckDB database is in-memory; segment
// files are read in place.
func New(cfg *config.Config, store *livestore.Store, index *archindex.Index) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg:   cfg,
		db:    db,
		store: store,
		index: index,
		log:   logging.Component("query"),
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Execute runs a query and returns the matching records ordered by
// timestamp, agent, channel.
func (s *Service) Execute(ctx context.Context, req Request) ([]types.Record, error) {
	if err := s.validate(req); err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	s.stats.Queries.Add(1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Query.Timeout)
	defer cancel()

	merged := make(map[types.Key]types.Record)

	// Archived records first: during the archive handoff a key can exist
	// in both places and the archived copy wins.
	for _, e := range s.index.Covering(req.StartMs, req.EndMs) {
		if err := ctx.Err(); err != nil {
			s.stats.Errors.Add(1)
			return nil, errors.Wrap(errors.ErrTimeout, err.Error())
		}

		// A segment whose bytes no longer match the checksum recorded at
		// seal time must never contribute rows.
		path := s.index.SegmentPath(e)
		if err := segment.VerifyDigest(path, e.Checksum); err != nil {
			s.stats.Errors.Add(1)
			return nil, fmt.Errorf("segment %s: %w", e.ID, err)
		}

		records, err := s.querySegment(ctx, path, req)
		if err != nil {
			s.stats.Errors.Add(1)
			return nil, fmt.Errorf("scan segment %s: %w", e.ID, err)
		}
		s.stats.SegmentsScanned.Add(1)

		for i := range records {
			merged[records[i].Key()] = records[i]
		}
	}

	live, err := s.store.RangeQuery(ctx, req.StartMs, req.EndMs, livestore.Filter{
		AgentID: req.AgentID,
		Channel: req.Channel,
	})
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	for i := range live {
		k := live[i].Key()
		if _, ok := merged[k]; !ok {
			merged[k] = live[i]
		}
	}

	records := make([]types.Record, 0, len(merged))
	for _, r := range merged {
		records = append(records, r)
	}
	types.SortRecords(records)

	limit := req.Limit
	if limit <= 0 || limit > s.cfg.Query.MaxRows {
		limit = s.cfg.Query.MaxRows
	}
	records = truncateAtTimestamp(records, limit)

	s.stats.RowsReturned.Add(int64(len(records)))
	return records, nil
}

// truncateAtTimestamp caps records at limit without splitting a timestamp.
// Callers resume a truncated query with StartMs set to the last timestamp
// plus one, so a cut inside a timestamp would silently skip its remaining
// records. When the records up to the limit all share a single timestamp
// the whole group is returned, so a caller always makes progress.
func truncateAtTimestamp(records []types.Record, limit int) []types.Record {
	if len(records) <= limit {
		return records
	}

	cut := limit
	for cut > 0 && records[cut].TimestampMs == records[cut-1].TimestampMs {
		cut--
	}
	if cut > 0 {
		return records[:cut]
	}

	ts := records[0].TimestampMs
	for cut = limit; cut < len(records) && records[cut].TimestampMs == ts; cut++ {
	}
	return records[:cut]
}

// validate rejects unbounded, inverted or oversized ranges.
func (s *Service) validate(req Request) error {
	if req.StartMs < 0 || req.EndMs <= req.StartMs {
		return errors.Wrapf(errors.ErrInvalidRange, "range [%d, %d)", req.StartMs, req.EndMs)
	}
	if maxMs := s.cfg.Query.MaxRange.Milliseconds(); req.EndMs-req.StartMs > maxMs {
		return errors.Wrapf(errors.ErrInvalidRange, "span %dms exceeds maximum %dms", req.EndMs-req.StartMs, maxMs)
	}
	return nil
}

// querySegment scans one segment file with DuckDB.
func (s *Service) querySegment(ctx context.Context, path string, req Request) ([]types.Record, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT agent_id, channel, timestamp_ms, value, metadata
		FROM read_parquet(?)
		WHERE timestamp_ms >= ? AND timestamp_ms < ?`)

	args := []any{path, req.StartMs, req.EndMs}

	if req.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, req.AgentID)
	}
	if req.Channel != nil {
		sb.WriteString(" AND channel = ?")
		args = append(args, *req.Channel)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var r types.Record
		var meta sql.NullString

		if err := rows.Scan(&r.AgentID, &r.Channel, &r.TimestampMs, &r.Value, &meta); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.Key(), err)
			}
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// Snapshot returns a copy of the query statistics.
func (s *Service) Snapshot() ServiceStats {
	return ServiceStats{
		Queries:         s.stats.Queries.Load(),
		RowsReturned:    s.stats.RowsReturned.Load(),
		SegmentsScanned: s.stats.SegmentsScanned.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}

// ServiceStats holds query statistics.
type ServiceStats struct {
	Queries         int64 `json:"queries"`
	RowsReturned    int64 `json:"rows_returned"`
	SegmentsScanned int64 `json:"segments_scanned"`
	Errors          int64 `json:"errors"`
}
