// Package livestore implements the transactional store holding recent
// records, from successful ingestion until the archiver removes them.
//
// The store is backed by SQLite in WAL mode. Inserts and deletes are
// transactional at batch granularity: a crash mid-batch leaves either all or
// none of the batch applied. The uniqueness of (agent_id, channel,
// timestamp_ms) is enforced by the primary key, so concurrent inserts of the
// same key serialize inside the engine without any store-level locking.
package livestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Outcome reports what an insert did for a single record.
type Outcome int

const (
	// OutcomeInserted means the record was newly stored.
	OutcomeInserted Outcome = iota
	// OutcomeDuplicate means the key already existed and the stored record
	// was left untouched (conflict policy "ignore").
	OutcomeDuplicate
	// OutcomeReplaced means the key already existed and the stored record
	// was overwritten (conflict policy "replace").
	OutcomeReplaced
)

// String returns a human-readable representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Filter narrows a range query to an agent and/or channel.
type Filter struct {
	// AgentID filters to a single agent when non-empty.
	AgentID string

	// Channel filters to a single channel when non-nil. A pointer is used
	// because channel 0 is valid.
	Channel *int32
}

// Store is the SQLite-backed live store.
type Store struct {
	db     *sql.DB
	policy config.ConflictPolicy

	// Statistics
	stats Stats
}

// Stats holds live store statistics.
type Stats struct {
	Inserted   atomic.Int64
	Duplicates atomic.Int64
	Replaced   atomic.Int64
	Deleted    atomic.Int64
	Queries    atomic.Int64
}

// Open opens (creating if necessary) the live store at path and runs any
// pending schema migrations. The conflict policy is fixed for the lifetime
// of the store.
func Open(path string, policy config.ConflictPolicy) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open live store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping live store: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate live store: %w", err)
	}

	return &Store{
		db:     db,
		policy: policy,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Policy returns the conflict policy the store was opened with.
func (s *Store) Policy() config.ConflictPolicy {
	return s.policy
}

// InsertBatch inserts records in a single transaction and reports a
// per-record outcome. The batch is atomic: on error nothing is applied.
// Outcomes follow the configured conflict policy; under "ignore" a repeated
// key is a no-op duplicate, under "replace" it overwrites the stored record.
func (s *Store) InsertBatch(ctx context.Context, records []types.Record) ([]Outcome, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO statistics (agent_id, channel, timestamp_ms, value, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (agent_id, channel, timestamp_ms) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	var update *sql.Stmt
	if s.policy == config.ConflictReplace {
		update, err = tx.PrepareContext(ctx, `
			UPDATE statistics SET value = ?, metadata = ?
			WHERE agent_id = ? AND channel = ? AND timestamp_ms = ?`)
		if err != nil {
			return nil, fmt.Errorf("prepare update: %w", err)
		}
		defer update.Close()
	}

	outcomes := make([]Outcome, len(records))

	for i := range records {
		r := &records[i]

		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", r.Key(), err)
		}

		res, err := insert.ExecContext(ctx, r.AgentID, r.Channel, r.TimestampMs, r.Value, meta)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", r.Key(), err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}

		if n > 0 {
			outcomes[i] = OutcomeInserted
			continue
		}

		// Key already present: duplicate or correction per policy.
		if s.policy == config.ConflictReplace {
			if _, err := update.ExecContext(ctx, r.Value, meta, r.AgentID, r.Channel, r.TimestampMs); err != nil {
				return nil, fmt.Errorf("replace %s: %w", r.Key(), err)
			}
			outcomes[i] = OutcomeReplaced
		} else {
			outcomes[i] = OutcomeDuplicate
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert tx: %w", err)
	}

	for _, o := range outcomes {
		switch o {
		case OutcomeInserted:
			s.stats.Inserted.Add(1)
		case OutcomeDuplicate:
			s.stats.Duplicates.Add(1)
		case OutcomeReplaced:
			s.stats.Replaced.Add(1)
		}
	}

	return outcomes, nil
}

// RangeQuery returns the records with startMs <= timestamp < endMs matching
// the filter, ordered by timestamp, agent, channel. The result is a
// consistent snapshot as of the call: SQLite WAL mode gives the single
// SELECT a stable view without blocking concurrent writers.
func (s *Store) RangeQuery(ctx context.Context, startMs, endMs int64, f Filter) ([]types.Record, error) {
	s.stats.Queries.Add(1)

	var sb strings.Builder
	sb.WriteString(`
		SELECT agent_id, channel, timestamp_ms, value, metadata
		FROM statistics
		WHERE timestamp_ms >= ? AND timestamp_ms < ?`)

	args := []any{startMs, endMs}

	if f.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Channel != nil {
		sb.WriteString(" AND channel = ?")
		args = append(args, *f.Channel)
	}

	sb.WriteString(" ORDER BY timestamp_ms, agent_id, channel")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var r types.Record
		var meta sql.NullString

		if err := rows.Scan(&r.AgentID, &r.Channel, &r.TimestampMs, &r.Value, &meta); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
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

// DeleteKeys removes exactly the given keys in a single transaction and
// returns the number of rows removed. Used only by the archiver after a
// segment is durably sealed and indexed. A crash mid-delete rolls back, so
// the records stay visible in the live store until the delete commits.
func (s *Store) DeleteKeys(ctx context.Context, keys []types.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		DELETE FROM statistics
		WHERE agent_id = ? AND channel = ? AND timestamp_ms = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, k.AgentID, k.Channel, k.TimestampMs)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete tx: %w", err)
	}

	s.stats.Deleted.Add(deleted)
	return deleted, nil
}

// Bounds returns the minimum and maximum timestamps currently held. ok is
// false when the store is empty.
func (s *Store) Bounds(ctx context.Context) (minMs, maxMs int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp_ms), MAX(timestamp_ms) FROM statistics`)

	var minVal, maxVal sql.NullInt64
	if err := row.Scan(&minVal, &maxVal); err != nil {
		return 0, 0, false, fmt.Errorf("bounds: %w", err)
	}

	if !minVal.Valid || !maxVal.Valid {
		return 0, 0, false, nil
	}
	return minVal.Int64, maxVal.Int64, true, nil
}

// Count returns the number of records currently held.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statistics`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Snapshot returns a copy of the store statistics.
func (s *Store) Snapshot() StoreStats {
	return StoreStats{
		Inserted:   s.stats.Inserted.Load(),
		Duplicates: s.stats.Duplicates.Load(),
		Replaced:   s.stats.Replaced.Load(),
		Deleted:    s.stats.Deleted.Load(),
		Queries:    s.stats.Queries.Load(),
	}
}

// StoreStats holds store statistics.
type StoreStats struct {
	Inserted   int64 `json:"inserted"`
	Duplicates int64 `json:"duplicates"`
	Replaced   int64 `json:"replaced"`
	Deleted    int64 `json:"deleted"`
	Queries    int64 `json:"queries"`
}

// encodeMetadata marshals metadata to JSON, or NULL when empty.
func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
