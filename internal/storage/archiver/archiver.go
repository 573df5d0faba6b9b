// Package archiver moves aged records from the live store into immutable
// archive segments.
//
// Each run archives whole aligned windows whose end has fallen behind the
// retention horizon. A window is archived in strict phases: seal the
// segment to a temp file, verify it by re-reading and checksumming,
// publish it with an atomic rename plus index update, and only then delete
// the archived records from the live store. The run state is persisted
// before each phase so a crash at any point either leaves the live store
// untouched or leaves duplicates that the next run reconciles. Records are
// never lost in between.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/archindex"
	"github.com/xtxerr/rfistat/internal/storage/livestore"
	"github.com/xtxerr/rfistat/internal/storage/segment"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Archiver owns the live-to-archive transition.
type Archiver struct {
	mu       sync.Mutex // serializes runs
	cfg      *config.Config
	store    *livestore.Store
	index    *archindex.Index
	runState *archindex.RunStateStore
	log      *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	// Loop state
	cancel context.CancelFunc
	done   chan struct{}

	// Statistics
	stats Stats
}

// Stats holds archiver statistics.
type Stats struct {
	Runs             atomic.Int64
	SegmentsSealed   atomic.Int64
	RecordsArchived  atomic.Int64
	RecordsReclaimed atomic.Int64
	Errors           atomic.Int64
}

// RunResult summarizes one archive run.
type RunResult struct {
	// WindowsArchived is the number of segments sealed this run.
	WindowsArchived int

	// RecordsArchived is the number of records moved into new segments.
	RecordsArchived int64

	// RecordsReclaimed is the number of live records deleted because a
	// sealed segment already held them.
	RecordsReclaimed int64
}

// New creates an archiver over the given store and index.
func New(cfg *config.Config, store *livestore.Store, index *archindex.Index, runState *archindex.RunStateStore) *Archiver {
	return &Archiver{
		cfg:      cfg,
		store:    store,
		index:    index,
		runState: runState,
		log:      logging.Component("archiver"),
		now:      time.Now,
	}
}

// Start launches the periodic archive loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)

		ticker := time.NewTicker(a.cfg.Archive.Interval)
		defer ticker.Stop()

		a.log.Info("archive loop started", "interval", a.cfg.Archive.Interval)

		for {
			select {
			case <-ctx.Done():
				a.log.Info("archive loop stopped")
				return
			case <-ticker.C:
				if _, err := a.RunOnce(ctx); err != nil {
					a.stats.Errors.Add(1)
					a.log.Error("archive run failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// RunOnce performs a single archive run: recover any interrupted run, then
// archive every eligible window. Runs are serialized; a concurrent call
// blocks until the current run completes.
func (a *Archiver) RunOnce(ctx context.Context) (RunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Runs.Add(1)

	var result RunResult

	reclaimed, err := a.recover(ctx)
	if err != nil {
		return result, fmt.Errorf("recover interrupted run: %w", err)
	}
	result.RecordsReclaimed += reclaimed

	windows, err := a.eligibleWindows(ctx)
	if err != nil {
		return result, err
	}

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, reclaimed, err := a.archiveWindow(ctx, w.startMs, w.endMs)
		if err != nil {
			return result, fmt.Errorf("archive window [%d, %d): %w", w.startMs, w.endMs, err)
		}
		if n > 0 {
			result.WindowsArchived++
			result.RecordsArchived += n
		}
		result.RecordsReclaimed += reclaimed
	}

	if result.WindowsArchived > 0 || result.RecordsReclaimed > 0 {
		a.log.Info("archive run complete",
			"windows", result.WindowsArchived,
			"archived", result.RecordsArchived,
			"reclaimed", result.RecordsReclaimed)
	}

	return result, nil
}

// window is one aligned archive window, end exclusive.
type window struct {
	startMs, endMs int64
}

// eligibleWindows lists the aligned windows whose end has passed the
// retention horizon and which still hold live records.
func (a *Archiver) eligibleWindows(ctx context.Context) ([]window, error) {
	minMs, maxMs, ok, err := a.store.Bounds(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	alignMs := a.cfg.Archive.Window.Milliseconds()
	cutoffMs := a.now().Add(-a.cfg.Archive.Retention).UnixMilli()

	var windows []window
	for startMs := minMs - (minMs % alignMs); startMs <= maxMs; startMs += alignMs {
		endMs := startMs + alignMs
		if endMs >= cutoffMs {
			break
		}
		windows = append(windows, window{startMs: startMs, endMs: endMs})
	}

	return windows, nil
}

// archiveWindow archives one window. When a sealed segment already covers
// the window, the live records it holds are reclaimed instead of archived
// again. Returns the number of records archived and reclaimed.
func (a *Archiver) archiveWindow(ctx context.Context, startMs, endMs int64) (int64, int64, error) {
	candidates, err := a.store.RangeQuery(ctx, startMs, endMs, livestore.Filter{})
	if err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}

	if a.index.HasWindow(startMs, endMs) {
		reclaimed, err := a.reconcileWindow(ctx, startMs, endMs, candidates)
		return 0, reclaimed, err
	}

	if err := a.sealAndPublish(ctx, startMs, endMs, candidates); err != nil {
		return 0, 0, err
	}

	return int64(len(candidates)), 0, nil
}

// sealAndPublish runs the seal, verify, publish, delete sequence for one
// window's records. The exact key set is captured up front: the delete at
// the end removes precisely the records that were written to the segment,
// never records that arrived during the run.
func (a *Archiver) sealAndPublish(ctx context.Context, startMs, endMs int64, records []types.Record) error {
	segID := uuid.New()
	finalName := segID.String() + ".parquet"
	finalPath := filepath.Join(a.cfg.SegmentDir(), finalName)
	tempPath := finalPath + ".tmp"

	rs := archindex.RunState{
		RunID:         uuid.New(),
		Phase:         archindex.PhaseSealing,
		WindowStartMs: startMs,
		WindowEndMs:   endMs,
		SegmentID:     segID,
		TempPath:      tempPath,
	}
	if err := a.runState.Save(rs); err != nil {
		return err
	}

	meta := segment.Meta{
		WindowStartMs: startMs,
		WindowEndMs:   endMs,
		RecordCount:   int64(len(records)),
	}
	opts := segment.Options{
		Compression: segment.ParseCompressionType(a.cfg.Archive.Compression),
	}

	if err := a.seal(tempPath, records, meta, opts); err != nil {
		return err
	}

	sum, err := a.verify(tempPath, &rs)
	if err != nil {
		return err
	}

	if err := a.publish(tempPath, finalPath, &rs, archindex.Entry{
		ID:            segID,
		Path:          finalName,
		WindowStartMs: startMs,
		WindowEndMs:   endMs,
		RecordCount:   int64(len(records)),
		Checksum:      sum,
		SealedAt:      a.now().UTC(),
	}); err != nil {
		return err
	}

	keys := make([]types.Key, len(records))
	for i := range records {
		keys[i] = records[i].Key()
	}

	if _, err := a.store.DeleteKeys(ctx, keys); err != nil {
		// The segment is published and indexed; the live duplicates will
		// be reclaimed on the next run.
		return fmt.Errorf("delete archived records: %w", err)
	}

	if err := a.runState.Clear(); err != nil {
		return err
	}

	a.stats.SegmentsSealed.Add(1)
	a.stats.RecordsArchived.Add(int64(len(records)))

	a.log.Info("segment sealed",
		"segment", segID,
		"window_start_ms", startMs,
		"window_end_ms", endMs,
		"records", len(records))

	return nil
}

// seal writes the segment to its temp path. On failure the temp file is
// gone and the live store has not been touched.
func (a *Archiver) seal(tempPath string, records []types.Record, meta segment.Meta, opts segment.Options) error {
	if err := segment.Write(tempPath, records, meta, opts); err != nil {
		a.abort(tempPath)
		return fmt.Errorf("seal segment: %w", err)
	}
	return nil
}

// verify re-reads the sealed temp segment and records its checksum in the
// run state.
func (a *Archiver) verify(tempPath string, rs *archindex.RunState) (string, error) {
	sum, err := segment.Checksum(tempPath)
	if err != nil {
		a.abort(tempPath)
		return "", fmt.Errorf("checksum segment: %w", err)
	}
	if err := segment.Verify(tempPath, sum); err != nil {
		a.abort(tempPath)
		return "", fmt.Errorf("verify segment: %w", err)
	}

	rs.Phase = archindex.PhaseVerified
	rs.Checksum = sum
	if err := a.runState.Save(*rs); err != nil {
		a.abort(tempPath)
		return "", err
	}

	return sum, nil
}

// publish renames the verified segment into place and adds it to the
// index. After the run state records "published" the segment is the
// durable copy of the window.
func (a *Archiver) publish(tempPath, finalPath string, rs *archindex.RunState, e archindex.Entry) error {
	if err := segment.Publish(tempPath, finalPath); err != nil {
		a.abort(tempPath)
		return err
	}
	if err := a.index.Add(e); err != nil {
		return fmt.Errorf("index segment: %w", err)
	}

	rs.Phase = archindex.PhasePublished
	return a.runState.Save(*rs)
}

// abort removes a temp segment and clears the run state after a failed
// seal or verify. Best effort: a leftover temp file is also swept by
// recovery.
func (a *Archiver) abort(tempPath string) {
	os.Remove(tempPath)
	if err := a.runState.Clear(); err != nil {
		a.log.Warn("clear run state after abort", "error", err)
	}
}

// recover inspects the persisted run state left by an interrupted run. A
// run that died before publish only leaves a temp file to sweep. A run
// that died after publish has its segment safely indexed, so the live
// records it covers are reclaimed here.
func (a *Archiver) recover(ctx context.Context) (int64, error) {
	rs, ok, err := a.runState.Load()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	a.log.Warn("recovering interrupted archive run",
		"run", rs.RunID,
		"phase", rs.Phase,
		"window_start_ms", rs.WindowStartMs,
		"window_end_ms", rs.WindowEndMs)

	switch rs.Phase {
	case archindex.PhaseSealing, archindex.PhaseVerified:
		// Publish never happened; the temp file is garbage and the live
		// store still holds every record.
		if err := os.Remove(rs.TempPath); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("remove stale temp segment: %w", err)
		}
		return 0, a.runState.Clear()

	case archindex.PhasePublished:
		// The segment is durable; the delete did not complete. Reclaim
		// the live duplicates it covers.
		candidates, err := a.store.RangeQuery(ctx, rs.WindowStartMs, rs.WindowEndMs, livestore.Filter{})
		if err != nil {
			return 0, err
		}
		reclaimed, err := a.reconcileWindow(ctx, rs.WindowStartMs, rs.WindowEndMs, candidates)
		if err != nil {
			return 0, err
		}
		return reclaimed, a.runState.Clear()

	default:
		return 0, fmt.Errorf("unknown run phase %q", rs.Phase)
	}
}

// reconcileWindow deletes the live records already held by the sealed
// segment covering [startMs, endMs). Records in the window that the
// segment does not hold are left in place and flagged; deleting them would
// lose data that was never archived.
func (a *Archiver) reconcileWindow(ctx context.Context, startMs, endMs int64, candidates []types.Record) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	archived := make(map[types.Key]struct{})
	for _, e := range a.index.Covering(startMs, endMs) {
		// A segment that fails its recorded checksum is not a durable copy
		// of anything; deleting live records on its word would lose data.
		path := a.index.SegmentPath(e)
		if err := segment.VerifyDigest(path, e.Checksum); err != nil {
			return 0, fmt.Errorf("segment %s: %w", e.ID, err)
		}
		r, err := segment.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open segment %s: %w", e.ID, err)
		}
		keys, err := r.Keys()
		r.Close()
		if err != nil {
			return 0, fmt.Errorf("read segment %s keys: %w", e.ID, err)
		}
		for _, k := range keys {
			archived[k] = struct{}{}
		}
	}

	var toDelete []types.Key
	var stranded int
	for i := range candidates {
		k := candidates[i].Key()
		if _, ok := archived[k]; ok {
			toDelete = append(toDelete, k)
		} else {
			stranded++
		}
	}

	if stranded > 0 {
		a.log.Warn("live records in archived window not covered by any segment",
			"window_start_ms", startMs,
			"window_end_ms", endMs,
			"count", stranded)
	}

	deleted, err := a.store.DeleteKeys(ctx, toDelete)
	if err != nil {
		return 0, err
	}

	a.stats.RecordsReclaimed.Add(deleted)
	return deleted, nil
}

// Snapshot returns a copy of the archiver statistics.
func (a *Archiver) Snapshot() ArchiverStats {
	return ArchiverStats{
		Runs:             a.stats.Runs.Load(),
		SegmentsSealed:   a.stats.SegmentsSealed.Load(),
		RecordsArchived:  a.stats.RecordsArchived.Load(),
		RecordsReclaimed: a.stats.RecordsReclaimed.Load(),
		Errors:           a.stats.Errors.Load(),
	}
}

// ArchiverStats holds archiver statistics.
type ArchiverStats struct {
	Runs             int64 `json:"runs"`
	SegmentsSealed   int64 `json:"segments_sealed"`
	RecordsArchived  int64 `json:"records_archived"`
	RecordsReclaimed int64 `json:"records_reclaimed"`
	Errors           int64 `json:"errors"`
}
