// Package archindex maintains the durable index of sealed archive segments.
//
// The index is the authority on which windows have been archived and which
// checksum each segment must match. It is persisted as a JSON file written
// with the temp-then-rename pattern, and can be rebuilt from the segment
// files themselves because segments are self-describing.
package archindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/segment"
)

// Entry describes one sealed segment.
type Entry struct {
	// ID uniquely identifies the segment.
	ID uuid.UUID `json:"id"`

	// Path is the segment file path relative to the segment directory.
	Path string `json:"path"`

	// WindowStartMs and WindowEndMs bound the archive window, end exclusive.
	WindowStartMs int64 `json:"window_start_ms"`
	WindowEndMs   int64 `json:"window_end_ms"`

	// RecordCount is the number of records in the segment.
	RecordCount int64 `json:"record_count"`

	// Checksum is the hex BLAKE3-256 digest of the segment file.
	Checksum string `json:"checksum"`

	// SealedAt records when the segment was published.
	SealedAt time.Time `json:"sealed_at"`
}

// indexFile is the on-disk shape of the index.
type indexFile struct {
	Version  int     `json:"version"`
	Segments []Entry `json:"segments"`
}

const indexVersion = 1

// Index is the in-memory view of the segment index, backed by a JSON file.
type Index struct {
	mu      sync.RWMutex
	path    string
	segDir  string
	entries []Entry
}

// Open loads the index at path, or starts an empty one if the file does
// not exist. segDir is the directory entry paths are relative to.
func Open(path, segDir string) (*Index, error) {
	idx := &Index{
		path:   path,
		segDir: segDir,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if f.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", f.Version)
	}

	idx.entries = f.Segments
	idx.sortLocked()
	return idx, nil
}

// Add records a sealed segment and persists the index before returning.
// The entry becomes visible to readers only after the file write succeeds.
func (idx *Index) Add(e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := append(append([]Entry(nil), idx.entries...), e)
	if err := idx.persist(entries); err != nil {
		return err
	}

	idx.entries = entries
	idx.sortLocked()
	return nil
}

// Entries returns a copy of all entries, ordered by window start.
func (idx *Index) Entries() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Entry(nil), idx.entries...)
}

// Len returns the number of indexed segments.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Covering returns the entries whose windows overlap [startMs, endMs),
// ordered by window start.
func (idx *Index) Covering(startMs, endMs int64) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Entry
	for _, e := range idx.entries {
		if e.WindowStartMs < endMs && e.WindowEndMs > startMs {
			out = append(out, e)
		}
	}
	return out
}

// HasWindow reports whether a segment for exactly [startMs, endMs) exists.
func (idx *Index) HasWindow(startMs, endMs int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, e := range idx.entries {
		if e.WindowStartMs == startMs && e.WindowEndMs == endMs {
			return true
		}
	}
	return false
}

// SegmentPath returns the absolute path of an entry's segment file.
func (idx *Index) SegmentPath(e Entry) string {
	return filepath.Join(idx.segDir, e.Path)
}

// Rebuild discards the in-memory entries and reconstructs the index by
// scanning the segment directory, reading each file's footer and
// recomputing its checksum. Files that fail to parse are skipped with a
// warning; a valid segment must never be lost to a corrupt neighbor.
func (idx *Index) Rebuild(ctx context.Context) error {
	names, err := filepath.Glob(filepath.Join(idx.segDir, "*.parquet"))
	if err != nil {
		return fmt.Errorf("scan segment directory: %w", err)
	}

	log := logging.Component("archindex")

	var mu sync.Mutex
	var entries []Entry

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, path := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			e, err := entryFromFile(path)
			if err != nil {
				log.Warn("skipping unreadable segment", "path", path, "error", err)
				return nil
			}
			e.Path = filepath.Base(path)

			mu.Lock()
			entries = append(entries, e)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.persist(entries); err != nil {
		return err
	}
	idx.entries = entries
	idx.sortLocked()

	log.Info("index rebuilt", "segments", len(entries))
	return nil
}

// entryFromFile builds an Entry from a segment file on disk. The segment
// ID is recovered from the file name when it parses as a UUID, otherwise a
// fresh ID is assigned.
func entryFromFile(path string) (Entry, error) {
	r, err := segment.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer r.Close()

	sum, err := segment.Checksum(path)
	if err != nil {
		return Entry{}, err
	}

	meta := r.Meta()

	id, err := uuid.Parse(segmentIDFromName(filepath.Base(path)))
	if err != nil {
		id = uuid.New()
	}

	stat, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		ID:            id,
		WindowStartMs: meta.WindowStartMs,
		WindowEndMs:   meta.WindowEndMs,
		RecordCount:   meta.RecordCount,
		Checksum:      sum,
		SealedAt:      stat.ModTime().UTC(),
	}, nil
}

// segmentIDFromName strips the conventional segment file suffix.
func segmentIDFromName(name string) string {
	const suffix = ".parquet"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// persist writes entries to the index file with temp-then-rename. Caller
// must hold the write lock.
func (idx *Index) persist(entries []Entry) error {
	f := indexFile{
		Version:  indexVersion,
		Segments: entries,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	return atomicWrite(idx.path, data)
}

// sortLocked orders entries by window start. Caller must hold a lock.
func (idx *Index) sortLocked() {
	sort.Slice(idx.entries, func(i, j int) bool {
		return idx.entries[i].WindowStartMs < idx.entries[j].WindowStartMs
	})
}

// atomicWrite writes data to path via a temp file, fsync and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}

	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}

	return nil
}
