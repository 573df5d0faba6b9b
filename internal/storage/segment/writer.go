package segment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Write writes records as a segment file at path and syncs it to stable
// storage. The records must all fall inside [meta.WindowStartMs,
// meta.WindowEndMs) and meta.RecordCount must match len(records); both are
// checked here because the footer is the segment's contract with every
// later reader.
//
// Write targets a temporary path. Publishing the segment under its final
// name is the caller's job, after verification.
func Write(path string, records []types.Record, meta Meta, opts Options) error {
	if meta.FormatVersion == 0 {
		meta.FormatVersion = FormatVersion
	}
	if meta.RecordCount != int64(len(records)) {
		return fmt.Errorf("record count mismatch: meta says %d, have %d", meta.RecordCount, len(records))
	}
	for i := range records {
		ts := records[i].TimestampMs
		if ts < meta.WindowStartMs || ts >= meta.WindowEndMs {
			return fmt.Errorf("record %s outside window [%d, %d)", records[i].Key(), meta.WindowStartMs, meta.WindowEndMs)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writerOpts := append(metaWriterOptions(meta),
		parquet.Compression(getCompression(opts.Compression)),
	)

	w := parquet.NewGenericWriter[recordRow](f, writerOpts...)

	rows := make([]recordRow, len(records))
	for i := range records {
		rows[i], err = recordToRow(&records[i])
		if err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
	}

	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("write rows: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close writer: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close file: %w", err)
	}

	return syncDir(filepath.Dir(path))
}

// Publish atomically renames a sealed temporary segment to its final path
// and syncs the directory so the rename survives a crash.
func Publish(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("publish segment: %w", err)
	}
	return syncDir(filepath.Dir(finalPath))
}

// syncDir fsyncs a directory so renames and creates in it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
