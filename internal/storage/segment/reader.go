package segment

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Reader reads records from a segment file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[recordRow]
	meta   Meta
	path   string
}

// Open opens a segment file and validates its footer.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrSegmentNotFound, "%s", path)
		}
		return nil, fmt.Errorf("open segment: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(errors.ErrSegmentCorrupt, "%s: %v", path, err)
	}

	meta, err := metaFromFile(pf)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(errors.ErrSegmentCorrupt, "%s: %v", path, err)
	}
	if meta.FormatVersion != FormatVersion {
		f.Close()
		return nil, errors.Wrapf(errors.ErrSegmentCorrupt, "%s: unsupported format version %d", path, meta.FormatVersion)
	}
	if meta.RecordCount != pf.NumRows() {
		f.Close()
		return nil, errors.Wrapf(errors.ErrSegmentCorrupt, "%s: footer says %d records, file has %d", path, meta.RecordCount, pf.NumRows())
	}

	reader := parquet.NewGenericReader[recordRow](pf)

	return &Reader{
		file:   f,
		reader: reader,
		meta:   meta,
		path:   path,
	}, nil
}

// Meta returns the segment's footer metadata.
func (r *Reader) Meta() Meta {
	return r.meta
}

// NumRows returns the total number of rows in the segment.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// ReadAll reads all records from the segment.
func (r *Reader) ReadAll() ([]types.Record, error) {
	numRows := r.reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]recordRow, numRows)
	n, err := r.reader.Read(rows)
	if err != nil && n < int(numRows) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	records := make([]types.Record, n)
	for i := 0; i < n; i++ {
		records[i], err = rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
	}

	return records, nil
}

// Keys reads the record keys from the segment. The archiver uses this to
// reconcile the live store against already-sealed segments.
func (r *Reader) Keys() ([]types.Key, error) {
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	keys := make([]types.Key, len(records))
	for i := range records {
		keys[i] = records[i].Key()
	}
	return keys, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}
