// Package segment reads and writes archive segment files.
//
// A segment is an immutable Parquet file holding every record of one
// archive window. Segments are self-describing: the window bounds, record
// count and format version travel in the Parquet key/value metadata, so a
// segment found on disk can be interpreted without the index.
package segment

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/rfistat/internal/storage/types"
)

// FormatVersion is written into every segment and checked on open.
const FormatVersion = 1

// Metadata keys carried in the Parquet footer.
const (
	metaKeyFormatVersion = "format_version"
	metaKeyWindowStartMs = "window_start_ms"
	metaKeyWindowEndMs   = "window_end_ms"
	metaKeyRecordCount   = "record_count"
)

// Meta describes a segment's window and contents.
type Meta struct {
	FormatVersion int
	WindowStartMs int64
	WindowEndMs   int64
	RecordCount   int64
}

// Options configures the segment writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default segment options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// recordRow is the Parquet representation of a statistic record. Metadata
// is stored as a JSON string so SQL engines can scan the column directly.
type recordRow struct {
	AgentID     string  `parquet:"agent_id,zstd"`
	Channel     int32   `parquet:"channel"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
	Metadata    string  `parquet:"metadata,optional,zstd"`
}

// recordToRow converts a Record to its Parquet row form.
func recordToRow(r *types.Record) (recordRow, error) {
	row := recordRow{
		AgentID:     r.AgentID,
		Channel:     r.Channel,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
	}

	if len(r.Metadata) > 0 {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return recordRow{}, fmt.Errorf("encode metadata for %s: %w", r.Key(), err)
		}
		row.Metadata = string(data)
	}

	return row, nil
}

// rowToRecord converts a Parquet row back to a Record.
func rowToRecord(row *recordRow) (types.Record, error) {
	r := types.Record{
		AgentID:     row.AgentID,
		Channel:     row.Channel,
		TimestampMs: row.TimestampMs,
		Value:       row.Value,
	}

	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &r.Metadata); err != nil {
			return types.Record{}, fmt.Errorf("decode metadata for %s: %w", r.Key(), err)
		}
	}

	return r, nil
}

// metaWriterOptions returns the writer options that embed meta into the
// Parquet footer.
func metaWriterOptions(m Meta) []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.KeyValueMetadata(metaKeyFormatVersion, strconv.Itoa(m.FormatVersion)),
		parquet.KeyValueMetadata(metaKeyWindowStartMs, strconv.FormatInt(m.WindowStartMs, 10)),
		parquet.KeyValueMetadata(metaKeyWindowEndMs, strconv.FormatInt(m.WindowEndMs, 10)),
		parquet.KeyValueMetadata(metaKeyRecordCount, strconv.FormatInt(m.RecordCount, 10)),
	}
}

// metaFromFile extracts Meta from a Parquet file footer.
func metaFromFile(f *parquet.File) (Meta, error) {
	var m Meta

	lookupInt := func(key string) (int64, error) {
		v, ok := f.Lookup(key)
		if !ok {
			return 0, fmt.Errorf("missing footer key %q", key)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("footer key %q: %w", key, err)
		}
		return n, nil
	}

	fv, err := lookupInt(metaKeyFormatVersion)
	if err != nil {
		return m, err
	}
	m.FormatVersion = int(fv)

	if m.WindowStartMs, err = lookupInt(metaKeyWindowStartMs); err != nil {
		return m, err
	}
	if m.WindowEndMs, err = lookupInt(metaKeyWindowEndMs); err != nil {
		return m, err
	}
	if m.RecordCount, err = lookupInt(metaKeyRecordCount); err != nil {
		return m, err
	}

	return m, nil
}
