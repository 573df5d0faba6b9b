package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

func testRecords() []types.Record {
	return []types.Record{
		{AgentID: "a1", Channel: 0, TimestampMs: 1000, Value: 0.25},
		{AgentID: "a1", Channel: 1, TimestampMs: 1500, Value: 0.50, Metadata: map[string]string{"integration_s": "30"}},
		{AgentID: "a2", Channel: 0, TimestampMs: 2000, Value: 0.75},
	}
}

func writeTestSegment(t *testing.T, records []types.Record, meta Meta) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "seg.parquet")
	if err := Write(path, records, meta, DefaultOptions()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func TestWriteReadRoundtrip(t *testing.T) {
	records := testRecords()
	meta := Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3}
	path := writeTestSegment(t, records, meta)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := r.Meta()
	if got.FormatVersion != FormatVersion {
		t.Errorf("format version: got %d, want %d", got.FormatVersion, FormatVersion)
	}
	if got.WindowStartMs != 0 || got.WindowEndMs != 3600000 {
		t.Errorf("window: got [%d, %d)", got.WindowStartMs, got.WindowEndMs)
	}
	if got.RecordCount != 3 {
		t.Errorf("record count: got %d, want 3", got.RecordCount)
	}

	read, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(read) != len(records) {
		t.Fatalf("read %d records, want %d", len(read), len(records))
	}
	for i := range records {
		if read[i].Key() != records[i].Key() {
			t.Errorf("record %d: key %s, want %s", i, read[i].Key(), records[i].Key())
		}
		if read[i].Value != records[i].Value {
			t.Errorf("record %d: value %f, want %f", i, read[i].Value, records[i].Value)
		}
	}
	if read[1].Metadata["integration_s"] != "30" {
		t.Errorf("metadata lost: %v", read[1].Metadata)
	}
}

func TestWriteEmptySegment(t *testing.T) {
	path := writeTestSegment(t, nil, Meta{WindowStartMs: 0, WindowEndMs: 1000, RecordCount: 0})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty segment, got %d records", len(records))
	}
}

func TestWriteRejectsCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.parquet")
	meta := Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 99}

	if err := Write(path, testRecords(), meta, DefaultOptions()); err == nil {
		t.Fatal("expected error for record count mismatch")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file left behind")
	}
}

func TestWriteRejectsOutOfWindowRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.parquet")
	meta := Meta{WindowStartMs: 0, WindowEndMs: 1500, RecordCount: 3}

	if err := Write(path, testRecords(), meta, DefaultOptions()); err == nil {
		t.Fatal("expected error for record outside window")
	}
}

func TestKeys(t *testing.T) {
	records := testRecords()
	path := writeTestSegment(t, records, Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	keys, err := r.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != len(records) {
		t.Fatalf("got %d keys, want %d", len(keys), len(records))
	}
	for i := range records {
		if keys[i] != records[i].Key() {
			t.Errorf("key %d: got %s, want %s", i, keys[i], records[i].Key())
		}
	}
}

func TestOpenMissingSegment(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.parquet"))
	if !errors.Is(err, errors.ErrSegmentNotFound) {
		t.Errorf("expected ErrSegmentNotFound, got %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.parquet")
	if err := os.WriteFile(path, []byte("not a parquet file"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if !errors.Is(err, errors.ErrSegmentCorrupt) {
		t.Errorf("expected ErrSegmentCorrupt, got %v", err)
	}
}

func TestChecksumStable(t *testing.T) {
	path := writeTestSegment(t, testRecords(), Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3})

	c1, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	c2, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if c1 != c2 {
		t.Errorf("checksum not stable: %s vs %s", c1, c2)
	}
	if len(c1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(c1))
	}
}

func TestVerify(t *testing.T) {
	path := writeTestSegment(t, testRecords(), Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3})

	sum, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}

	if err := Verify(path, sum); err != nil {
		t.Errorf("Verify: %v", err)
	}

	if err := Verify(path, "0000000000000000000000000000000000000000000000000000000000000000"); !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestVerifyDigest(t *testing.T) {
	path := writeTestSegment(t, testRecords(), Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3})

	sum, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}

	if err := VerifyDigest(path, sum); err != nil {
		t.Errorf("VerifyDigest: %v", err)
	}

	if err := VerifyDigest(path, "0000000000000000000000000000000000000000000000000000000000000000"); !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	path := writeTestSegment(t, testRecords(), Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3})

	sum, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}

	// Flip a byte in the middle of the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path, sum); !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "seg.parquet.tmp")
	finalPath := filepath.Join(dir, "seg.parquet")

	meta := Meta{WindowStartMs: 0, WindowEndMs: 3600000, RecordCount: 3}
	if err := Write(tempPath, testRecords(), meta, DefaultOptions()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := Publish(tempPath, finalPath); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("temp file still present after publish")
	}

	r, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open after publish: %v", err)
	}
	r.Close()
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"bogus", CompressionZstd},
	}

	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
