package types

import (
	"fmt"
	"sort"
	"time"
)

// Record represents a single RFI occupancy statistic reported by a collector
// agent. This is the primary data unit flowing through the storage system.
type Record struct {
	// Identity
	AgentID string // Reporting collector (e.g., "receiver-east-02")
	Channel int32  // Frequency channel index, bounded to [0, C)

	// Timestamp
	TimestampMs int64 // Unix timestamp in milliseconds, UTC

	// Value is the occupancy measurement in [0, 1].
	Value float64

	// Metadata holds optional auxiliary fields (e.g., integration length).
	// The core stores it opaquely and passes it through on queries.
	Metadata map[string]string
}

// Key identifies a record. The tuple is unique across the system: a repeated
// key is either a duplicate or a correction, per the configured policy.
type Key struct {
	AgentID     string
	Channel     int32
	TimestampMs int64
}

// Key returns the uniqueness key for this record.
func (r *Record) Key() Key {
	return Key{AgentID: r.AgentID, Channel: r.Channel, TimestampMs: r.TimestampMs}
}

// Time returns the timestamp as a time.Time in UTC.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.TimestampMs).UTC()
}

// String returns a compact representation, useful in logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d@%d", k.AgentID, k.Channel, k.TimestampMs)
}

// SortRecords orders records by timestamp, then agent, then channel. Query
// results use this ordering so repeated queries are deterministic.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].TimestampMs != records[j].TimestampMs {
			return records[i].TimestampMs < records[j].TimestampMs
		}
		if records[i].AgentID != records[j].AgentID {
			return records[i].AgentID < records[j].AgentID
		}
		return records[i].Channel < records[j].Channel
	})
}

// RecordBatch represents a collection of records for batch processing.
type RecordBatch struct {
	Records []Record
}

// NewRecordBatch creates a new batch with the given capacity.
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{
		Records: make([]Record, 0, capacity),
	}
}

// Add appends a record to the batch.
func (b *RecordBatch) Add(r Record) {
	b.Records = append(b.Records, r)
}

// Len returns the number of records in the batch.
func (b *RecordBatch) Len() int {
	return len(b.Records)
}

// Clear resets the batch for reuse.
func (b *RecordBatch) Clear() {
	b.Records = b.Records[:0]
}
