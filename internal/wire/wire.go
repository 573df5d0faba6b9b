// Package wire defines the JSON shapes exchanged on the HTTP boundary.
//
// The wire types are deliberately separate from the storage types: the
// on-the-wire field names are a compatibility contract with deployed
// collector agents and must not drift when internals are renamed.
package wire

import (
	"github.com/xtxerr/rfistat/internal/storage/ingest"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Record is the wire form of a statistic record.
type Record struct {
	AgentID     string            `json:"agent_id"`
	Channel     int32             `json:"channel"`
	TimestampMs int64             `json:"timestamp_ms"`
	Value       float64           `json:"value"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	Records []Record `json:"records"`
}

// IngestResult is the per-record outcome in an ingest response.
type IngestResult struct {
	AgentID     string `json:"agent_id"`
	Channel     int32  `json:"channel"`
	TimestampMs int64  `json:"timestamp_ms"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// IngestResponse is the body of a successful ingest call.
type IngestResponse struct {
	Results []IngestResult `json:"results"`
}

// QueryResponse is the body of a successful query call.
type QueryResponse struct {
	Records []Record `json:"records"`
	Count   int      `json:"count"`
}

// ArchiveRunResponse reports a manually triggered archive pass.
type ArchiveRunResponse struct {
	WindowsArchived  int   `json:"windows_archived"`
	RecordsArchived  int64 `json:"records_archived"`
	RecordsReclaimed int64 `json:"records_reclaimed"`
}

// ErrorResponse carries an error and its reason code.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// ToRecord converts a wire record to its storage form.
func ToRecord(r Record) types.Record {
	return types.Record{
		AgentID:     r.AgentID,
		Channel:     r.Channel,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
		Metadata:    r.Metadata,
	}
}

// FromRecord converts a storage record to its wire form.
func FromRecord(r types.Record) Record {
	return Record{
		AgentID:     r.AgentID,
		Channel:     r.Channel,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
		Metadata:    r.Metadata,
	}
}

// ToRecords converts a slice of wire records.
func ToRecords(in []Record) []types.Record {
	out := make([]types.Record, len(in))
	for i := range in {
		out[i] = ToRecord(in[i])
	}
	return out
}

// FromRecords converts a slice of storage records.
func FromRecords(in []types.Record) []Record {
	out := make([]Record, len(in))
	for i := range in {
		out[i] = FromRecord(in[i])
	}
	return out
}

// FromResults converts ingest results to their wire form.
func FromResults(in []ingest.Result) []IngestResult {
	out := make([]IngestResult, len(in))
	for i := range in {
		out[i] = IngestResult{
			AgentID:     in[i].Key.AgentID,
			Channel:     in[i].Key.Channel,
			TimestampMs: in[i].Key.TimestampMs,
			Status:      string(in[i].Status),
			Reason:      in[i].Reason,
		}
	}
	return out
}
