package types

import (
	"testing"
	"time"
)

func TestRecordKey(t *testing.T) {
	r := Record{
		AgentID:     "receiver-east-02",
		Channel:     42,
		TimestampMs: 1700000000000,
	}

	k := r.Key()
	if k.AgentID != "receiver-east-02" || k.Channel != 42 || k.TimestampMs != 1700000000000 {
		t.Errorf("unexpected key %+v", k)
	}

	expected := "receiver-east-02/42@1700000000000"
	if k.String() != expected {
		t.Errorf("expected %s, got %s", expected, k.String())
	}
}

func TestRecordTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	r := Record{TimestampMs: now.UnixMilli()}

	if !r.Time().Equal(now) {
		t.Errorf("expected %v, got %v", now, r.Time())
	}
}

func TestSortRecords(t *testing.T) {
	records := []Record{
		{AgentID: "b", Channel: 1, TimestampMs: 200},
		{AgentID: "a", Channel: 2, TimestampMs: 100},
		{AgentID: "a", Channel: 1, TimestampMs: 100},
		{AgentID: "a", Channel: 1, TimestampMs: 50},
	}

	SortRecords(records)

	want := []Key{
		{AgentID: "a", Channel: 1, TimestampMs: 50},
		{AgentID: "a", Channel: 1, TimestampMs: 100},
		{AgentID: "a", Channel: 2, TimestampMs: 100},
		{AgentID: "b", Channel: 1, TimestampMs: 200},
	}

	for i, w := range want {
		if records[i].Key() != w {
			t.Errorf("position %d: expected %v, got %v", i, w, records[i].Key())
		}
	}
}

func TestRecordBatch(t *testing.T) {
	batch := NewRecordBatch(10)

	if batch.Len() != 0 {
		t.Errorf("expected empty batch")
	}

	batch.Add(Record{AgentID: "a1", Channel: 0, TimestampMs: 1})
	batch.Add(Record{AgentID: "a1", Channel: 1, TimestampMs: 1})

	if batch.Len() != 2 {
		t.Errorf("expected 2 records, got %d", batch.Len())
	}

	batch.Clear()
	if batch.Len() != 0 {
		t.Errorf("expected empty batch after clear")
	}
}
