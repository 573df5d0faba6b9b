package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/storage"
	"github.com/xtxerr/rfistat/internal/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Service) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ClockSkew = time.Minute
	cfg.Archive.Interval = time.Hour
	cfg.Server.Listen = "127.0.0.1:0"

	svc, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("storage.Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	ts := httptest.NewServer(New(cfg, svc).Router())
	t.Cleanup(ts.Close)

	return ts, svc
}

func postIngest(t *testing.T, ts *httptest.Server, req wire.IngestRequest) (*http.Response, wire.IngestResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST ingest: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var out wire.IngestResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode ingest response: %v", err)
		}
	}
	return resp, out
}

func TestIngestEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	now := time.Now().UnixMilli()

	resp, out := postIngest(t, ts, wire.IngestRequest{
		Records: []wire.Record{
			{AgentID: "dish-01", Channel: 3, TimestampMs: now, Value: 0.4},
			{AgentID: "dish-01", Channel: 9999, TimestampMs: now, Value: 0.4},
		},
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results: got %d, want 2", len(out.Results))
	}
	if out.Results[0].Status != "ack" || out.Results[0].Reason != errors.ReasonOK {
		t.Errorf("record 0: got %s/%s", out.Results[0].Status, out.Results[0].Reason)
	}
	if out.Results[1].Status != "rejected" || out.Results[1].Reason != errors.ReasonOutOfRange {
		t.Errorf("record 1: got %s/%s", out.Results[1].Status, out.Results[1].Reason)
	}
}

func TestIngestDuplicate(t *testing.T) {
	ts, _ := newTestServer(t)
	now := time.Now().UnixMilli()

	req := wire.IngestRequest{
		Records: []wire.Record{{AgentID: "dish-01", Channel: 3, TimestampMs: now, Value: 0.4}},
	}

	if resp, _ := postIngest(t, ts, req); resp.StatusCode != http.StatusOK {
		t.Fatalf("first ingest: status %d", resp.StatusCode)
	}

	resp, out := postIngest(t, ts, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second ingest: status %d", resp.StatusCode)
	}
	if out.Results[0].Status != "ack" || out.Results[0].Reason != errors.ReasonDuplicate {
		t.Errorf("got %s/%s, want ack/DUPLICATE", out.Results[0].Status, out.Results[0].Reason)
	}
}

func TestIngestRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"empty batch", `{"records":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}

			var out wire.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if out.Reason != errors.ReasonMalformed {
				t.Errorf("reason: got %s, want MALFORMED", out.Reason)
			}
		})
	}
}

func TestQueryEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	now := time.Now().UnixMilli()

	postIngest(t, ts, wire.IngestRequest{
		Records: []wire.Record{
			{AgentID: "dish-01", Channel: 3, TimestampMs: now, Value: 0.4, Metadata: map[string]string{"integration_s": "30"}},
			{AgentID: "dish-02", Channel: 5, TimestampMs: now, Value: 0.6},
		},
	})

	url := fmt.Sprintf("%s/api/v1/query?start_ms=%d&end_ms=%d", ts.URL, now-1000, now+1000)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var out wire.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || len(out.Records) != 2 {
		t.Fatalf("got %d records, want 2", out.Count)
	}
	if out.Records[0].Metadata["integration_s"] != "30" {
		t.Errorf("metadata lost: %v", out.Records[0].Metadata)
	}

	// Agent filter.
	resp2, err := http.Get(url + "&agent_id=dish-02")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()

	var filtered wire.QueryResponse
	if err := json.NewDecoder(resp2.Body).Decode(&filtered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if filtered.Count != 1 || filtered.Records[0].AgentID != "dish-02" {
		t.Errorf("agent filter: got %+v", filtered.Records)
	}

	// Channel filter.
	resp3, err := http.Get(url + "&channel=3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()

	var byChannel wire.QueryResponse
	if err := json.NewDecoder(resp3.Body).Decode(&byChannel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if byChannel.Count != 1 || byChannel.Records[0].Channel != 3 {
		t.Errorf("channel filter: got %+v", byChannel.Records)
	}
}

func TestQueryRejectsInvalidRanges(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing bounds", ""},
		{"missing end", "start_ms=0"},
		{"inverted", "start_ms=2000&end_ms=1000"},
		{"non-numeric", "start_ms=abc&end_ms=1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/v1/query?" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}

			var out wire.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Reason != errors.ReasonInvalidRange {
				t.Errorf("reason: got %s, want INVALID_RANGE", out.Reason)
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	postIngest(t, ts, wire.IngestRequest{
		Records: []wire.Record{
			{AgentID: "dish-01", Channel: 3, TimestampMs: time.Now().UnixMilli(), Value: 0.4},
		},
	})

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var out struct {
		Stats struct {
			Running bool `json:"running"`
			Ingest  struct {
				Accepted int64 `json:"accepted"`
			} `json:"ingest"`
		} `json:"stats"`
		Occupancy struct {
			Count int64 `json:"count"`
		} `json:"occupancy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Stats.Running {
		t.Error("expected running=true")
	}
	if out.Stats.Ingest.Accepted != 1 {
		t.Errorf("accepted: got %d, want 1", out.Stats.Ingest.Accepted)
	}
	if out.Occupancy.Count != 1 {
		t.Errorf("occupancy count: got %d, want 1", out.Occupancy.Count)
	}
}

func TestArchiveRunEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/archive/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var out wire.ArchiveRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.WindowsArchived != 0 {
		t.Errorf("windows archived on empty store: got %d, want 0", out.WindowsArchived)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	postIngest(t, ts, wire.IngestRequest{
		Records: []wire.Record{
			{AgentID: "dish-01", Channel: 3, TimestampMs: time.Now().UnixMilli(), Value: 0.4},
		},
	})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	body := buf.String()
	if !strings.Contains(body, "rfistat_ingest_records_total") {
		t.Error("expected rfistat_ingest_records_total in metrics output")
	}
	if !strings.Contains(body, "rfistat_http_requests_total") {
		t.Error("expected rfistat_http_requests_total in metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/ingest")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}
