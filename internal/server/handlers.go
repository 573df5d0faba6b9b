package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/query"
	"github.com/xtxerr/rfistat/internal/wire"
)

// maxIngestBody bounds an ingest request body. A full batch from a
// 16k-channel agent is well under this.
const maxIngestBody = 32 << 20

var requestCounter atomic.Uint64

// requestIDMiddleware tags every request with an ID for log correlation.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithRequestID(r.Context(), requestCounter.Add(1))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleIngest accepts a batch of records and answers with one result per
// record. The HTTP status is 200 even when individual records are
// rejected; only a malformed request or unavailable storage fails the call
// as a whole.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req wire.IngestRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, "ingest", http.StatusBadRequest, errors.ReasonMalformed, err)
		return
	}
	if len(req.Records) == 0 {
		s.writeError(w, "ingest", http.StatusBadRequest, errors.ReasonMalformed, errors.New("no records"))
		return
	}

	results, err := s.svc.Submit(r.Context(), wire.ToRecords(req.Records))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsTransient(err) || errors.Is(err, errors.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, "ingest", status, errors.ErrorToReason(err), err)
		return
	}

	for _, res := range results {
		s.metrics.ingestRecords.WithLabelValues(res.Reason).Inc()
	}

	s.writeJSON(w, "ingest", http.StatusOK, wire.IngestResponse{
		Results: wire.FromResults(results),
	})
}

// handleQuery answers a bounded range query. Parameters: start_ms, end_ms
// (required), agent_id, channel, limit.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		s.writeError(w, "query", http.StatusBadRequest, errors.ErrorToReason(err), err)
		return
	}

	start := time.Now()
	records, err := s.svc.Query(r.Context(), req)
	s.metrics.queryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errors.ErrInvalidRange):
			status = http.StatusBadRequest
		case errors.Is(err, errors.ErrTimeout):
			status = http.StatusGatewayTimeout
		case errors.Is(err, errors.ErrNotRunning):
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, "query", status, errors.ErrorToReason(err), err)
		return
	}

	s.writeJSON(w, "query", http.StatusOK, wire.QueryResponse{
		Records: wire.FromRecords(records),
		Count:   len(records),
	})
}

// parseQueryRequest extracts a query.Request from URL parameters.
func parseQueryRequest(r *http.Request) (query.Request, error) {
	var req query.Request
	q := r.URL.Query()

	startStr, endStr := q.Get("start_ms"), q.Get("end_ms")
	if startStr == "" || endStr == "" {
		return req, errors.Wrap(errors.ErrInvalidRange, "start_ms and end_ms are required")
	}

	var err error
	if req.StartMs, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return req, errors.Wrapf(errors.ErrInvalidRange, "start_ms: %v", err)
	}
	if req.EndMs, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return req, errors.Wrapf(errors.ErrInvalidRange, "end_ms: %v", err)
	}

	req.AgentID = q.Get("agent_id")

	if chStr := q.Get("channel"); chStr != "" {
		ch, err := strconv.ParseInt(chStr, 10, 32)
		if err != nil {
			return req, errors.NewMalformed("channel must be an integer")
		}
		ch32 := int32(ch)
		req.Channel = &ch32
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if req.Limit, err = strconv.Atoi(limitStr); err != nil {
			return req, errors.NewMalformed("limit must be an integer")
		}
	}

	return req, nil
}

// handleStats reports combined service statistics and the occupancy
// distribution.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, "stats", http.StatusOK, map[string]any{
		"stats":     s.svc.Stats(),
		"occupancy": s.svc.Occupancy(),
	})
}

// handleArchiveRun triggers an immediate archive pass and reports what it
// did.
func (s *Server) handleArchiveRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.RunArchive(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errors.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, "archive_run", status, errors.ErrorToReason(err), err)
		return
	}

	s.metrics.archiveRuns.Inc()

	s.writeJSON(w, "archive_run", http.StatusOK, wire.ArchiveRunResponse{
		WindowsArchived:  result.WindowsArchived,
		RecordsArchived:  result.RecordsArchived,
		RecordsReclaimed: result.RecordsReclaimed,
	})
}

// writeJSON writes a JSON response and records the request metric.
func (s *Server) writeJSON(w http.ResponseWriter, handler string, status int, v any) {
	s.metrics.requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "handler", handler, "error", err)
	}
}

// writeError writes an error response with its reason code.
func (s *Server) writeError(w http.ResponseWriter, handler string, status int, reason string, err error) {
	s.log.Warn("request failed",
		"handler", handler,
		"status", status,
		"reason", reason,
		"error", err)

	s.writeJSON(w, handler, status, wire.ErrorResponse{
		Error:  err.Error(),
		Reason: reason,
	})
}
