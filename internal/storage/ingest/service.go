// Package ingest validates and admits statistic records into the live store.
//
// Validation is per record: one bad record in a submission never blocks its
// neighbors. Every record gets an explicit result with a reason code, and a
// resubmission of an already-stored record is acknowledged as a duplicate,
// so agents can retry whole batches blindly.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/livestore"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Status says whether a record was admitted.
type Status string

const (
	// StatusAck means the record is durable in the live store, either
	// newly stored or already present.
	StatusAck Status = "ack"
	// StatusRejected means the record was not stored.
	StatusRejected Status = "rejected"
)

// Result is the per-record outcome of a submission.
type Result struct {
	Key    types.Key `json:"key"`
	Status Status    `json:"status"`
	Reason string    `json:"reason"`
}

// Service validates and stores incoming records.
type Service struct {
	cfg   *config.Config
	store *livestore.Store
	log   *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	// sketch tracks the distribution of accepted occupancy values.
	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch

	// Statistics
	stats Stats
}

// Stats holds ingest statistics.
type Stats struct {
	Submitted     atomic.Int64
	Accepted      atomic.Int64
	Duplicates    atomic.Int64
	Replaced      atomic.Int64
	Rejected      atomic.Int64
	StorageErrors atomic.Int64
}

// New creates an ingest service over the live store.
func New(cfg *config.Config, store *livestore.Store) (*Service, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(cfg.Stats.SketchAccuracy)
	if err != nil {
		return nil, errors.Wrap(err, "create occupancy sketch")
	}

	return &Service{
		cfg:    cfg,
		store:  store,
		log:    logging.Component("ingest"),
		now:    time.Now,
		sketch: sketch,
	}, nil
}

// Submit validates records and stores the valid ones in a single atomic
// batch. The returned slice has one result per input record, in input
// order. A storage failure rejects the whole batch of valid records with
// STORAGE_UNAVAILABLE and is also returned as an error; resubmitting the
// same batch later is safe.
func (s *Service) Submit(ctx context.Context, records []types.Record) ([]Result, error) {
	s.stats.Submitted.Add(int64(len(records)))

	results := make([]Result, len(records))

	var valid []types.Record
	var validIdx []int

	for i := range records {
		r := &records[i]
		results[i].Key = r.Key()

		if err := s.validate(r); err != nil {
			results[i].Status = StatusRejected
			results[i].Reason = errors.ErrorToReason(err)
			s.stats.Rejected.Add(1)
			s.log.Debug("record rejected",
				"key", r.Key(),
				"reason", results[i].Reason,
				"error", err)
			continue
		}

		valid = append(valid, *r)
		validIdx = append(validIdx, i)
	}

	if len(valid) == 0 {
		return results, nil
	}

	outcomes, err := s.store.InsertBatch(ctx, valid)
	if err != nil {
		s.stats.StorageErrors.Add(1)
		s.log.Error("insert batch failed", "records", len(valid), "error", err)
		for _, i := range validIdx {
			results[i].Status = StatusRejected
			results[i].Reason = errors.ReasonStorageUnavailable
		}
		return results, errors.Wrap(errors.ErrStorageUnavailable, err.Error())
	}

	for j, i := range validIdx {
		switch outcomes[j] {
		case livestore.OutcomeInserted:
			results[i].Status = StatusAck
			results[i].Reason = errors.ReasonOK
			s.stats.Accepted.Add(1)
			s.observe(valid[j].Value)
		case livestore.OutcomeReplaced:
			results[i].Status = StatusAck
			results[i].Reason = errors.ReasonOK
			s.stats.Replaced.Add(1)
			s.observe(valid[j].Value)
		case livestore.OutcomeDuplicate:
			results[i].Status = StatusAck
			results[i].Reason = errors.ReasonDuplicate
			s.stats.Duplicates.Add(1)
		}
	}

	return results, nil
}

// validate checks a single record against the channel range, value domain
// and clock-skew window.
func (s *Service) validate(r *types.Record) error {
	if r.AgentID == "" {
		return errors.NewMissingField("agent_id")
	}
	if r.Channel < 0 || int(r.Channel) >= s.cfg.ChannelCount {
		return errors.Wrapf(errors.ErrChannelOutOfRange, "channel %d, have %d channels", r.Channel, s.cfg.ChannelCount)
	}
	if r.TimestampMs <= 0 {
		return errors.NewMalformed("timestamp must be positive")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.NewMalformed("occupancy must be finite")
	}
	if r.Value < 0 || r.Value > 1 {
		return errors.NewMalformed("occupancy outside [0, 1]")
	}

	now := s.now()
	ts := time.UnixMilli(r.TimestampMs)

	// A timestamp from the future beyond the skew allowance is a broken
	// agent clock. A timestamp behind the retention horizon would land in
	// a window that may already be sealed.
	if ts.After(now.Add(s.cfg.ClockSkew)) {
		return errors.Wrapf(errors.ErrStaleTimestamp, "timestamp %dms ahead", ts.Sub(now).Milliseconds())
	}
	if ts.Before(now.Add(-s.cfg.Archive.Retention)) {
		return errors.Wrapf(errors.ErrStaleTimestamp, "timestamp %dms behind retention horizon", now.Sub(ts).Milliseconds())
	}

	return nil
}

// observe adds an accepted occupancy value to the distribution sketch.
func (s *Service) observe(value float64) {
	s.sketchMu.Lock()
	defer s.sketchMu.Unlock()
	if err := s.sketch.Add(value); err != nil {
		s.log.Warn("sketch add failed", "value", value, "error", err)
	}
}

// Occupancy summarizes the distribution of accepted occupancy values.
type Occupancy struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// OccupancySnapshot returns quantiles of the accepted occupancy values
// since startup.
func (s *Service) OccupancySnapshot() Occupancy {
	s.sketchMu.Lock()
	defer s.sketchMu.Unlock()

	count := int64(s.sketch.GetCount())
	if count == 0 {
		return Occupancy{}
	}

	quantile := func(q float64) float64 {
		v, err := s.sketch.GetValueAtQuantile(q)
		if err != nil {
			return 0
		}
		return v
	}

	return Occupancy{
		Count: count,
		P50:   quantile(0.5),
		P90:   quantile(0.9),
		P99:   quantile(0.99),
	}
}

// Snapshot returns a copy of the ingest statistics.
func (s *Service) Snapshot() ServiceStats {
	return ServiceStats{
		Submitted:     s.stats.Submitted.Load(),
		Accepted:      s.stats.Accepted.Load(),
		Duplicates:    s.stats.Duplicates.Load(),
		Replaced:      s.stats.Replaced.Load(),
		Rejected:      s.stats.Rejected.Load(),
		StorageErrors: s.stats.StorageErrors.Load(),
	}
}

// ServiceStats holds ingest statistics.
type ServiceStats struct {
	Submitted     int64 `json:"submitted"`
	Accepted      int64 `json:"accepted"`
	Duplicates    int64 `json:"duplicates"`
	Replaced      int64 `json:"replaced"`
	Rejected      int64 `json:"rejected"`
	StorageErrors int64 `json:"storage_errors"`
}
