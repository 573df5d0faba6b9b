package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage/archindex"
	"github.com/xtxerr/rfistat/internal/storage/archiver"
	"github.com/xtxerr/rfistat/internal/storage/ingest"
	"github.com/xtxerr/rfistat/internal/storage/livestore"
	"github.com/xtxerr/rfistat/internal/storage/query"
	"github.com/xtxerr/rfistat/internal/storage/types"
)

// Service is the storage service orchestrating the live store, ingestion,
// archiver and query components.
type Service struct {
	config *config.Config

	// Components
	store    *livestore.Store
	index    *archindex.Index
	ingest   *ingest.Service
	archiver *archiver.Archiver
	query    *query.Service

	// State
	running atomic.Bool

	// Statistics
	startTime time.Time
}

// New creates a storage service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := livestore.Open(cfg.LiveStorePath(), cfg.ConflictPolicy)
	if err != nil {
		return nil, fmt.Errorf("open live store: %w", err)
	}

	index, err := archindex.Open(cfg.IndexPath(), cfg.SegmentDir())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open segment index: %w", err)
	}

	ing, err := ingest.New(cfg, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create ingest: %w", err)
	}

	arch := archiver.New(cfg, store, index, archindex.NewRunStateStore(cfg.RunStatePath()))

	qry, err := query.New(cfg, store, index)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create query: %w", err)
	}

	return &Service{
		config:   cfg,
		store:    store,
		index:    index,
		ingest:   ing,
		archiver: arch,
		query:    qry,
	}, nil
}

// Start starts the archiver loop. An archive pass runs immediately so an
// interrupted run from a previous process is recovered before any new
// ingestion is acknowledged against it.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	s.startTime = time.Now()

	if _, err := s.archiver.RunOnce(ctx); err != nil {
		logging.Component("storage").Error("startup archive pass failed", "error", err)
	}

	s.archiver.Start(ctx)
	return nil
}

// Stop stops the archiver and closes all components.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.archiver.Stop()

	var errs []error
	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close live store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}
	return nil
}

// Submit validates and stores records via the ingest service.
func (s *Service) Submit(ctx context.Context, records []types.Record) ([]ingest.Result, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.ingest.Submit(ctx, records)
}

// Query executes a bounded time-range query over live and archived data.
func (s *Service) Query(ctx context.Context, req query.Request) ([]types.Record, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.Execute(ctx, req)
}

// RunArchive triggers an immediate archive pass.
func (s *Service) RunArchive(ctx context.Context) (archiver.RunResult, error) {
	if !s.running.Load() {
		return archiver.RunResult{}, errors.ErrNotRunning
	}
	return s.archiver.RunOnce(ctx)
}

// RebuildIndex reconstructs the segment index from the segment files.
func (s *Service) RebuildIndex(ctx context.Context) error {
	return s.index.Rebuild(ctx)
}

// Occupancy returns the distribution of accepted occupancy values.
func (s *Service) Occupancy() ingest.Occupancy {
	return s.ingest.OccupancySnapshot()
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:  s.running.Load(),
		Uptime:   uptime,
		Ingest:   s.ingest.Snapshot(),
		Store:    s.store.Snapshot(),
		Archiver: s.archiver.Snapshot(),
		Query:    s.query.Snapshot(),
		Segments: s.index.Len(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running  bool                   `json:"running"`
	Uptime   time.Duration          `json:"uptime"`
	Ingest   ingest.ServiceStats    `json:"ingest"`
	Store    livestore.StoreStats   `json:"store"`
	Archiver archiver.ArchiverStats `json:"archiver"`
	Query    query.ServiceStats     `json:"query"`
	Segments int                    `json:"segments"`
}
