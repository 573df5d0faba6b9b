package archindex

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Phase names the step an archive run last completed.
type Phase string

const (
	// PhaseSealing means the segment is being written to a temp file.
	PhaseSealing Phase = "sealing"
	// PhaseVerified means the temp segment re-read and checksum passed.
	PhaseVerified Phase = "verified"
	// PhasePublished means the segment is renamed and indexed, but the
	// archived records may still be present in the live store.
	PhasePublished Phase = "published"
)

// RunState records an in-flight archive run. It is persisted before each
// phase transition so that after a crash the next run knows exactly how far
// the interrupted one got: a temp file from a "sealing" run is discarded,
// while a "published" run only needs its live-store records deleted.
type RunState struct {
	RunID         uuid.UUID `json:"run_id"`
	Phase         Phase     `json:"phase"`
	WindowStartMs int64     `json:"window_start_ms"`
	WindowEndMs   int64     `json:"window_end_ms"`
	SegmentID     uuid.UUID `json:"segment_id"`
	TempPath      string    `json:"temp_path"`
	Checksum      string    `json:"checksum,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunStateStore persists archive run state at a fixed path.
type RunStateStore struct {
	path string
}

// NewRunStateStore returns a store writing to path.
func NewRunStateStore(path string) *RunStateStore {
	return &RunStateStore{path: path}
}

// Load returns the persisted run state. ok is false when no run is
// recorded.
func (s *RunStateStore) Load() (RunState, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return RunState{}, false, nil
	}
	if err != nil {
		return RunState{}, false, fmt.Errorf("read run state: %w", err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return RunState{}, false, fmt.Errorf("decode run state: %w", err)
	}
	return rs, true, nil
}

// Save persists rs durably before returning.
func (s *RunStateStore) Save(rs RunState) error {
	rs.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	return atomicWrite(s.path, data)
}

// Clear removes the run state, marking the run fully complete.
func (s *RunStateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear run state: %w", err)
	}
	return nil
}
