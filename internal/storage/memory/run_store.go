package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/craftwatch/internal/crawler"
)

// RunStore keeps run records in memory for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs []crawler.RunRecord
}

var _ crawler.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{}
}

// RecordRun appends a run. Run IDs must be unique.
func (s *RunStore) RecordRun(_ context.Context, run crawler.RunRecord) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.RunID == run.RunID {
			return errors.New("run already exists")
		}
	}
	s.runs = append(s.runs, cloneRun(run))
	return nil
}

// LatestRun returns the run with the latest capture time.
func (s *RunStore) LatestRun(_ context.Context) (crawler.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return crawler.RunRecord{}, crawler.ErrRunNotFound
	}
	latest := s.runs[0]
	for _, run := range s.runs[1:] {
		if !run.CapturedAt.Before(latest.CapturedAt) {
			latest = run
		}
	}
	return cloneRun(latest), nil
}

// Runs returns every recorded run in insertion order.
func (s *RunStore) Runs() []crawler.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	return out
}

func cloneRun(run crawler.RunRecord) crawler.RunRecord {
	if run.Stats == nil {
		return run
	}
	stats := make(map[string]crawler.Stats, len(run.Stats))
	for k, v := range run.Stats {
		stats[k] = v
	}
	run.Stats = stats
	return run
}
