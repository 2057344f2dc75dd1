package state

import (
	"sync"
	"time"

	"gcodesync/internal/status"
	"gcodesync/internal/syncer"
)

// Snapshot is the latest sync picture served to local readers.
type Snapshot struct {
	Status              status.Status  `json:"status"`
	LastCycle           *syncer.Result `json:"last_cycle,omitempty"`
	LastSuccess         time.Time      `json:"last_success,omitzero"`
	Cycles              int            `json:"cycles"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// Store records cycle results; it is an Observer for the syncer.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

var _ syncer.Observer = (*Store)(nil)

func NewStore() *Store {
	return &Store{snapshot: Snapshot{Status: status.Error}}
}

// CycleCompleted stores r. Cancelled cycles that never reached the server
// keep the previous status.
func (s *Store) CycleCompleted(r syncer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Cycles++
	s.snapshot.LastCycle = cloneResult(r)
	switch r.Status {
	case status.OK:
		s.snapshot.Status = status.OK
		s.snapshot.LastSuccess = r.FinishedAt
		s.snapshot.ConsecutiveFailures = 0
	case status.Error:
		s.snapshot.Status = status.Error
		s.snapshot.ConsecutiveFailures++
	}
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	if s.snapshot.LastCycle != nil {
		snap.LastCycle = cloneResult(*s.snapshot.LastCycle)
	}
	return snap
}

func cloneResult(r syncer.Result) *syncer.Result {
	dup := r
	if r.Items != nil {
		dup.Items = make([]syncer.OrderResult, len(r.Items))
		copy(dup.Items, r.Items)
	}
	return &dup
}
