package metrics

import (
	"sync"
	"time"

	"soundfault/internal/model"
)

// Tally counts verdicts for one category. No diagnosis content is kept.
type Tally struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type Store struct {
	mu         sync.RWMutex
	byCategory map[model.DeviceCategory]*Tally
	started    time.Time
}

func NewStore() *Store {
	return &Store{
		byCategory: make(map[model.DeviceCategory]*Tally),
		started:    time.Now().UTC(),
	}
}

func (s *Store) Record(category model.DeviceCategory, severity model.Severity) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byCategory[category]
	if !ok {
		t = &Tally{BySeverity: make(map[string]int)}
		s.byCategory[category] = t
	}
	t.Total++
	t.BySeverity[severity.String()]++
	t.UpdatedAt = time.Now().UTC()
}

func (s *Store) Get(category model.DeviceCategory) (Tally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byCategory[category]
	if !ok {
		return Tally{}, false
	}
	return copyTally(t), true
}

// Snapshot returns a copy of every tally.
func (s *Store) Snapshot() map[model.DeviceCategory]Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.DeviceCategory]Tally, len(s.byCategory))
	for c, t := range s.byCategory {
		out[c] = copyTally(t)
	}
	return out
}

func (s *Store) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCategory = make(map[model.DeviceCategory]*Tally)
	s.started = time.Now().UTC()
}

func copyTally(t *Tally) Tally {
	out := Tally{Total: t.Total, UpdatedAt: t.UpdatedAt, BySeverity: make(map[string]int, len(t.BySeverity))}
	for k, v := range t.BySeverity {
		out.BySeverity[k] = v
	}
	return out
}
