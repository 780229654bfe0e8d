package testutil

import (
	"errors"
	"sync"
)

// ErrSampleFailed is returned by ScriptedSampler for scripted failures.
var ErrSampleFailed = errors.New("testutil: scripted sample failure")

// Sampler categories understood by ScriptedSampler.FailOn.
const (
	Memory  = "memory"
	IO      = "io"
	Handles = "handles"
)

// ScriptedSampler returns counter values derived from the call number of
// each category (1-based), so tests can compute expected deltas:
//
//	memory:  working set 1000*n, page faults n, committed 2000*n
//	io:      read 10*n, write 20*n
//	handles: 3+n
//
// FailOn scripts a failure for a given category and call.
type ScriptedSampler struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]map[int]bool
}

// NewScriptedSampler returns a sampler with no scripted failures.
func NewScriptedSampler() *ScriptedSampler {
	return &ScriptedSampler{
		calls: make(map[string]int),
		fail:  make(map[string]map[int]bool),
	}
}

// FailOn makes the given call of category fail. Later calls succeed again.
func (s *ScriptedSampler) FailOn(category string, call int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[category] == nil {
		s.fail[category] = make(map[int]bool)
	}
	s.fail[category][call] = true
}

// Calls returns how many times category was sampled.
func (s *ScriptedSampler) Calls(category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[category]
}

func (s *ScriptedSampler) next(category string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[category]++
	n := s.calls[category]
	if s.fail[category][n] {
		return 0, ErrSampleFailed
	}
	return uint64(n), nil
}

func (s *ScriptedSampler) Memory() (workingSet, pageFaults, committed uint64, err error) {
	n, err := s.next(Memory)
	if err != nil {
		return 0, 0, 0, err
	}
	return 1000 * n, n, 2000 * n, nil
}

func (s *ScriptedSampler) IO() (read, write uint64, err error) {
	n, err := s.next(IO)
	if err != nil {
		return 0, 0, err
	}
	return 10 * n, 20 * n, nil
}

func (s *ScriptedSampler) Handles() (uint64, error) {
	n, err := s.next(Handles)
	if err != nil {
		return 0, err
	}
	return 3 + n, nil
}
