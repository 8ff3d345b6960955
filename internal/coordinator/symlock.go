package coordinator

import "sync"

// symLock serializes work per symbol. Each symbol's
// read-decide-mutate-call sequence runs as one critical section;
// different symbols proceed in parallel.
type symLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymLock() *symLock {
	return &symLock{locks: make(map[string]*sync.Mutex)}
}

func (s *symLock) Lock(symbol string) {
	s.mu.Lock()
	m, ok := s.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		s.locks[symbol] = m
	}
	s.mu.Unlock()
	m.Lock()
}

func (s *symLock) Unlock(symbol string) {
	s.mu.Lock()
	m := s.locks[symbol]
	s.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
