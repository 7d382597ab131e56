// Package store provides the in-memory registry of live login flows, keyed by
// flow ID. Flows are evicted after an idle TTL so abandoned browser sessions do
// not leak countdown goroutines.
package store

import (
	"sync"
	"time"

	"forex-portal/login-gateway/internal/login/service"
)

type entry struct {
	flow     *service.Flow
	lastSeen time.Time
}

// MemoryStore is the in-memory flow registry.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]*entry
	ttl  time.Duration
	nowF func() time.Time
	// onEvict tears the flow down when the sweeper removes it; Service.Close in production.
	onEvict func(*service.Flow)
}

// NewMemoryStore returns a registry that evicts flows idle for longer than ttl.
// onEvict may be nil.
func NewMemoryStore(ttl time.Duration, onEvict func(*service.Flow)) *MemoryStore {
	return &MemoryStore{
		m:       make(map[string]*entry),
		ttl:     ttl,
		nowF:    time.Now().UTC,
		onEvict: onEvict,
	}
}

// Put registers a flow under its ID.
func (s *MemoryStore) Put(f *service.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[f.ID()] = &entry{flow: f, lastSeen: s.nowF()}
}

// Get returns the flow for id if present, refreshing its idle deadline.
func (s *MemoryStore) Get(id string) (*service.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.nowF()
	return e.flow, true
}

// Delete removes the flow for id and returns it, if present. The caller owns
// teardown; onEvict is not called.
func (s *MemoryStore) Delete(id string) (*service.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	delete(s.m, id)
	return e.flow, true
}

// Len returns the number of live flows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Sweep evicts every flow idle for longer than the TTL and returns how many were
// removed. Called periodically from the server's sweep ticker.
func (s *MemoryStore) Sweep() int {
	cutoff := s.nowF().Add(-s.ttl)

	s.mu.Lock()
	var evicted []*service.Flow
	for id, e := range s.m {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, e.flow)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, f := range evicted {
			s.onEvict(f)
		}
	}
	return len(evicted)
}
