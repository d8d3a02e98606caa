// Package session implements the Session State Machine and Turn Scheduler
// of spec.md §4.E/§4.F, plus the process-global "active games" map spec.md
// §9 calls out as its own dedicated, mutex-encapsulated module.
package session

import (
	"sync"

	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/metrics"
)

// Registry is the active-games map: game_id -> *domain.Session, guarded by
// one RWMutex with O(1) operations, the same shape as the teacher's
// gameMaster.gameMap+gameMapMutex.
type Registry struct {
	mu      sync.RWMutex
	games   map[string]*domain.Session
	metrics *metrics.Counters
}

func NewRegistry(counters *metrics.Counters) *Registry {
	return &Registry{games: make(map[string]*domain.Session), metrics: counters}
}

func (r *Registry) Put(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[s.GameID] = s
	if r.metrics != nil {
		r.metrics.IncActiveSessions()
	}
}

func (r *Registry) Get(gameID string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.games[gameID]
	return s, ok
}

// Remove deletes the session; callers should only do this once a session's
// status is terminal and all its sockets have closed (spec.md §3
// Lifecycles).
func (r *Registry) Remove(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[gameID]; ok {
		delete(r.games, gameID)
		if r.metrics != nil {
			r.metrics.DecActiveSessions()
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}
