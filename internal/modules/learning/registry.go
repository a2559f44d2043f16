package learning

import (
	"context"
	"sync"
	"time"

	"github.com/infinity-learn/core/internal/models"
)

// sessionState is the in-memory working set of one active session. All fields
// behind mu; the refill goroutine and request handlers never touch them
// without holding it.
type sessionState struct {
	mu sync.Mutex

	session  *models.LearningSession
	topic    models.TopicModel
	analysis *models.TopicAnalysis

	buffer []models.CardModel // cards in serve order, mirrors session.CardQueue
	cursor int                // next card to serve, mirrors session.CurrentCardIndex

	lastUsed time.Time
	cancel   context.CancelFunc
	wake     chan struct{} // low-watermark signal to the refill loop, capacity 1
}

func (st *sessionState) signalRefill() {
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

// Registry owns the set of loaded sessions. Sessions enter on start or on
// lazy reload, and leave on explicit end, idle eviction, or shutdown; leaving
// always cancels the session's refill goroutine.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*sessionState
	idleTTL time.Duration
}

func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*sessionState),
		idleTTL: idleTTL,
	}
}

// Get returns the loaded state for a session and marks it used.
func (r *Registry) Get(sessionID string) (*sessionState, bool) {
	r.mu.RLock()
	st, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st.mu.Lock()
	st.lastUsed = time.Now()
	st.mu.Unlock()
	return st, true
}

// Put registers a loaded session. If the id is already present the existing
// state wins and the caller's state is discarded with its cancel run, so two
// concurrent reloads cannot both own a refill goroutine.
func (r *Registry) Put(sessionID string, st *sessionState) *sessionState {
	r.mu.Lock()
	if existing, ok := r.entries[sessionID]; ok {
		r.mu.Unlock()
		if st.cancel != nil {
			st.cancel()
		}
		return existing
	}
	r.entries[sessionID] = st
	r.mu.Unlock()
	return st
}

// Remove unloads a session and stops its refill goroutine.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	st, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if ok && st.cancel != nil {
		st.cancel()
	}
}

// Len reports the number of loaded sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// EvictIdle unloads sessions unused for longer than the idle TTL and returns
// how many were evicted. State stays in the database, so an evicted session
// reloads transparently on its next request.
func (r *Registry) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*sessionState
	for id, st := range r.entries {
		st.mu.Lock()
		idle := st.lastUsed.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(r.entries, id)
			evicted = append(evicted, st)
		}
	}
	r.mu.Unlock()

	for _, st := range evicted {
		if st.cancel != nil {
			st.cancel()
		}
	}
	return len(evicted)
}

// Close unloads everything. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*sessionState)
	r.mu.Unlock()

	for _, st := range entries {
		if st.cancel != nil {
			st.cancel()
		}
	}
}
