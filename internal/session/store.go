package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/finanalyzer/internal/logger"
)

// Store keeps sessions in memory, evicting those idle for longer than ttl.
type Store struct {
	analyzer Analyzer
	asker    Asker
	ttl      time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a session store.
func NewStore(analyzer Analyzer, asker Asker, ttl time.Duration) *Store {
	return &Store{
		analyzer: analyzer,
		asker:    asker,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns a live session and marks it as used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := st.now()
	if st.expired(s, now) {
		st.mu.Lock()
		delete(st.sessions, id)
		st.mu.Unlock()
		return nil, false
	}
	s.touch(now)
	return s, true
}

// Create starts a new session with a random ID.
func (st *Store) Create() *Session {
	s := New(uuid.NewString(), st.analyzer, st.asker)
	s.lastSeen = st.now()

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// GetOrCreate returns the session for id, creating a new one if it is
// unknown or expired. created reports whether a new session was made.
func (st *Store) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, false
		}
	}
	return st.Create(), true
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Prune removes expired sessions and returns how many were removed.
func (st *Store) Prune() int {
	now := st.now()
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired sessions every interval until ctx is done.
func (st *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Prune(); n > 0 {
				logger.Log.Debugf("Pruned %d idle sessions", n)
			}
		}
	}
}

func (st *Store) expired(s *Session, now time.Time) bool {
	return st.ttl > 0 && now.Sub(s.idleSince()) > st.ttl
}
