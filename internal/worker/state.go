package worker

import (
	"sync"
	"time"

	"duochat/internal/models"
)

// userState is the in-process copy of every logged-in user's session state.
type userState struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
}

func newUserState() *userState {
	return &userState{sessions: make(map[string]*models.SessionState)}
}

func (s *userState) get(username string) (*models.SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[username]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *userState) set(st *models.SessionState) {
	if st == nil || st.Username == "" {
		return
	}
	s.mu.Lock()
	s.sessions[st.Username] = st.Clone()
	s.mu.Unlock()
}

// update applies fn to the stored state, creating it with init when absent.
// The stored value only changes when fn succeeds.
func (s *userState) update(username string, init func() *models.SessionState, fn func(*models.SessionState) error) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[username]
	if !ok {
		cur = init()
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Username = username
	next.UpdatedAt = time.Now().UTC()
	s.sessions[username] = next
	return next.Clone(), nil
}

func (s *userState) drop(username string) {
	s.mu.Lock()
	delete(s.sessions, username)
	s.mu.Unlock()
}

func (s *userState) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
