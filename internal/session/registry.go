package session

import "sync"

// Registry is the process-wide map of live sessions, keyed by session ID.
// Entries are added when the client connection is accepted and removed
// when the session reaches its terminal state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session. It returns false if a session with the
// same ID is already live.
func (r *Registry) Create(id, userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, false
	}
	s := newSession(id, userID)
	r.sessions[id] = s
	return s, true
}

// Get returns the live session for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove drops the session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
