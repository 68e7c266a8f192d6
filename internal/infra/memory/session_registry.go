package memory

import (
	"sync"

	"placement-runner/internal/app"
)

// SessionRegistry is an in-memory implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*app.Controller),
	}
}

func (r *SessionRegistry) Put(connID string, ctrl *app.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = ctrl
}

func (r *SessionRegistry) Get(connID string) (*app.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.sessions[connID]
	return ctrl, ok
}

func (r *SessionRegistry) Delete(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Drain removes and returns every registered controller.
func (r *SessionRegistry) Drain() map[string]*app.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sessions
	r.sessions = make(map[string]*app.Controller)
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
