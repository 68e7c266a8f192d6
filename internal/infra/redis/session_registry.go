package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"placement-runner/internal/app"
)

// SessionRegistry is a Redis-aware implementation of app.SessionRegistry.
// Controllers stay in a local map; Redis only carries a liveness marker per
// connection so operators can count running attempts across instances.
type SessionRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Controller),
	}
}

func (r *SessionRegistry) Put(connID string, ctrl *app.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = ctrl
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(connID), "1", r.ttl).Err()
}

func (r *SessionRegistry) Get(connID string) (*app.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.sessions[connID]
	return ctrl, ok
}

// Touch refreshes the liveness marker of a connection still in use.
func (r *SessionRegistry) Touch(ctx context.Context, connID string) error {
	return r.client.Expire(ctx, r.key(connID), r.ttl).Err()
}

func (r *SessionRegistry) Delete(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connID]; !ok {
		return
	}
	delete(r.sessions, connID)
	_ = r.client.Del(context.Background(), r.key(connID)).Err()
}

func (r *SessionRegistry) Drain() map[string]*app.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sessions
	r.sessions = make(map[string]*app.Controller)
	if len(out) > 0 {
		keys := make([]string, 0, len(out))
		for connID := range out {
			keys = append(keys, r.key(connID))
		}
		_ = r.client.Del(context.Background(), keys...).Err()
	}
	return out
}

func (r *SessionRegistry) key(connID string) string {
	return "runner:session:" + connID
}
