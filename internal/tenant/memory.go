package tenant

import (
	"context"
	"sync"

	"github.com/sweeney/geyser-sim/internal/mqtt"
)

// MemoryRepository keeps the tenant list in memory only. Used when no tenant
// list path is configured, and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	users []mqtt.UserMessage
}

// NewMemoryRepository returns a repository seeded with users.
func NewMemoryRepository(users ...mqtt.UserMessage) *MemoryRepository {
	return &MemoryRepository{users: append([]mqtt.UserMessage(nil), users...)}
}

func (r *MemoryRepository) Load(context.Context) ([]mqtt.UserMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mqtt.UserMessage(nil), r.users...), nil
}

func (r *MemoryRepository) Upsert(_ context.Context, user mqtt.UserMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = upsert(r.users, user)
	return nil
}

func (r *MemoryRepository) Remove(_ context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := remove(r.users, uid)
	if !ok {
		return ErrNotFound
	}
	r.users = users
	return nil
}
