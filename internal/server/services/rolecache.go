package services

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

type roleEntry struct {
	backend *models.StorageBackend
	adapter storage.Adapter
	expires time.Time
}

// RoleCache holds the resolved, secret-decrypted backend of each image role
// for a bounded time. Role assignment and token changes invalidate it.
type RoleCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[models.Role]roleEntry
}

func NewRoleCache(ttl time.Duration) *RoleCache {
	return &RoleCache{ttl: ttl, now: time.Now, entries: make(map[models.Role]roleEntry)}
}

func (c *RoleCache) Get(role models.Role) (*models.StorageBackend, storage.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[role]
	if !ok {
		return nil, nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, role)
		return nil, nil, false
	}
	return e.backend, e.adapter, true
}

func (c *RoleCache) Put(role models.Role, b *models.StorageBackend, a storage.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[role] = roleEntry{backend: b, adapter: a, expires: c.now().Add(c.ttl)}
}

func (c *RoleCache) Invalidate(role models.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, role)
}
