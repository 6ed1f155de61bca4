package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/link-forwarding-service/internal/monitoring"
)

type memoryEntry struct {
	token     Token
	expiresAt time.Time
}

// MemoryCache keeps tokens in process memory. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[uuid.UUID]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, tenantID uuid.UUID) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tenantID]
	if !ok {
		monitoring.SessionCacheLookups.WithLabelValues("miss").Inc()
		return Token{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, tenantID)
		monitoring.SessionCacheLookups.WithLabelValues("expired").Inc()
		return Token{}, false
	}
	monitoring.SessionCacheLookups.WithLabelValues("hit").Inc()
	return e.token, true
}

func (c *MemoryCache) Put(ctx context.Context, tenantID uuid.UUID, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if token.AcquiredAt.IsZero() {
		token.AcquiredAt = now
	}
	c.entries[tenantID] = memoryEntry{token: token, expiresAt: now.Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}

// Len counts stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
