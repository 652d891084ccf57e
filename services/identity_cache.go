// services/identity_cache.go
package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityCache maps online players to shop user ids. Entries are filled on
// join or on first claim and dropped when the player leaves.
type IdentityCache struct {
	lookup     UserLookup
	serializer *TaskSerializer
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]int64
}

func NewIdentityCache(lookup UserLookup, serializer *TaskSerializer, logger *zap.Logger) *IdentityCache {
	return &IdentityCache{
		lookup:     lookup,
		serializer: serializer,
		logger:     logger.Named("identity_cache"),
		entries:    make(map[uuid.UUID]int64),
	}
}

func (c *IdentityCache) Get(playerID uuid.UUID) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[playerID]
	return id, ok
}

func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *IdentityCache) put(playerID uuid.UUID, userID int64) {
	c.mu.Lock()
	c.entries[playerID] = userID
	c.mu.Unlock()
}

func (c *IdentityCache) remove(playerID uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, playerID)
	c.mu.Unlock()
}

// Resolve returns the cached id or looks it up and caches it. Call it from a
// serializer task.
func (c *IdentityCache) Resolve(ctx context.Context, playerID uuid.UUID) (int64, error) {
	if id, ok := c.Get(playerID); ok {
		return id, nil
	}
	id, err := c.lookup.LookupUserID(ctx, playerID)
	if err != nil {
		return 0, err
	}
	c.put(playerID, id)
	return id, nil
}

// Lookup returns the cached id or asks the store, without caching the answer.
// Used for players who are not online, since no leave event would evict them.
func (c *IdentityCache) Lookup(ctx context.Context, playerID uuid.UUID) (int64, error) {
	if id, ok := c.Get(playerID); ok {
		return id, nil
	}
	return c.lookup.LookupUserID(ctx, playerID)
}

// Populate resolves the player on the serializer. Failures are logged only.
func (c *IdentityCache) Populate(ctx context.Context, playerID uuid.UUID) *Future[int64] {
	return Submit(c.serializer, func() (int64, error) {
		id, err := c.Resolve(ctx, playerID)
		if err != nil {
			c.logger.Warn("[CACHE] could not cache user id",
				zap.Stringer("player", playerID), zap.Error(err))
			return 0, err
		}
		c.logger.Debug("[CACHE] cached user id", zap.Stringer("player", playerID), zap.Int64("user_id", id))
		return id, nil
	})
}

// Invalidate drops the entry now and again behind any queued Populate, so a
// lookup that was already in the queue cannot bring it back.
func (c *IdentityCache) Invalidate(playerID uuid.UUID) {
	c.remove(playerID)
	Submit(c.serializer, func() (struct{}, error) {
		c.remove(playerID)
		return struct{}{}, nil
	})
}
