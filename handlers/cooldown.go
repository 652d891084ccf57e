// handlers/cooldown.go
package handlers

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClaimCooldown rate-limits self-service claims per player.
type ClaimCooldown struct {
	period time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func NewClaimCooldown(period time.Duration) *ClaimCooldown {
	return &ClaimCooldown{period: period, now: time.Now, last: make(map[uuid.UUID]time.Time)}
}

// Allow records a claim for id unless one happened within the period. When it
// refuses, it returns how long the player still has to wait.
func (c *ClaimCooldown) Allow(id uuid.UUID) (time.Duration, bool) {
	if c == nil || c.period <= 0 {
		return 0, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.last[id]; ok {
		if wait := c.period - now.Sub(prev); wait > 0 {
			return wait, false
		}
	}
	c.last[id] = now
	return 0, true
}

// Forget drops the player's entry, e.g. on leave.
func (c *ClaimCooldown) Forget(id uuid.UUID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.last, id)
	c.mu.Unlock()
}
