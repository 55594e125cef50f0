package cache

import (
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/pkg/models"
)

// UserCache maps user ids to profiles, populated on first sighting.
type UserCache struct {
	mu    sync.Mutex
	cfg   config.CachingConfig
	users map[string]*userEntry
	now   func() time.Time
}

type userEntry struct {
	info       models.UserInfo
	lastAccess time.Time
}

// NewUserCache creates an empty user cache.
func NewUserCache(cfg config.CachingConfig) *UserCache {
	return &UserCache{
		cfg:   cfg,
		users: make(map[string]*userEntry),
		now:   time.Now,
	}
}

// Add inserts or replaces a profile by user id.
func (c *UserCache) Add(info models.UserInfo) {
	if info.UserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[info.UserID] = &userEntry{info: info, lastAccess: c.now()}
}

// Get returns the profile and whether it is cached, bumping last access.
func (c *UserCache) Get(userID string) (models.UserInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.users[userID]
	if !ok {
		return models.UserInfo{}, false
	}
	e.lastAccess = c.now()
	return e.info, true
}

// Delete removes a profile.
func (c *UserCache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
}

// Len returns the number of cached profiles.
func (c *UserCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// Sweep drops profiles not accessed within the age cutoff.
func (c *UserCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.cfg.MaxAge())
	evicted := 0
	for id, e := range c.users {
		if e.lastAccess.Before(cutoff) {
			delete(c.users, id)
			evicted++
		}
	}
	return evicted
}
