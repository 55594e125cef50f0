package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/pkg/models"
)

// EvictFunc is invoked for every attachment dropped during a sweep, after it
// left the cache. The attachment store uses it to couple blob deletion to
// eviction.
type EvictFunc func(info *models.AttachmentInfo)

// AttachmentCache maps attachment ids to their metadata and tracks how many
// cached messages still reference each blob.
type AttachmentCache struct {
	mu          sync.Mutex
	cfg         config.CachingConfig
	attachments map[string]*attachmentEntry
	onEvict     EvictFunc
	now         func() time.Time
}

type attachmentEntry struct {
	info       *models.AttachmentInfo
	lastAccess time.Time
}

// NewAttachmentCache creates an empty attachment cache. onEvict may be nil.
func NewAttachmentCache(cfg config.CachingConfig, onEvict EvictFunc) *AttachmentCache {
	return &AttachmentCache{
		cfg:         cfg,
		attachments: make(map[string]*attachmentEntry),
		onEvict:     onEvict,
		now:         time.Now,
	}
}

// Add registers an attachment, or bumps the reference count of an existing
// entry. It returns the cached metadata.
func (c *AttachmentCache) Add(info *models.AttachmentInfo) *models.AttachmentInfo {
	if info == nil || info.AttachmentID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.attachments[info.AttachmentID]; ok {
		e.info.RefCount++
		e.lastAccess = c.now()
		return e.info
	}
	info.RefCount = 1
	if info.CreatedAt.IsZero() {
		info.CreatedAt = c.now()
	}
	c.attachments[info.AttachmentID] = &attachmentEntry{info: info, lastAccess: c.now()}
	return info
}

// Get returns the metadata and bumps last access, or nil when absent.
func (c *AttachmentCache) Get(attachmentID string) *models.AttachmentInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.attachments[attachmentID]
	if !ok {
		return nil
	}
	e.lastAccess = c.now()
	return e.info
}

// Release drops one reference. The entry stays cached until eviction; the
// refcount only decides whether eviction may delete the blob.
func (c *AttachmentCache) Release(attachmentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.attachments[attachmentID]; ok && e.info.RefCount > 0 {
		e.info.RefCount--
	}
}

// Delete removes the entry and returns its metadata, or nil when absent.
func (c *AttachmentCache) Delete(attachmentID string) *models.AttachmentInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.attachments[attachmentID]
	if !ok {
		return nil
	}
	delete(c.attachments, attachmentID)
	return e.info
}

// Len returns the number of cached attachments.
func (c *AttachmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attachments)
}

// Sweep drops entries older than the age cutoff, then oldest entries over the
// size cap. Evicted entries are reported through the eviction callback
// outside the lock.
func (c *AttachmentCache) Sweep(now time.Time) int {
	c.mu.Lock()

	cutoff := now.Add(-c.cfg.MaxAge())
	var dropped []*models.AttachmentInfo

	for id, e := range c.attachments {
		if e.info.CreatedAt.Before(cutoff) {
			dropped = append(dropped, e.info)
			delete(c.attachments, id)
		}
	}

	if over := len(c.attachments) - c.cfg.MaxTotalMessages; over > 0 {
		entries := make([]*attachmentEntry, 0, len(c.attachments))
		for _, e := range c.attachments {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].lastAccess.Equal(entries[j].lastAccess) {
				return entries[i].lastAccess.Before(entries[j].lastAccess)
			}
			return entries[i].info.AttachmentID < entries[j].info.AttachmentID
		})
		for _, e := range entries[:over] {
			dropped = append(dropped, e.info)
			delete(c.attachments, e.info.AttachmentID)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, info := range dropped {
			c.onEvict(info)
		}
	}
	return len(dropped)
}
