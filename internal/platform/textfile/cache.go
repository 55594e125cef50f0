// Package textfile is the local file pseudo-platform: controller commands
// operate on files under a workspace directory, with a bounded undo log
// backed by on-disk copies.
package textfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
)

// undoAction is the inverse operation stored for one recorded file event.
type undoAction string

const (
	undoDelete  undoAction = "delete"
	undoRestore undoAction = "restore"
	undoCreate  undoAction = "create"
)

type recordedEvent struct {
	action     undoAction
	backupPath string
	recordedAt time.Time
}

// EventCache keeps a bounded per-path ring of reversible file operations.
// Recording an operation stores the inverse: creates undo by deleting,
// updates and deletes undo by restoring a backup copy.
type EventCache struct {
	log *slog.Logger
	cfg config.TextFileConfig

	mu     sync.Mutex
	events map[string][]recordedEvent
	now    func() time.Time
}

// NewEventCache prepares the backup directory and an empty log.
func NewEventCache(log *slog.Logger, cfg config.TextFileConfig) (*EventCache, error) {
	if err := os.MkdirAll(cfg.BackupDirectory, 0o755); err != nil {
		return nil, platform.ErrIO("creating backup directory", err)
	}
	return &EventCache{
		log:    log,
		cfg:    cfg,
		events: make(map[string][]recordedEvent),
		now:    time.Now,
	}, nil
}

// RecordCreate logs a file creation; its undo removes the file.
func (c *EventCache) RecordCreate(path string) error {
	return c.push(path, recordedEvent{action: undoDelete})
}

// RecordUpdate copies the current content aside; its undo restores the copy.
// Call before overwriting the file.
func (c *EventCache) RecordUpdate(path string) error {
	backup, err := c.backup(path)
	if err != nil {
		return err
	}
	return c.push(path, recordedEvent{action: undoRestore, backupPath: backup})
}

// RecordDelete copies the current content aside; its undo recreates the
// file. Call before removing the file.
func (c *EventCache) RecordDelete(path string) error {
	backup, err := c.backup(path)
	if err != nil {
		return err
	}
	return c.push(path, recordedEvent{action: undoCreate, backupPath: backup})
}

func (c *EventCache) backup(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", platform.ErrIO("reading file for backup", err)
	}
	backup := filepath.Join(c.cfg.BackupDirectory, uuid.NewString()+".bak")
	if err := os.WriteFile(backup, content, 0o644); err != nil {
		return "", platform.ErrIO("writing backup", err)
	}
	return backup, nil
}

func (c *EventCache) push(path string, ev recordedEvent) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return platform.ErrInvalidRequest("resolving path", err)
	}
	ev.recordedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	ring := append(c.events[abs], ev)
	for len(ring) > c.cfg.MaxEventsPerFile {
		c.freeBackup(ring[0])
		ring = ring[1:]
	}
	c.events[abs] = ring
	return nil
}

// Undo pops the most recent event for the path and applies its inverse. The
// backup blob is unlinked on success. Returns false when nothing is
// recorded for the path.
func (c *EventCache) Undo(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, platform.ErrInvalidRequest("resolving path", err)
	}

	c.mu.Lock()
	ring := c.events[abs]
	if len(ring) == 0 {
		c.mu.Unlock()
		return false, nil
	}
	ev := ring[len(ring)-1]
	c.events[abs] = ring[:len(ring)-1]
	c.mu.Unlock()

	switch ev.action {
	case undoDelete:
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return false, platform.ErrIO("removing created file", err)
		}
	case undoRestore, undoCreate:
		content, err := os.ReadFile(ev.backupPath)
		if err != nil {
			return false, platform.ErrIO("reading backup", err)
		}
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			return false, platform.ErrIO("restoring file", err)
		}
		if err := os.Remove(ev.backupPath); err != nil {
			c.log.Warn("removing spent backup failed", "path", ev.backupPath, "error", err)
		}
	}
	return true, nil
}

// Sweep drops events older than the TTL and frees their backups. Implements
// the shared cache maintenance contract.
func (c *EventCache) Sweep(now time.Time) int {
	cutoff := now.Add(-time.Duration(c.cfg.EventTTLHours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for path, ring := range c.events {
		kept := ring[:0]
		for _, ev := range ring {
			if ev.recordedAt.Before(cutoff) {
				c.freeBackup(ev)
				evicted++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(c.events, path)
			continue
		}
		c.events[path] = kept
	}
	return evicted
}

func (c *EventCache) freeBackup(ev recordedEvent) {
	if ev.backupPath == "" {
		return
	}
	if err := os.Remove(ev.backupPath); err != nil && !os.IsNotExist(err) {
		c.log.Warn("removing expired backup failed", "path", ev.backupPath, "error", err)
	}
}

// depth reports how many events are recorded for a path. Test hook.
func (c *EventCache) depth(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events[abs])
}
