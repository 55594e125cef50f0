package textfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/internal/processor"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Handlers serves the file operation commands. Every path is confined to the
// configured base directory.
type Handlers struct {
	log       *slog.Logger
	cfg       config.TextFileConfig
	cache     *EventCache
	validator *Validator
	requests  *events.RequestBuilder
}

func NewHandlers(log *slog.Logger, cfg config.TextFileConfig, cache *EventCache) *Handlers {
	return &Handlers{
		log:       log,
		cfg:       cfg,
		cache:     cache,
		validator: NewValidator(cfg),
		requests:  events.NewRequestBuilder(models.AdapterTextFile),
	}
}

// Register installs the file command set on the outgoing processor.
func (h *Handlers) Register(p *processor.Outgoing) {
	p.Register(events.CommandViewDirectory, h.handleView)
	p.Register(events.CommandReadFile, h.handleRead)
	p.Register(events.CommandCreateFile, h.handleCreate)
	p.Register(events.CommandDeleteFile, h.handleDelete)
	p.Register(events.CommandMoveFile, h.handleMove)
	p.Register(events.CommandUpdateFile, h.handleUpdate)
	p.Register(events.CommandInsertLines, h.handleInsert)
	p.Register(events.CommandReplaceText, h.handleReplace)
	p.Register(events.CommandUndoFile, h.handleUndo)
}

// resolve confines a command path to the base directory. Relative paths are
// rooted at the base; absolute paths must already live under it.
func (h *Handlers) resolve(path string) (string, error) {
	base, err := filepath.Abs(h.cfg.BaseDirectory)
	if err != nil {
		return "", platform.ErrIO("resolving base directory", err)
	}
	if path == "" {
		return base, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", platform.ErrInvalidRequest("resolving path", err)
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", platform.ErrInvalidRequest("path escapes the base directory", nil)
	}
	return abs, nil
}

// resolveExisting resolves the path and requires a regular file passing the
// extension policy.
func (h *Handlers) resolveExisting(path string) (string, error) {
	abs, err := h.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", platform.ErrNotFound("file does not exist", err)
		}
		return "", platform.ErrIO("inspecting file", err)
	}
	if info.IsDir() {
		return "", platform.ErrInvalidRequest("path is not a file", nil)
	}
	if err := h.validator.CheckPolicy(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (h *Handlers) handleView(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	dir, err := h.resolve(cmd.File.Path)
	if err != nil {
		return events.RequestEvent{}, err
	}
	listing, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return events.RequestEvent{}, platform.ErrNotFound("directory does not exist", err)
		}
		return events.RequestEvent{}, platform.ErrIO("listing directory", err)
	}

	entries := make([]events.DirectoryEntry, 0, len(listing))
	for _, item := range listing {
		entry := events.DirectoryEntry{Name: item.Name(), IsDir: item.IsDir()}
		if info, ierr := item.Info(); ierr == nil && !item.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	return h.requests.DirectoryListing(cmd.RequestID, entries), nil
}

func (h *Handlers) handleRead(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolve(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if err := h.validator.CheckReadable(abs); err != nil {
		return events.RequestEvent{}, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return events.RequestEvent{}, platform.ErrIO("reading file", err)
	}
	return h.requests.FileContent(cmd.RequestID, string(content)), nil
}

func (h *Handlers) handleCreate(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolve(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if err := h.validator.CheckPolicy(abs); err != nil {
		return events.RequestEvent{}, err
	}
	if _, err := os.Stat(abs); err == nil {
		return events.RequestEvent{}, platform.ErrInvalidRequest("file already exists", nil)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return events.RequestEvent{}, platform.ErrIO("creating parent directory", err)
	}
	if err := os.WriteFile(abs, []byte(cmd.File.Content), 0o644); err != nil {
		return events.RequestEvent{}, platform.ErrIO("writing file", err)
	}
	if err := h.cache.RecordCreate(abs); err != nil {
		return events.RequestEvent{}, err
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleDelete(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolveExisting(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if err := h.cache.RecordDelete(abs); err != nil {
		return events.RequestEvent{}, err
	}
	if err := os.Remove(abs); err != nil {
		return events.RequestEvent{}, platform.ErrIO("removing file", err)
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleMove(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	src, err := h.resolveExisting(cmd.File.SourceFilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	dst, err := h.resolve(cmd.File.DestinationFilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if err := h.validator.CheckPolicy(dst); err != nil {
		return events.RequestEvent{}, err
	}
	// A move is undone in two steps: recreate the source from backup, then
	// delete the destination.
	if err := h.cache.RecordDelete(src); err != nil {
		return events.RequestEvent{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return events.RequestEvent{}, platform.ErrIO("creating destination directory", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return events.RequestEvent{}, platform.ErrIO("moving file", err)
	}
	if err := h.cache.RecordCreate(dst); err != nil {
		return events.RequestEvent{}, err
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleUpdate(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolveExisting(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if err := h.cache.RecordUpdate(abs); err != nil {
		return events.RequestEvent{}, err
	}
	if err := os.WriteFile(abs, []byte(cmd.File.Content), 0o644); err != nil {
		return events.RequestEvent{}, platform.ErrIO("writing file", err)
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleInsert(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolveExisting(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	current, err := os.ReadFile(abs)
	if err != nil {
		return events.RequestEvent{}, platform.ErrIO("reading file", err)
	}
	if err := h.cache.RecordUpdate(abs); err != nil {
		return events.RequestEvent{}, err
	}

	lines := strings.Split(string(current), "\n")
	// Line numbers are 1-based; out-of-range targets clamp to the ends.
	at := cmd.File.LineNumber - 1
	if at < 0 {
		at = 0
	}
	if at > len(lines) {
		at = len(lines)
	}
	inserted := strings.Split(cmd.File.Content, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:at]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[at:]...)

	if err := os.WriteFile(abs, []byte(strings.Join(updated, "\n")), 0o644); err != nil {
		return events.RequestEvent{}, platform.ErrIO("writing file", err)
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleReplace(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolveExisting(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if cmd.File.OldContent == "" {
		return events.RequestEvent{}, platform.ErrInvalidRequest("replace requires old_content", nil)
	}
	current, err := os.ReadFile(abs)
	if err != nil {
		return events.RequestEvent{}, platform.ErrIO("reading file", err)
	}
	if !strings.Contains(string(current), cmd.File.OldContent) {
		return events.RequestEvent{}, platform.ErrNotFound("old_content not present in file", nil)
	}
	if err := h.cache.RecordUpdate(abs); err != nil {
		return events.RequestEvent{}, err
	}
	updated := strings.ReplaceAll(string(current), cmd.File.OldContent, cmd.File.NewContent)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return events.RequestEvent{}, platform.ErrIO("writing file", err)
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleUndo(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	abs, err := h.resolve(cmd.File.FilePath)
	if err != nil {
		return events.RequestEvent{}, err
	}
	done, err := h.cache.Undo(abs)
	if err != nil {
		return events.RequestEvent{}, err
	}
	if !done {
		return events.RequestEvent{}, platform.ErrNotFound("no recorded events for file", nil)
	}
	return h.requests.Completed(cmd.RequestID), nil
}
