package textfile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
)

func testConfig(t *testing.T) config.TextFileConfig {
	t.Helper()
	cfg := config.TextFileConfig{
		BaseDirectory:   t.TempDir(),
		BackupDirectory: t.TempDir(),
		SecurityMode:    config.SecurityPermissive,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestCache(t *testing.T, cfg config.TextFileConfig) *EventCache {
	t.Helper()
	cache, err := NewEventCache(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	if err != nil {
		t.Fatalf("NewEventCache: %v", err)
	}
	return cache
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(content)
}

func backupCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

func TestUndoUpdateRestoresContent(t *testing.T) {
	cfg := testConfig(t)
	cache := newTestCache(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "f.txt")
	writeFile(t, path, "A")

	if err := cache.RecordUpdate(path); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}
	writeFile(t, path, "B")

	done, err := cache.Undo(path)
	if err != nil || !done {
		t.Fatalf("Undo = %v, %v", done, err)
	}
	if got := readFile(t, path); got != "A" {
		t.Fatalf("content = %q, want A", got)
	}
	if n := backupCount(t, cfg.BackupDirectory); n != 0 {
		t.Fatalf("backup count = %d, want 0", n)
	}
}

func TestUndoCreateRemovesFile(t *testing.T) {
	cfg := testConfig(t)
	cache := newTestCache(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "new.txt")
	writeFile(t, path, "hello")

	if err := cache.RecordCreate(path); err != nil {
		t.Fatalf("RecordCreate: %v", err)
	}
	if done, err := cache.Undo(path); err != nil || !done {
		t.Fatalf("Undo = %v, %v", done, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be removed")
	}
}

func TestUndoDeleteRecreatesFile(t *testing.T) {
	cfg := testConfig(t)
	cache := newTestCache(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "gone.txt")
	writeFile(t, path, "payload")

	if err := cache.RecordDelete(path); err != nil {
		t.Fatalf("RecordDelete: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if done, err := cache.Undo(path); err != nil || !done {
		t.Fatalf("Undo = %v, %v", done, err)
	}
	if got := readFile(t, path); got != "payload" {
		t.Fatalf("content = %q", got)
	}
}

func TestUndoWithoutEvents(t *testing.T) {
	cfg := testConfig(t)
	cache := newTestCache(t, cfg)

	done, err := cache.Undo(filepath.Join(cfg.BaseDirectory, "none.txt"))
	if err != nil || done {
		t.Fatalf("Undo = %v, %v, want false, nil", done, err)
	}
}

func TestMaxEventsEviction(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEventsPerFile = 2
	cache := newTestCache(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "busy.txt")
	writeFile(t, path, "v1")

	for i := 0; i < 3; i++ {
		if err := cache.RecordUpdate(path); err != nil {
			t.Fatalf("RecordUpdate: %v", err)
		}
	}
	if depth := cache.depth(path); depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}
	if n := backupCount(t, cfg.BackupDirectory); n != 2 {
		t.Fatalf("backup count = %d, want 2", n)
	}
}

func TestSweepExpiresOldEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventTTLHours = 1
	cache := newTestCache(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "old.txt")
	writeFile(t, path, "stale")

	if err := cache.RecordUpdate(path); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}

	if evicted := cache.Sweep(time.Now().Add(2 * time.Hour)); evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if depth := cache.depth(path); depth != 0 {
		t.Fatalf("depth = %d, want 0", depth)
	}
	if n := backupCount(t, cfg.BackupDirectory); n != 0 {
		t.Fatalf("backup count = %d, want 0", n)
	}
}

func newTestHandlers(t *testing.T, cfg config.TextFileConfig) *Handlers {
	t.Helper()
	return NewHandlers(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, newTestCache(t, cfg))
}

func fileCmd(eventType events.OutgoingEventType, file events.FileCommand) *events.Command {
	return &events.Command{EventType: eventType, RequestID: "req-1", File: &file}
}

func TestCreateUpdateUndoFlow(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	ctx := context.Background()

	if _, err := h.handleCreate(ctx, fileCmd(events.CommandCreateFile, events.FileCommand{
		FilePath: "notes/todo.txt",
		Content:  "first",
	})); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := filepath.Join(cfg.BaseDirectory, "notes", "todo.txt")
	if got := readFile(t, path); got != "first" {
		t.Fatalf("content = %q", got)
	}

	if _, err := h.handleUpdate(ctx, fileCmd(events.CommandUpdateFile, events.FileCommand{
		FilePath: "notes/todo.txt",
		Content:  "second",
	})); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := h.handleUndo(ctx, fileCmd(events.CommandUndoFile, events.FileCommand{
		FilePath: "notes/todo.txt",
	})); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got := readFile(t, path); got != "first" {
		t.Fatalf("content after undo = %q, want first", got)
	}
}

func TestViewListsDirectory(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	writeFile(t, filepath.Join(cfg.BaseDirectory, "a.txt"), "aa")
	if err := os.Mkdir(filepath.Join(cfg.BaseDirectory, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	res, err := h.handleView(context.Background(), fileCmd(events.CommandViewDirectory, events.FileCommand{}))
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(res.Data.Entries) != 2 {
		t.Fatalf("entries = %+v", res.Data.Entries)
	}
	byName := map[string]events.DirectoryEntry{}
	for _, e := range res.Data.Entries {
		byName[e.Name] = e
	}
	if !byName["sub"].IsDir || byName["a.txt"].Size != 2 {
		t.Fatalf("entries = %+v", res.Data.Entries)
	}
}

func TestReadReturnsContent(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	writeFile(t, filepath.Join(cfg.BaseDirectory, "doc.txt"), "body")

	res, err := h.handleRead(context.Background(), fileCmd(events.CommandReadFile, events.FileCommand{
		FilePath: "doc.txt",
	}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Data.Content != "body" || !res.Data.RequestCompleted {
		t.Fatalf("data = %+v", res.Data)
	}
}

func TestReadRejectsBinary(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "blob.dat")
	if err := os.WriteFile(path, []byte{0, 1, 2, 3}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := h.handleRead(context.Background(), fileCmd(events.CommandReadFile, events.FileCommand{
		FilePath: "blob.dat",
	}))
	if platform.CodeOf(err) != platform.ErrCodeInvalidRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)

	_, err := h.handleRead(context.Background(), fileCmd(events.CommandReadFile, events.FileCommand{
		FilePath: "../outside.txt",
	}))
	if platform.CodeOf(err) != platform.ErrCodeInvalidRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestMoveThenUndoRestoresSource(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	ctx := context.Background()
	src := filepath.Join(cfg.BaseDirectory, "old.txt")
	writeFile(t, src, "moving")

	if _, err := h.handleMove(ctx, fileCmd(events.CommandMoveFile, events.FileCommand{
		SourceFilePath:      "old.txt",
		DestinationFilePath: "new.txt",
	})); err != nil {
		t.Fatalf("move: %v", err)
	}
	dst := filepath.Join(cfg.BaseDirectory, "new.txt")
	if got := readFile(t, dst); got != "moving" {
		t.Fatalf("dst content = %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source should be gone")
	}

	// Undoing both recorded legs restores the original layout.
	if _, err := h.handleUndo(ctx, fileCmd(events.CommandUndoFile, events.FileCommand{FilePath: "new.txt"})); err != nil {
		t.Fatalf("undo dst: %v", err)
	}
	if _, err := h.handleUndo(ctx, fileCmd(events.CommandUndoFile, events.FileCommand{FilePath: "old.txt"})); err != nil {
		t.Fatalf("undo src: %v", err)
	}
	if got := readFile(t, src); got != "moving" {
		t.Fatalf("src content = %q", got)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("destination should be gone after undo")
	}
}

func TestInsertAtLine(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "list.txt")
	writeFile(t, path, "one\nthree")

	if _, err := h.handleInsert(context.Background(), fileCmd(events.CommandInsertLines, events.FileCommand{
		FilePath:   "list.txt",
		LineNumber: 2,
		Content:    "two",
	})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := readFile(t, path); got != "one\ntwo\nthree" {
		t.Fatalf("content = %q", got)
	}
}

func TestReplaceRequiresMatch(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHandlers(t, cfg)
	path := filepath.Join(cfg.BaseDirectory, "text.txt")
	writeFile(t, path, "alpha beta alpha")

	_, err := h.handleReplace(context.Background(), fileCmd(events.CommandReplaceText, events.FileCommand{
		FilePath:   "text.txt",
		OldContent: "gamma",
		NewContent: "delta",
	}))
	if platform.CodeOf(err) != platform.ErrCodeNotFound {
		t.Fatalf("err = %v", err)
	}

	if _, err := h.handleReplace(context.Background(), fileCmd(events.CommandReplaceText, events.FileCommand{
		FilePath:   "text.txt",
		OldContent: "alpha",
		NewContent: "omega",
	})); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := readFile(t, path); got != "omega beta omega" {
		t.Fatalf("content = %q", got)
	}
}

func TestStrictModeBlocksUnlistedExtension(t *testing.T) {
	cfg := testConfig(t)
	cfg.SecurityMode = config.SecurityStrict
	cfg.AllowedExtensions = []string{"txt"}
	cfg.BlockedExtensions = []string{"exe"}
	h := newTestHandlers(t, cfg)

	_, err := h.handleCreate(context.Background(), fileCmd(events.CommandCreateFile, events.FileCommand{
		FilePath: "script.py",
		Content:  "print()",
	}))
	if platform.CodeOf(err) != platform.ErrCodeInvalidRequest {
		t.Fatalf("err = %v", err)
	}

	if _, err := h.handleCreate(context.Background(), fileCmd(events.CommandCreateFile, events.FileCommand{
		FilePath: "notes.txt",
		Content:  "ok",
	})); err != nil {
		t.Fatalf("create allowed extension: %v", err)
	}
}

func TestUnrestrictedModeAllowsBlocked(t *testing.T) {
	cfg := testConfig(t)
	cfg.SecurityMode = config.SecurityUnrestricted
	cfg.BlockedExtensions = []string{"exe"}
	v := NewValidator(cfg)

	if err := v.CheckPolicy("program.exe"); err != nil {
		t.Fatalf("CheckPolicy: %v", err)
	}
}

func TestPseudoDriverRejectsMessaging(t *testing.T) {
	d := NewPseudoDriver()
	if err := d.ConnectionExists(context.Background()); err != nil {
		t.Fatalf("ConnectionExists: %v", err)
	}
	_, err := d.SendMessage(context.Background(), "c", "hi", platform.SendOptions{})
	if platform.CodeOf(err) != platform.ErrCodeUnsupported {
		t.Fatalf("err = %v", err)
	}
}
