package shellexec

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
)

func cmdExecute(command string) *events.Command {
	return &events.Command{
		EventType: events.CommandExecute,
		RequestID: "r1",
		Shell:     &events.ShellCommand{Command: command},
	}
}

func testShellConfig(t *testing.T) config.ShellConfig {
	t.Helper()
	cfg := config.ShellConfig{WorkspaceDirectory: t.TempDir()}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestManager(t *testing.T, cfg config.ShellConfig) *Manager {
	t.Helper()
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	t.Cleanup(m.CloseAll)
	return m
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	e := &Executor{cfg: config.ShellConfig{MaxOutputSize: 10, BeginOutputSize: 4, EndOutputSize: 3}}

	text := "abcdefghijklmnopqrst"
	got, size := e.truncate(text)
	if size != 20 {
		t.Fatalf("size = %d, want 20", size)
	}
	if got != "abcd"+truncationMarker+"rst" {
		t.Fatalf("got = %q", got)
	}

	short, size := e.truncate("tiny")
	if short != "tiny" || size != 0 {
		t.Fatalf("short = %q size = %d", short, size)
	}
}

func TestSessionRunsCommands(t *testing.T) {
	cfg := testShellConfig(t)
	m := newTestManager(t, cfg)

	id, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	res, err := m.RunCommand(context.Background(), id, "echo hello")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !res.Successful || res.ExitCode != 0 || res.Stdout != "hello\n" {
		t.Fatalf("result = %+v", res)
	}

	res, err = m.RunCommand(context.Background(), id, "echo oops 1>&2; false")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.ExitCode != 1 || !strings.Contains(res.Stderr, "oops") {
		t.Fatalf("result = %+v", res)
	}
}

func TestWorkingDirectoryPersistsAcrossCommands(t *testing.T) {
	cfg := testShellConfig(t)
	m := newTestManager(t, cfg)

	id, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	res, err := m.RunCommand(context.Background(), id, "cd /")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.WorkingDirectory != "/" {
		t.Fatalf("working directory = %q", res.WorkingDirectory)
	}

	res, err = m.RunCommand(context.Background(), id, "pwd")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.Stdout != "/\n" {
		t.Fatalf("pwd = %q", res.Stdout)
	}
}

func TestCommandTimeoutClosesSession(t *testing.T) {
	cfg := testShellConfig(t)
	cfg.CommandMaxLifetime = 200 * time.Millisecond
	m := newTestManager(t, cfg)

	id, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	res, err := m.RunCommand(context.Background(), id, "sleep 5")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.Successful {
		t.Fatal("command past the lifetime cap should be unsuccessful")
	}

	if _, err := m.RunCommand(context.Background(), id, "echo still there"); platform.CodeOf(err) != platform.ErrCodeNotFound {
		t.Fatalf("session should be closed, err = %v", err)
	}
}

func TestRunCommandUnknownSession(t *testing.T) {
	m := newTestManager(t, testShellConfig(t))

	_, err := m.RunCommand(context.Background(), "nope", "echo hi")
	if platform.CodeOf(err) != platform.ErrCodeNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestSweepReapsExpiredSessions(t *testing.T) {
	cfg := testShellConfig(t)
	cfg.SessionMaxLifetime = time.Millisecond
	m := newTestManager(t, cfg)

	if _, err := m.OpenSession(); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if reaped := m.Sweep(time.Now()); reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if reaped := m.Sweep(time.Now()); reaped != 0 {
		t.Fatalf("second sweep reaped = %d, want 0", reaped)
	}
}

func TestExecuteHandlersOneOffSession(t *testing.T) {
	cfg := testShellConfig(t)
	m := newTestManager(t, cfg)
	h := NewHandlers(slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	res, err := h.handleExecute(context.Background(), cmdExecute("echo ad-hoc"))
	if err != nil {
		t.Fatalf("handleExecute: %v", err)
	}
	if res.Data.Execution == nil || res.Data.Execution.Stdout != "ad-hoc\n" {
		t.Fatalf("data = %+v", res.Data)
	}

	m.mu.Lock()
	open := len(m.sessions)
	m.mu.Unlock()
	if open != 0 {
		t.Fatalf("one-off session should be closed, %d open", open)
	}
}
