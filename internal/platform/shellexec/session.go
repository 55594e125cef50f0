// Package shellexec is the local shell pseudo-platform: controller commands
// run inside long-lived shell sessions with resource and lifetime caps.
package shellexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/conduitmsg/conduit/internal/platform"
)

// ResourceUsage is one sample of the session's process tree consumption.
type ResourceUsage struct {
	CPUPercent float64
	MemoryMB   uint64
}

// Session owns one long-lived shell subprocess. Commands are framed with a
// per-command sentinel so the exit code and working directory travel in-band
// on stdout; only one command runs at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	workDir string

	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader
	proc   *process.Process

	stderrMu  sync.Mutex
	stderrBuf bytes.Buffer
	mark      string
	marked    chan struct{}
}

// Open starts the shell rooted at the workspace directory.
func Open(workspace string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		workDir:   workspace,
		marked:    make(chan struct{}, 1),
	}

	cmd := exec.Command("/bin/sh")
	cmd.Dir = workspace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, platform.ErrIO("opening shell stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, platform.ErrIO("opening shell stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, platform.ErrIO("opening shell stderr", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, platform.ErrIO("starting shell", err)
	}

	s.cmd = cmd
	s.stdin = bufio.NewWriter(stdin)
	s.stdout = bufio.NewReader(stdout)
	if proc, perr := process.NewProcess(int32(cmd.Process.Pid)); perr == nil {
		s.proc = proc
	}

	go s.drainStderr(bufio.NewScanner(stderr))
	return s, nil
}

// drainStderr accumulates stderr lines and signals when the current command's
// sentinel arrives, which makes the stderr snapshot deterministic.
func (s *Session) drainStderr(scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		s.stderrMu.Lock()
		if s.mark != "" && line == s.mark {
			s.stderrMu.Unlock()
			select {
			case s.marked <- struct{}{}:
			default:
			}
			continue
		}
		s.stderrBuf.WriteString(line)
		s.stderrBuf.WriteByte('\n')
		s.stderrMu.Unlock()
	}
}

// commandResult is the raw capture of one shell command.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	WorkDir  string
}

// Run executes one command and blocks until the shell reports its exit code
// and working directory. Cancellation kills the whole shell since a
// half-finished command leaves the stream unframed.
func (s *Session) Run(ctx context.Context, command string) (*commandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentinel := "__conduit_" + uuid.NewString()
	s.stderrMu.Lock()
	s.stderrBuf.Reset()
	s.mark = sentinel
	s.stderrMu.Unlock()

	// The trailing printf pair publishes the exit code and pwd on stdout and
	// mirrors the sentinel on stderr to fence the capture.
	if _, err := fmt.Fprintf(s.stdin, "%s\nprintf '%%s %%d %%s\\n' %s \"$?\" \"$PWD\"\nprintf '%%s\\n' %s >&2\n", command, sentinel, sentinel); err != nil {
		return nil, platform.ErrIO("writing to shell", err)
	}
	if err := s.stdin.Flush(); err != nil {
		return nil, platform.ErrIO("writing to shell", err)
	}

	type outcome struct {
		res *commandResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.collect(sentinel)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		s.Kill()
		return nil, platform.ErrIO("command cancelled", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		s.workDir = out.res.WorkDir
		return out.res, nil
	}
}

func (s *Session) collect(sentinel string) (*commandResult, error) {
	var stdout strings.Builder
	for {
		line, err := s.stdout.ReadString('\n')
		if strings.HasPrefix(line, sentinel) {
			res := &commandResult{Stdout: stdout.String()}
			parts := strings.SplitN(strings.TrimSuffix(line, "\n"), " ", 3)
			if len(parts) >= 2 {
				res.ExitCode, _ = strconv.Atoi(parts[1])
			}
			if len(parts) == 3 {
				res.WorkDir = parts[2]
			}

			// The stderr fence normally arrives immediately after the stdout
			// sentinel; the timeout covers a shell killed in between.
			select {
			case <-s.marked:
			case <-time.After(2 * time.Second):
			}
			s.stderrMu.Lock()
			res.Stderr = s.stderrBuf.String()
			s.mark = ""
			s.stderrMu.Unlock()
			return res, nil
		}
		if err != nil {
			return nil, platform.ErrIO("shell exited mid-command", err)
		}
		stdout.WriteString(line)
	}
}

// WorkDir returns the directory the last command finished in.
func (s *Session) WorkDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

// Usage samples CPU and RSS for the shell and its children.
func (s *Session) Usage() (ResourceUsage, error) {
	if s.proc == nil {
		return ResourceUsage{}, platform.ErrInternal("no process handle", nil)
	}
	var usage ResourceUsage
	if cpu, err := s.proc.CPUPercent(); err == nil {
		usage.CPUPercent = cpu
	}
	procs := []*process.Process{s.proc}
	if children, err := s.proc.Children(); err == nil {
		procs = append(procs, children...)
	}
	for _, p := range procs {
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			usage.MemoryMB += mem.RSS >> 20
		}
	}
	return usage, nil
}

// Alive reports whether the shell process is still running.
func (s *Session) Alive() bool {
	if s.proc == nil {
		return false
	}
	running, err := s.proc.IsRunning()
	return err == nil && running
}

// Close asks the shell to exit and waits for it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.stdin, "exit")
	s.stdin.Flush()

	waited := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		s.cmd.Process.Kill()
	}
	return nil
}

// Kill terminates the shell immediately.
func (s *Session) Kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}
