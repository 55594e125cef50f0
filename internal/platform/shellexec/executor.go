package shellexec

import (
	"context"
	"log/slog"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
)

const truncationMarker = "\n...[output truncated]...\n"

// Executor runs commands inside sessions under a resource monitor: CPU, RSS
// and wall-clock lifetime caps. A fired monitor cancels the command and
// marks the result unsuccessful.
type Executor struct {
	log *slog.Logger
	cfg config.ShellConfig

	// monitorInterval is how often the resource monitor samples; shortened
	// in tests.
	monitorInterval time.Duration
}

func NewExecutor(log *slog.Logger, cfg config.ShellConfig) *Executor {
	return &Executor{log: log, cfg: cfg, monitorInterval: 10 * time.Second}
}

// Execute runs one command and formats the captured output. The returned
// result is always non-nil; Successful reports whether the command ran to
// completion within its caps.
func (e *Executor) Execute(ctx context.Context, session *Session, command string) *events.ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandMaxLifetime)
	defer cancel()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		e.monitor(runCtx, cancel, session)
	}()

	raw, err := session.Run(runCtx, command)
	cancel()
	<-monitorDone

	result := &events.ExecutionResult{SessionID: session.ID, ExitCode: -1}
	if err != nil {
		e.log.Warn("command did not complete", "session_id", session.ID, "error", err)
		return result
	}

	result.ExitCode = raw.ExitCode
	result.Successful = true
	result.WorkingDirectory = raw.WorkDir
	result.Stdout, result.StdoutSize = e.truncate(raw.Stdout)
	result.Stderr, result.StderrSize = e.truncate(raw.Stderr)
	return result
}

// monitor cancels the command when it outlives its cap or exceeds the CPU
// or memory limits.
func (e *Executor) monitor(ctx context.Context, cancel context.CancelFunc, session *Session) {
	ticker := time.NewTicker(e.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := session.Usage()
			if err != nil {
				continue
			}
			if usage.CPUPercent > e.cfg.CPUPercentLimit {
				e.log.Warn("command exceeded cpu limit", "session_id", session.ID, "cpu_percent", usage.CPUPercent)
				cancel()
				return
			}
			if usage.MemoryMB > e.cfg.MemoryMBLimit {
				e.log.Warn("command exceeded memory limit", "session_id", session.ID, "memory_mb", usage.MemoryMB)
				cancel()
				return
			}
		}
	}
}

// truncate caps output at max_output_size, keeping the leading and trailing
// slices joined by a marker. The returned size is the original length when
// truncation happened, zero otherwise.
func (e *Executor) truncate(text string) (string, int64) {
	if len(text) <= e.cfg.MaxOutputSize {
		return text, 0
	}
	head := text[:e.cfg.BeginOutputSize]
	tail := text[len(text)-e.cfg.EndOutputSize:]
	return head + truncationMarker + tail, int64(len(text))
}
