// Package adapter assembles one adapter process: the platform driver, the
// conversation state, both event processors, the controller channel, and the
// background maintenance loops.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conduitmsg/conduit/internal/attachments"
	"github.com/conduitmsg/conduit/internal/backoff"
	"github.com/conduitmsg/conduit/internal/cache"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/conversation"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/history"
	"github.com/conduitmsg/conduit/internal/observability"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/internal/platform/discord"
	"github.com/conduitmsg/conduit/internal/platform/discordwebhook"
	"github.com/conduitmsg/conduit/internal/platform/shellexec"
	"github.com/conduitmsg/conduit/internal/platform/slack"
	"github.com/conduitmsg/conduit/internal/platform/telegram"
	"github.com/conduitmsg/conduit/internal/platform/textfile"
	"github.com/conduitmsg/conduit/internal/platform/zulip"
	"github.com/conduitmsg/conduit/internal/processor"
	"github.com/conduitmsg/conduit/internal/ratelimit"
	"github.com/conduitmsg/conduit/internal/transport"
	"github.com/conduitmsg/conduit/pkg/models"
)

// sweepTask is one periodic maintenance loop.
type sweepTask struct {
	name     string
	interval time.Duration
	sweep    interface{ Sweep(now time.Time) int }
}

// Adapter is one fully wired adapter process. Construct with New, drive with
// Run; Run blocks until the context is cancelled or the process gives up on
// its connections.
type Adapter struct {
	log *slog.Logger
	cfg *config.Config

	driver platform.Driver
	// runDriver starts the upstream event loop; nil for send-only and
	// pseudo-platform drivers.
	runDriver func(ctx context.Context) error
	// events is the upstream callback stream; nil when the driver pushes
	// nothing.
	events <-chan *platform.Event
	// pseudo marks local platforms with no upstream connection to monitor.
	pseudo bool

	manager    *conversation.Manager
	incoming   *processor.Incoming
	outgoing   *processor.Outgoing
	downloader *attachments.Downloader
	metrics    *observability.Metrics

	emitter *swappingEmitter
	session *transport.Session

	maintenance []sweepTask
	closers     []func()
}

// New assembles the adapter named by cfg.Adapter.AdapterType. The config must
// already be validated.
func New(log *slog.Logger, cfg *config.Config) (*Adapter, error) {
	return build(log, cfg, prometheus.DefaultRegisterer)
}

func build(log *slog.Logger, cfg *config.Config, reg prometheus.Registerer) (*Adapter, error) {
	a := &Adapter{
		log:     log,
		cfg:     cfg,
		metrics: observability.NewMetrics(reg),
		emitter: &swappingEmitter{},
	}

	adapterType := cfg.Adapter.AdapterType
	a.pseudo = adapterType == models.AdapterTextFile || adapterType == models.AdapterShell

	var store *attachments.Store
	var onEvict cache.EvictFunc
	if !a.pseudo {
		var err error
		store, err = attachments.NewStore(log, cfg.Attachments)
		if err != nil {
			return nil, err
		}
		onEvict = store.OnEvict
		a.downloader = attachments.NewDownloader(log, store, nil)
	}

	messages := cache.NewMessageCache(cfg.Caching)
	attachmentCache := cache.NewAttachmentCache(cfg.Caching, onEvict)
	users := cache.NewUserCache(cfg.Caching)
	a.manager = conversation.NewManager(log, messages, attachmentCache, users)
	a.maintenance = []sweepTask{
		{name: "messages", interval: cfg.Caching.MaintenanceInterval, sweep: messages},
		{name: "attachments", interval: cfg.Caching.MaintenanceInterval, sweep: attachmentCache},
		{name: "users", interval: cfg.Caching.MaintenanceInterval, sweep: users},
	}

	var registerPseudo func(*processor.Outgoing)
	switch adapterType {
	case models.AdapterTelegram:
		d, err := telegram.NewDriver(log, cfg.Adapter)
		if err != nil {
			return nil, err
		}
		a.driver = d
		a.events = d.Events()
		a.runDriver = func(ctx context.Context) error {
			d.Run(ctx)
			return nil
		}
	case models.AdapterDiscord:
		d, err := discord.NewDriver(log, cfg.Adapter)
		if err != nil {
			return nil, err
		}
		a.driver = d
		a.events = d.Events()
		a.runDriver = d.Run
	case models.AdapterDiscordWebhook:
		d, err := discordwebhook.NewDriver(log, cfg.Adapter)
		if err != nil {
			return nil, err
		}
		a.driver = d
	case models.AdapterSlack:
		d, err := slack.NewDriver(log, cfg.Adapter)
		if err != nil {
			return nil, err
		}
		a.driver = d
		a.events = d.Events()
		a.runDriver = d.Run
	case models.AdapterZulip:
		d, err := zulip.NewDriver(log, cfg.Adapter)
		if err != nil {
			return nil, err
		}
		a.driver = d
		a.events = d.Events()
		a.runDriver = d.Run
	case models.AdapterTextFile:
		a.driver = textfile.NewPseudoDriver()
		eventCache, err := textfile.NewEventCache(log, cfg.TextFile)
		if err != nil {
			return nil, err
		}
		handlers := textfile.NewHandlers(log, cfg.TextFile, eventCache)
		registerPseudo = handlers.Register
		a.maintenance = append(a.maintenance, sweepTask{
			name:     "file_events",
			interval: time.Duration(cfg.TextFile.CleanupIntervalHours) * time.Hour,
			sweep:    eventCache,
		})
	case models.AdapterShell:
		a.driver = shellexec.NewPseudoDriver()
		manager := shellexec.NewManager(log, cfg.Shell)
		handlers := shellexec.NewHandlers(log, manager)
		registerPseudo = handlers.Register
		a.closers = append(a.closers, manager.CloseAll)
		a.maintenance = append(a.maintenance, sweepTask{
			name:     "shell_sessions",
			interval: time.Minute,
			sweep:    manager,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", adapterType)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	fetcher := history.NewFetcher(log, cfg.Adapter, a.driver, a.manager, limiter)
	builder := events.NewIncomingBuilder(adapterType, cfg.Adapter.AdapterID, cfg.Adapter.AdapterName)
	a.incoming = processor.NewIncoming(log, cfg.Adapter, a.manager, builder, fetcher)
	a.outgoing = processor.NewOutgoing(log, cfg.Adapter, a.driver, a.manager, limiter, fetcher)
	if registerPseudo != nil {
		registerPseudo(a.outgoing)
	}

	a.session = transport.NewSession(log, a.emitter, adapterType, a.execute)
	return a, nil
}

// Run starts every background loop and serves the controller channel until
// the context is cancelled or the channel cannot be re-established.
func (a *Adapter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, task := range a.maintenance {
		wg.Add(1)
		go func(t sweepTask) {
			defer wg.Done()
			cache.RunMaintenance(ctx, t.interval, t.sweep, a.log.With("cache", t.name))
		}(task)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reportCacheSizes(ctx)
	}()

	if a.runDriver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.runDriver(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("upstream event loop failed", "error", err)
				cancel()
			}
		}()
	}
	if a.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pumpEvents(ctx)
		}()
	}
	if !a.pseudo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.monitorConnection(ctx, cancel)
		}()
	}

	err := a.serveTransport(ctx)
	cancel()
	wg.Wait()
	for _, closer := range a.closers {
		closer()
	}
	return err
}

// execute runs one controller command and records its outcome.
func (a *Adapter) execute(ctx context.Context, env *events.Envelope) (events.RequestEvent, error) {
	adapterType := string(a.cfg.Adapter.AdapterType)
	start := time.Now()

	cmd, err := events.ParseCommand(env)
	if err != nil {
		a.metrics.RequestFailed(adapterType, string(platform.CodeOf(err)))
		return events.RequestEvent{}, err
	}

	resp, err := a.outgoing.Handle(ctx, cmd)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		a.metrics.RequestCompleted(adapterType, string(cmd.EventType), "failed", elapsed)
		a.metrics.RequestFailed(adapterType, string(platform.CodeOf(err)))
		return events.RequestEvent{}, err
	}
	a.metrics.RequestCompleted(adapterType, string(cmd.EventType), "success", elapsed)
	return resp, nil
}

// pumpEvents forwards upstream callbacks to the controller. Attachment blobs
// are fetched before the message is processed so cached payloads carry local
// file paths.
func (a *Adapter) pumpEvents(ctx context.Context) {
	adapterType := string(a.cfg.Adapter.AdapterType)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.events:
			if !ok {
				return
			}
			if ev.Type == platform.IncomingNewMessage && ev.Message != nil {
				a.fetchAttachments(ctx, ev.Message)
			}
			for _, out := range a.incoming.Process(ctx, ev) {
				if err := a.session.EmitBotRequest(out); err != nil {
					a.log.Warn("dropping controller event",
						"event_type", string(out.EventType), "error", err)
					continue
				}
				a.metrics.EventForwarded(adapterType, string(out.EventType))
			}
		}
	}
}

func (a *Adapter) fetchAttachments(ctx context.Context, msg *platform.Message) {
	if a.downloader == nil {
		return
	}
	for i := range msg.Attachments {
		info := &msg.Attachments[i]
		if info.FilePath != "" || info.URL == "" {
			continue
		}
		if err := a.downloader.Download(ctx, info); err != nil {
			a.log.Warn("attachment download failed",
				"attachment_id", info.AttachmentID, "error", err)
		}
	}
}

// monitorConnection probes the upstream platform on the configured interval.
// State transitions are announced to the controller; after the configured
// number of consecutive failed probes the whole adapter shuts down.
func (a *Adapter) monitorConnection(ctx context.Context, cancel context.CancelFunc) {
	adapterType := string(a.cfg.Adapter.AdapterType)
	policy := backoff.ReconnectPolicy()

	up := false
	failures := 0
	probe := func() bool {
		probeCtx, probeCancel := context.WithTimeout(ctx, a.cfg.Adapter.ConnectionCheckInterval)
		err := a.driver.ConnectionExists(probeCtx)
		probeCancel()

		if err == nil {
			if !up {
				a.log.Info("upstream connection established")
				if emitErr := a.session.EmitConnect(); emitErr != nil {
					a.log.Warn("failed to announce connect", "error", emitErr)
				}
				a.metrics.ConnectionState(adapterType, true)
				if failures > 0 {
					a.metrics.ReconnectAttempted(adapterType, true)
				}
			}
			up = true
			failures = 0
			return true
		}

		failures++
		if up {
			a.log.Warn("upstream connection lost", "error", err)
			if emitErr := a.session.EmitDisconnect(); emitErr != nil {
				a.log.Warn("failed to announce disconnect", "error", emitErr)
			}
			a.metrics.ConnectionState(adapterType, false)
		} else {
			a.log.Warn("upstream connection probe failed",
				"error", err, "attempt", failures)
		}
		up = false
		a.metrics.ReconnectAttempted(adapterType, false)
		return false
	}

	probe()
	ticker := time.NewTicker(a.cfg.Adapter.ConnectionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if probe() {
				continue
			}
			if failures > a.cfg.Adapter.MaxReconnectAttempts {
				a.log.Error("upstream unreachable, giving up",
					"attempts", failures)
				cancel()
				return
			}
			if err := policy.Sleep(ctx, failures); err != nil {
				return
			}
		}
	}
}

// serveTransport keeps the controller channel alive, replacing failed
// clients with backoff until the attempt budget is spent.
func (a *Adapter) serveTransport(ctx context.Context) error {
	adapterType := string(a.cfg.Adapter.AdapterType)
	policy := backoff.ReconnectPolicy()

	attempt := 0
	for {
		client := transport.NewClient(a.log, a.cfg.Transport.URL,
			a.cfg.Transport.ConnectTimeout, a.cfg.Transport.EmitBuffer, a.handleControllerEvent)
		if err := client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			a.metrics.ReconnectAttempted(adapterType, false)
			if attempt > a.cfg.Adapter.MaxReconnectAttempts {
				return fmt.Errorf("controller channel unreachable after %d attempts: %w", attempt, err)
			}
			a.log.Warn("controller channel connect failed",
				"attempt", attempt, "error", err)
			if err := policy.Sleep(ctx, attempt); err != nil {
				return nil
			}
			continue
		}

		if attempt > 0 {
			a.metrics.ReconnectAttempted(adapterType, true)
		}
		attempt = 0
		a.emitter.set(client)
		a.log.Info("controller channel connected", "url", a.cfg.Transport.URL)

		// Local platforms have no upstream probe to announce through; they
		// are live as soon as the channel is up.
		if a.pseudo {
			if err := a.session.EmitConnect(); err != nil {
				a.log.Warn("failed to announce connect", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			a.emitter.set(nil)
			client.Close()
			return nil
		case <-client.Done():
			a.emitter.set(nil)
			a.log.Warn("controller channel lost, reconnecting")
		}
	}
}

func (a *Adapter) handleControllerEvent(ctx context.Context, event string, payload json.RawMessage) {
	if event != transport.EventBotResponse {
		a.log.Debug("ignoring controller event", "event", event)
		return
	}
	a.session.HandleBotResponse(ctx, payload)
}

func (a *Adapter) reportCacheSizes(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Caching.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.CacheSize("messages", a.manager.Messages().Len())
		}
	}
}

// swappingEmitter routes emits to the current controller client; the target
// changes across reconnects.
type swappingEmitter struct {
	mu     sync.Mutex
	target transport.Emitter
}

func (e *swappingEmitter) set(target transport.Emitter) {
	e.mu.Lock()
	e.target = target
	e.mu.Unlock()
}

func (e *swappingEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	target := e.target
	e.mu.Unlock()
	if target == nil {
		return fmt.Errorf("emit %s: controller channel down", event)
	}
	return target.Emit(event, payload)
}
