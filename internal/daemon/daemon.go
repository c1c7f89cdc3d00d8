// Package daemon wires the platform together and supervises the
// background loops: the assignment scan, the idle-chat sweep, and
// config hot reload. One daemon instance owns a data directory,
// enforced by an advisory file lock.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/velora-app/velora/internal/assignment"
	"github.com/velora-app/velora/internal/events"
	"github.com/velora-app/velora/internal/ledger"
	"github.com/velora-app/velora/internal/lock"
	"github.com/velora-app/velora/internal/messaging"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/notify"
	"github.com/velora-app/velora/internal/pricing"
	"github.com/velora-app/velora/internal/store"
	"github.com/velora-app/velora/internal/uds"
)

const auditMaxSize = 10 << 20 // rotate audit log at 10 MiB

func parseLogLevel(s string) assignment.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return assignment.LogLevelDebug
	case "info":
		return assignment.LogLevelInfo
	case "warn", "warning":
		return assignment.LogLevelWarn
	case "error":
		return assignment.LogLevelError
	default:
		return assignment.LogLevelInfo
	}
}

// Daemon is the long-running velora process.
type Daemon struct {
	dataDir    string
	configPath string
	config     model.Config
	logLevel   assignment.LogLevel
	logger     *log.Logger
	logFile    io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	store       *store.Store
	queue       *assignment.Queue
	engine      *assignment.Engine
	escalator   *assignment.Escalator
	coordinator *messaging.Coordinator
	bus         *events.Bus
	audit       *events.AuditLogger
	sink        notify.Sink

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a daemon rooted at dataDir. The config path is retained
// so edits to it can be hot reloaded.
func New(dataDir, configPath string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "velora.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dataDir, configPath, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(dataDir, configPath string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	scanInterval := cfg.Queue.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 10
	}

	logger := log.New(w, "", 0)
	d := &Daemon{
		dataDir:    dataDir,
		configPath: configPath,
		config:     cfg,
		logLevel:   parseLogLevel(cfg.Logging.Level),
		logger:     logger,
		logFile:    closer,
		fileLock:   lock.NewFileLock(filepath.Join(dataDir, "velora.lock")),
		server:     uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName), logger),
		ticker:     time.NewTicker(time.Duration(scanInterval) * time.Second),
		ctx:        ctx,
		cancel:     cancel,
	}
	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// start brings up storage, the engine wiring, and the background loops.
func (d *Daemon) start() error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(assignment.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	storePath := d.config.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(d.dataDir, storePath)
	}
	st, err := store.Open(model.StoreConfig{
		Path:     storePath,
		PoolSize: d.config.Store.PoolSize,
	}, d.logger)
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("open store: %w", err)
	}
	d.store = st

	pricer, err := pricing.New(d.config.Pricing)
	if err != nil {
		d.cleanup()
		return err
	}

	if d.config.Notify.URL != "" {
		sink, err := notify.DialAMQP(d.ctx, notify.DialOptions{
			URL:      d.config.Notify.URL,
			Exchange: d.config.Notify.Exchange,
			Logger:   d.logger,
		})
		if err != nil {
			d.cleanup()
			return fmt.Errorf("connect notification broker: %w", err)
		}
		d.sink = sink
	} else {
		d.sink = notify.NewLogSink(d.logger)
	}

	audit, err := events.NewAuditLogger(filepath.Join(d.dataDir, "logs", "audit.jsonl"), auditMaxSize)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.bus = events.NewBus(0)

	d.queue = assignment.NewQueue()
	led := ledger.New(st, d.logger)
	d.engine = assignment.NewEngine(st, d.queue, d.config.Queue, d.logger, d.logLevel)
	d.escalator = assignment.NewEscalator(st, d.queue, d.sink, d.config.Queue, d.logger, d.logLevel)
	d.engine.SetEscalator(d.escalator)
	d.engine.SetEventBus(d.bus)
	d.escalator.SetEventBus(d.bus)
	d.escalator.SetAuditLogger(d.audit)

	commitTimeout := time.Duration(d.config.Queue.CommitTimeoutSec) * time.Second
	d.coordinator = messaging.NewCoordinator(st, led, pricer, commitTimeout, d.logger)
	d.coordinator.SetEventBus(d.bus)
	d.coordinator.SetAuditLogger(d.audit)

	// Chats that were queued when the previous process died re-enter
	// the in-memory queue.
	recovered, err := d.engine.RecoverQueued(d.ctx)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("recover queue: %w", err)
	}
	if recovered > 0 {
		d.log(assignment.LogLevelInfo, "recovered queued chats count=%d", recovered)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if d.configPath != "" {
		// Watch the directory, not the file: editors replace the file
		// on save, which would silently drop a file-level watch.
		if err := watcher.Add(filepath.Dir(d.configPath)); err != nil {
			d.cleanup()
			return fmt.Errorf("watch config dir: %w", err)
		}
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start control socket: %w", err)
	}
	d.log(assignment.LogLevelInfo, "control socket listening path=%s",
		filepath.Join(d.dataDir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.scanLoop()
	go d.configWatchLoop()

	d.scan()
	d.log(assignment.LogLevelInfo, "daemon ready")
	return nil
}

// registerHandlers registers the control socket commands.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok", "pid": fmt.Sprint(os.Getpid())})
	})

	d.server.Handle("stats", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.engine.QueueStats())
	})

	d.server.Handle("availability", func(req *uds.Request) *uds.Response {
		var params struct {
			OperatorID string `json:"operator_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.OperatorID == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "operator_id required")
		}
		if err := d.engine.RequireAvailable(d.ctx, params.OperatorID); err != nil {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.SuccessResponse(map[string]string{"operator_id": params.OperatorID, "status": "available"})
	})

	d.server.Handle("escalations", func(req *uds.Request) *uds.Response {
		open, err := d.store.ListOpenEscalations(d.ctx)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		return uds.SuccessResponse(open)
	})

	d.server.Handle("resolve", func(req *uds.Request) *uds.Response {
		var params struct {
			EscalationID string `json:"escalation_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.EscalationID == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "escalation_id required")
		}
		if err := d.escalator.ResolveEscalation(d.ctx, params.EscalationID); err != nil {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.SuccessResponse(map[string]string{"escalation_id": params.EscalationID, "status": "resolved"})
	})

	d.server.Handle("reassign", func(req *uds.Request) *uds.Response {
		var params struct {
			ChatID string `json:"chat_id"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.ChatID == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "chat_id required")
		}
		if params.Reason == "" {
			params.Reason = "admin request"
		}
		result, err := d.escalator.Reassign(d.ctx, params.ChatID, params.Reason)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.SuccessResponse(result)
	})

	d.server.Handle("scan", func(req *uds.Request) *uds.Response {
		d.scan()
		return uds.SuccessResponse(map[string]string{"status": "scanned"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(assignment.LogLevelInfo, "shutdown requested via control socket")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// scanLoop drives queue processing and the idle sweep on the
// configured interval.
func (d *Daemon) scanLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.scan()
		}
	}
}

// scan runs one full pass: assignment processing, then idle handling.
func (d *Daemon) scan() {
	result, err := d.engine.ProcessQueue(d.ctx, d.config.Queue.BatchSize)
	if err != nil && d.ctx.Err() == nil {
		d.log(assignment.LogLevelError, "process_queue error=%v", err)
	}
	if result.Processed > 0 {
		d.log(assignment.LogLevelDebug, "scan processed=%d assigned=%d escalated=%d",
			result.Processed, result.Assigned, result.Escalated)
	}
	d.idleSweep()
}

// idleSweep demotes stale active chats to idle and reassigns chats
// that have sat idle a full threshold with no operator response.
func (d *Daemon) idleSweep() {
	threshold := time.Duration(d.config.Queue.IdleThresholdMin) * time.Minute
	cutoff := time.Now().UTC().Add(-threshold)

	// Idle chats first: demoting before reassigning would strip a
	// freshly demoted chat of its grace interval.
	idle, err := d.store.ListChatsByStatus(d.ctx, model.StatusIdle)
	if err != nil {
		if d.ctx.Err() == nil {
			d.log(assignment.LogLevelError, "idle_sweep list idle error=%v", err)
		}
		return
	}
	for i := range idle {
		chat := &idle[i]
		if lastActivity(chat).After(cutoff) {
			continue
		}
		result, err := d.escalator.Reassign(d.ctx, chat.ID, "operator idle")
		if err != nil {
			if d.ctx.Err() == nil {
				d.log(assignment.LogLevelWarn, "idle_reassign chat=%s error=%v", chat.ID, err)
			}
			continue
		}
		if result.Escalated {
			d.log(assignment.LogLevelWarn, "idle_escalated chat=%s attempts=%d", chat.ID, result.Attempts)
		}
	}

	active, err := d.store.ListChatsByStatus(d.ctx, model.StatusActive)
	if err != nil {
		if d.ctx.Err() == nil {
			d.log(assignment.LogLevelError, "idle_sweep list active error=%v", err)
		}
		return
	}
	for i := range active {
		chat := &active[i]
		if lastActivity(chat).After(cutoff) {
			continue
		}
		if err := d.store.MarkChatIdle(d.ctx, chat.ID); err != nil {
			d.log(assignment.LogLevelWarn, "idle_sweep mark chat=%s error=%v", chat.ID, err)
		} else {
			d.log(assignment.LogLevelInfo, "chat_idle chat=%s operator=%s", chat.ID, chat.OperatorID)
		}
	}
}

// lastActivity is the staleness reference for the sweep: the latest of
// last message and assignment time, so a freshly assigned chat with no
// messages yet is not swept immediately.
func lastActivity(chat *model.Chat) time.Time {
	if chat.LastMessageAt.After(chat.AssignedAt) {
		return chat.LastMessageAt
	}
	return chat.AssignedAt
}

// configWatchLoop hot-reloads tunables when the config file changes.
func (d *Daemon) configWatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if d.configPath == "" || filepath.Clean(event.Name) != filepath.Clean(d.configPath) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.reloadConfig()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(assignment.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// reloadConfig re-reads the config file and swaps the live tunables.
// Store path, broker URL, and log destination changes require a
// restart and are ignored here.
func (d *Daemon) reloadConfig() {
	cfg, err := model.LoadConfig(d.configPath)
	if err != nil {
		d.log(assignment.LogLevelError, "config_reload failed error=%v", err)
		return
	}

	pricer, err := pricing.New(cfg.Pricing)
	if err != nil {
		d.log(assignment.LogLevelError, "config_reload bad pricing error=%v", err)
		return
	}

	d.engine.SetConfig(cfg.Queue)
	d.escalator.SetConfig(cfg.Queue)
	d.coordinator.SetPricer(pricer)
	if cfg.Queue.ScanIntervalSec > 0 && cfg.Queue.ScanIntervalSec != d.config.Queue.ScanIntervalSec {
		d.ticker.Reset(time.Duration(cfg.Queue.ScanIntervalSec) * time.Second)
	}
	d.logLevel = parseLogLevel(cfg.Logging.Level)
	d.config = cfg
	d.log(assignment.LogLevelInfo, "config_reloaded path=%s", d.configPath)
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(assignment.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit.
	go func() {
		<-sigCh
		d.log(assignment.LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(assignment.LogLevelInfo, "shutdown started")

		d.cancel()
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(assignment.LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(assignment.LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		d.cleanup()
		d.log(assignment.LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources in reverse acquisition order.
func (d *Daemon) cleanup() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.audit != nil {
		d.audit.Close()
	}
	if d.sink != nil {
		d.sink.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

// Engine exposes the assignment engine, used by CLI subcommands.
func (d *Daemon) Engine() *assignment.Engine {
	return d.engine
}

// Coordinator exposes the message transaction coordinator.
func (d *Daemon) Coordinator() *messaging.Coordinator {
	return d.coordinator
}

// Escalator exposes the reassignment escalator.
func (d *Daemon) Escalator() *assignment.Escalator {
	return d.escalator
}

func (d *Daemon) log(level assignment.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case assignment.LogLevelDebug:
		levelStr = "DEBUG"
	case assignment.LogLevelWarn:
		levelStr = "WARN"
	case assignment.LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
