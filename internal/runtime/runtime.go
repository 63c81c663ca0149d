// Package runtime wires the session core into one process: stores, locks,
// the work queue, the worker pool, the coordinator and the scheduled jobs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/weave/internal/config"
	"github.com/harun/weave/internal/logger"
	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/agent"
	"github.com/harun/weave/pkg/cleanup"
	"github.com/harun/weave/pkg/completion"
	"github.com/harun/weave/pkg/coordinator"
	"github.com/harun/weave/pkg/cron"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/sessionlock"
	"github.com/harun/weave/pkg/snapshot"
	"github.com/harun/weave/pkg/toolexec"
	"github.com/harun/weave/pkg/workerpool"
	"github.com/harun/weave/pkg/workqueue"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// DefaultSessionName is used for the session created on first start and
	// whenever the last live session is closed.
	DefaultSessionName = "main"

	saveJobName = "save-all"
)

// Options adjusts how a Runtime is assembled
type Options struct {
	// Fs backs snapshots, transcripts, tools and the PID file. Defaults to the OS filesystem.
	Fs afero.Fs
	// Client overrides the configured completion provider.
	Client completion.Client
	// Offline forces the scripted provider.
	Offline bool
	// Version is reported on traces.
	Version string
}

// Status reports whether the runtime is running
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Provider  string
	Sessions  coordinator.Stats
	Pool      workerpool.Stats
}

// Runtime owns every long-lived component
type Runtime struct {
	config *config.Config
	logger *logger.Logger

	fs          afero.Fs
	store       *snapshot.Store
	transcripts *snapshot.Transcript
	locks       *sessionlock.Manager
	queue       *workqueue.Queue
	client      completion.Client
	tools       toolexec.Executor
	runner      *agent.Runner
	coord       *coordinator.Coordinator
	pool        *workerpool.Pool
	scheduler   *cron.Scheduler
	monitor     *cleanup.Monitor
	audit       *observability.AuditLogger
	lifecycle   *Lifecycle

	metricsServer   *http.Server
	metricsListener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New assembles a runtime from cfg. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		config: cfg,
		logger: log,
		fs:     opts.Fs,
		ctx:    ctx,
		cancel: cancel,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}

	if err := tracing.InitOpenTelemetry(tracing.ProviderConfig{
		ServiceName:    "weave",
		ServiceVersion: opts.Version,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		r.tracingEnabled = true
	}

	if err := r.initializeCoreModules(opts); err != nil {
		cancel()
		r.closeAudit()
		if r.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			r.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	return r, nil
}

// initializeCoreModules builds components in dependency order
func (r *Runtime) initializeCoreModules(opts Options) error {
	cfg := r.config
	zl := r.logger.GetZerolog()

	var err error
	sessionsDir := cfg.SessionsDir()
	r.store, err = snapshot.NewStore(r.fs, sessionsDir)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	r.transcripts, err = snapshot.NewTranscript(r.fs, sessionsDir)
	if err != nil {
		return fmt.Errorf("transcript store: %w", err)
	}
	r.logger.Info().Str("dir", sessionsDir).Msg("Session storage initialized")

	if cfg.Audit.Enabled {
		path := cfg.Audit.File
		if path == "" {
			path = filepath.Join(cfg.DataDir, "audit.log")
		}
		r.audit, err = observability.OpenAuditLogger(path)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		r.logger.Info().Str("path", path).Msg("Audit logger initialized")
	}

	r.locks = sessionlock.New(sessionlock.Config{
		Lease:  cfg.Scheduler.LockLease(),
		Logger: &zl,
	})
	r.queue = workqueue.New()

	model, maxTokens, err := r.initializeClient(opts)
	if err != nil {
		return err
	}

	if cfg.WorkspacePath != "" {
		if err := r.fs.MkdirAll(cfg.WorkspacePath, 0755); err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}
		r.tools = toolexec.NewLocal(r.fs, cfg.WorkspacePath)
		r.logger.Info().Str("root", cfg.WorkspacePath).Msg("Tool executor initialized")
	}

	r.runner, err = agent.NewRunner(agent.Config{
		Client:       r.client,
		Tools:        r.tools,
		Model:        model,
		SystemPrompt: cfg.AI.SystemPrompt,
		MaxTokens:    maxTokens,
		MaxToolLoops: cfg.AI.MaxToolLoops,
		Logger:       &zl,
	})
	if err != nil {
		return fmt.Errorf("agent runner: %w", err)
	}

	r.coord, err = coordinator.New(coordinator.Config{
		Store:       r.store,
		Transcripts: r.transcripts,
		Locks:       r.locks,
		Queue:       r.queue,
		Runner:      r.runner,
		DefaultFactory: func() (string, session.Kind) {
			return DefaultSessionName, session.KindStandard
		},
		ForegroundLockTimeout: cfg.Scheduler.ForegroundLockTimeout(),
		OutputLimit:           cfg.Scheduler.OutputLimit,
		Audit:                 r.audit,
		Logger:                &zl,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	r.pool = workerpool.New(workerpool.Config{
		Queue:       r.queue,
		Locks:       r.locks,
		Sessions:    r.coord,
		Runner:      r.runner,
		Workers:     cfg.Scheduler.Workers,
		Permits:     cfg.Scheduler.Permits,
		LockTimeout: cfg.Scheduler.BackgroundLockTimeout(),
		Logger:      &zl,
	})
	r.coord.Attach(r.pool)

	r.scheduler = cron.NewScheduler(&zl)
	if cfg.Persistence.SaveSchedule != "" {
		err = r.scheduler.Add(saveJobName, cfg.Persistence.SaveSchedule, func(ctx context.Context) {
			if _, err := r.coord.SaveAll(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic save failed")
			}
		})
		if err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}
	}

	if cfg.Cleanup.Enabled {
		r.monitor, err = cleanup.New(cleanup.Config{
			Evict:       r.evict,
			Locks:       r.locks,
			IdleTimeout: cfg.Cleanup.IdleTimeout(),
			Schedule:    cfg.Cleanup.Schedule,
			Scheduler:   r.scheduler,
			Logger:      &zl,
		})
		if err != nil {
			return fmt.Errorf("cleanup monitor: %w", err)
		}
	}

	r.lifecycle = NewLifecycle(r.fs, cfg.DataDir)
	return nil
}

// initializeClient picks the completion client and returns the model and
// token limit the runner should request.
func (r *Runtime) initializeClient(opts Options) (string, int, error) {
	switch {
	case opts.Client != nil:
		r.client = opts.Client
	case opts.Offline:
		r.client = completion.NewScripted()
	default:
		profile, ok := r.config.PrimaryProfile()
		if !ok {
			r.logger.Warn().Msg("No AI profile configured, running with the offline echo provider")
			r.client = completion.NewScripted()
			break
		}
		client, err := completion.NewFromProfile(completion.Profile{
			Provider:  profile.Provider,
			APIKey:    profile.APIKey,
			Model:     profile.Model,
			BaseURL:   profile.BaseURL,
			MaxTokens: profile.MaxTokens,
		})
		if err != nil {
			return "", 0, fmt.Errorf("completion client: %w", err)
		}
		r.client = client
		r.logger.Info().Str("provider", profile.Provider).Str("profile", profile.ID).Msg("Completion client initialized")
		return profile.Model, profile.MaxTokens, nil
	}
	return "", 0, nil
}

func (r *Runtime) evict(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, int64) {
	res := r.coord.EvictIdle(ctx, now, idleTimeout)
	return len(res.Evicted), res.BytesFreed
}

// Start claims the data directory, restores sessions and starts the workers
// and scheduled jobs.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runtime is already running")
	}
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("runtime has been stopped")
	}
	r.running = true
	r.startTime = time.Now()
	r.mu.Unlock()

	ctx = tracing.NewRequestContext(ctx)
	logger := tracing.LoggerFromContext(ctx, r.logger.GetZerolog())
	logger.Info().Msg("Starting weave runtime")

	if err := r.start(ctx, logger); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}

	logger.Info().
		Int("workers", r.pool.Stats().Workers).
		Int("permits", r.pool.Stats().Permits).
		Str("provider", r.client.Provider()).
		Msg("Runtime started")
	return nil
}

func (r *Runtime) start(ctx context.Context, logger zerolog.Logger) error {
	if err := r.lifecycle.Start(); err != nil {
		return err
	}

	if removed, err := r.store.CleanupTemp(); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up temporary snapshot files")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Removed interrupted snapshot writes")
	}

	if _, err := r.coord.Restore(ctx); err != nil {
		_ = r.lifecycle.Stop()
		return fmt.Errorf("failed to restore sessions: %w", err)
	}
	if r.coord.Stats().Live == 0 {
		if _, err := r.coord.CreateSession(ctx, DefaultSessionName, session.KindStandard); err != nil {
			_ = r.lifecycle.Stop()
			return fmt.Errorf("failed to create default session: %w", err)
		}
	}

	if err := r.startMetrics(logger); err != nil {
		_ = r.lifecycle.Stop()
		return err
	}

	if err := r.pool.Start(r.ctx); err != nil {
		r.stopMetrics(context.Background())
		_ = r.lifecycle.Stop()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if r.monitor != nil {
		if err := r.monitor.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start cleanup monitor")
		}
	}
	r.scheduler.Start()
	return nil
}

func (r *Runtime) startMetrics(logger zerolog.Logger) error {
	if !r.config.Metrics.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", r.config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	r.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.metricsListener = listener

	go func() {
		if err := r.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", listener.Addr().String()).Msg("Metrics server started")
	return nil
}

func (r *Runtime) stopMetrics(ctx context.Context) {
	if r.metricsServer == nil {
		return
	}
	if err := r.metricsServer.Shutdown(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to stop metrics server")
	}
	r.metricsServer = nil
	r.metricsListener = nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled
func (r *Runtime) MetricsAddr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metricsListener == nil {
		return ""
	}
	return r.metricsListener.Addr().String()
}

// Stop halts scheduled jobs, drains the worker pool within ctx, saves every
// live session and releases the data directory.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("runtime is not running")
	}
	r.running = false
	r.stopped = true
	r.mu.Unlock()

	ctx = tracing.NewRequestContext(ctx)
	logger := tracing.LoggerFromContext(ctx, r.logger.GetZerolog())
	logger.Info().Msg("Stopping weave runtime")

	var errs []error

	if r.monitor != nil {
		_ = r.monitor.Stop(ctx)
	}
	if err := r.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if err := r.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	r.cancel()

	saved, err := r.coord.SaveAll(context.WithoutCancel(ctx))
	if err != nil {
		errs = append(errs, fmt.Errorf("save sessions: %w", err))
	}
	logger.Info().Int("saved", saved).Msg("Sessions saved")

	r.stopMetrics(ctx)
	r.closeAudit()

	if err := r.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}

	if r.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}

	logger.Info().Msg("Runtime stopped")
	return errors.Join(errs...)
}

func (r *Runtime) closeAudit() {
	if r.audit == nil {
		return
	}
	if err := r.audit.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close audit log")
	}
}

// Status returns the runtime status
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		Running:  r.running,
		Provider: r.client.Provider(),
		Sessions: r.coord.Stats(),
		Pool:     r.pool.Stats(),
	}
	if r.running {
		status.Uptime = time.Since(r.startTime)
		status.StartTime = r.startTime
	}
	return status
}

// Coordinator returns the session coordinator
func (r *Runtime) Coordinator() *coordinator.Coordinator {
	return r.coord
}

// Pool returns the background worker pool
func (r *Runtime) Pool() *workerpool.Pool {
	return r.pool
}

// Monitor returns the cleanup monitor, nil when cleanup is disabled
func (r *Runtime) Monitor() *cleanup.Monitor {
	return r.monitor
}

// Scheduler returns the shared job scheduler
func (r *Runtime) Scheduler() *cron.Scheduler {
	return r.scheduler
}

// Store returns the snapshot store
func (r *Runtime) Store() *snapshot.Store {
	return r.store
}

// Config returns the runtime configuration
func (r *Runtime) Config() *config.Config {
	return r.config
}
