package cli

import (
	"context"
	"errors"
	"log/slog"

	gcmd "github.com/goliatone/go-command"

	enginechromium "github.com/goliatone/go-sceneexport/adapters/engine/chromium"
	enginemem "github.com/goliatone/go-sceneexport/adapters/engine/memory"
	storefs "github.com/goliatone/go-sceneexport/adapters/store/fs"
	trackerbun "github.com/goliatone/go-sceneexport/adapters/tracker/bun"
	"github.com/goliatone/go-sceneexport/command"
	"github.com/goliatone/go-sceneexport/config"
	"github.com/goliatone/go-sceneexport/logging"
	"github.com/goliatone/go-sceneexport/scene"
)

// runtime holds the collaborators one CLI invocation needs. Without a history
// database, pipeline runtimes track runs in memory.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storefs.Store
	tracker  scene.RunTracker
	pipeline *scene.Pipeline

	closers []func() error
}

// newRuntime wires configuration into a pipeline. The engine itself is not
// started until the first run acquires a session.
func (o *Options) newRuntime(ctx context.Context, needPipeline bool) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := LoggerFromContext(ctx)
	if o.LogLevel == "" {
		logger = logging.NewLogger(o.LogWriter, logging.ParseLevel(cfg.LogLevel))
	}
	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.HistoryDB != "" {
		db, err := trackerbun.OpenSQLite(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		tracker := trackerbun.NewTracker(db)
		if err := tracker.EnsureSchema(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.tracker = tracker
	}

	rt.store = storefs.NewStore(cfg.OutputDir)
	rt.store.Exclusive = cfg.ExclusiveWrites
	rt.store.Metadata = cfg.WriteMetadata

	if !needPipeline {
		if err := rt.subscribe(nil); err != nil {
			_ = rt.Close()
			return nil, err
		}
		return rt, nil
	}
	if err := cfg.SessionConfig().Validate(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if rt.tracker == nil {
		// runs are still recorded for this invocation's summaries
		rt.tracker = scene.NewMemoryTracker()
	}

	var factory scene.EngineFactory
	switch cfg.Engine {
	case config.EngineChromium:
		browser := &enginechromium.Browser{
			BrowserPath: cfg.ChromiumPath,
			Headless:    !cfg.ChromiumHeaded,
			Timeout:     cfg.RenderTimeout,
			Args:        cfg.ChromiumArgs,
		}
		rt.closers = append(rt.closers, browser.Close)
		factory = enginechromium.NewFactory(browser, enginechromium.Options{Logger: logger})
	default:
		factory = enginemem.NewFactory(enginemem.Options{Logger: logger})
	}

	pipeline := scene.NewPipeline(scene.NewSessionManager(factory), cfg.SessionConfig(), rt.store)
	pipeline.Logger = logger
	pipeline.OutputDir = "."
	pipeline.Tracker = rt.tracker
	rt.pipeline = pipeline
	if err := rt.subscribe(rt); err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Debug("runtime ready", "engine", cfg.Engine, "output", cfg.OutputDir, "history", cfg.HistoryDB != "")
	return rt, nil
}

// Run executes job and logs each written artifact.
func (r *runtime) Run(ctx context.Context, job scene.Job) (scene.RunResult, error) {
	result, err := r.pipeline.Run(ctx, job)
	if err != nil {
		r.logger.Error("job failed", append([]any{"job", job.Name, "run", result.ID}, ErrorAttrs(err)...)...)
		return result, err
	}
	for _, artifact := range result.Artifacts {
		if artifact.MimeType != artifact.Requested {
			r.logger.Warn("exported with fallback format", "requested", artifact.Requested, "mime", artifact.MimeType)
		}
	}
	return result, nil
}

// subscribe registers message handlers for this invocation and schedules
// their removal on Close.
func (r *runtime) subscribe(runner command.JobRunner) error {
	if runner == nil && r.tracker == nil {
		return nil
	}
	subs, err := registerHandlers(gcmd.NewRegistry(), runner, r.tracker)
	r.closers = append(r.closers, func() error {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		return nil
	})
	return err
}

// Close releases resources in reverse acquisition order.
func (r *runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
