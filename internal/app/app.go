package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pawrelay/internal/cachewatch"
	"pawrelay/internal/config"
	"pawrelay/internal/dispatch"
	"pawrelay/internal/eventbus"
	"pawrelay/internal/history"
	"pawrelay/internal/ingest"
	"pawrelay/internal/relay"
	rtsup "pawrelay/internal/runtime/supervisor"
	"pawrelay/internal/status"
	"pawrelay/internal/storage"
	logx "pawrelay/pkg/logx"
)

// App owns the pipeline: watcher -> path queue -> ingest worker -> dispatch
// queue -> relay client -> history.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	journal   journalSettings
	stopPrune func()
	unsubBus  func()

	relay   *relay.Client
	hist    *history.Buffer
	queue   *dispatch.Queue
	paths   *cachewatch.Queue
	watcher *cachewatch.Watcher
	worker  *ingest.Worker
	status  *status.Service
}

// New loads the config at cfgPath (empty means defaults) and builds every
// component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}

	if js, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(js.store, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.journal = js
		a.log.Info("relay journal enabled", logx.String("driver", js.store.Driver), logx.String("path", js.store.Path))
	}

	rcfg, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.relay, err = relay.New(rcfg, log.With(logx.String("comp", "relay")))
	if err != nil {
		return nil, a.abort(err)
	}

	a.hist = history.New(cfg.History.Capacity)
	a.queue = dispatch.New(dispatch.Config{MaxConcurrent: cfg.Dispatch.MaxConcurrent},
		a.relay, a.hist, log.With(logx.String("comp", "dispatch")), a.bus)

	wlog := log.With(logx.String("comp", "watcher"))
	wcfg, err := mapWatchConfig(cfg, wlog)
	if err != nil {
		return nil, a.abort(err)
	}
	a.paths = cachewatch.NewQueue(cfg.Watch.QueueLimit)
	a.watcher = cachewatch.New(wcfg, a.paths, wlog)

	a.worker = ingest.New(a.paths, a.queue, log.With(logx.String("comp", "ingest")))
	a.worker.MaxFileSize = cfg.Watch.MaxFileSize

	a.status = status.New(mapStatusConfig(cfg), status.Deps{
		History: a.hist,
		Queue:   a.queue,
		Health:  a.health,
		Started: time.Now(),
	}, log.With(logx.String("comp", "status")))

	return a, nil
}

// abort releases what New opened before it failed.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return err
}

func (a *App) History() *history.Buffer { return a.hist }

func (a *App) Queue() *dispatch.Queue { return a.queue }

func (a *App) Status() *status.Service { return a.status }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() any {
	out := map[string]any{
		"root":       a.watcher.Root(),
		"watching":   a.watcher.Watching(),
		"path_queue": a.paths.Len(),
	}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if sup := a.status.Supervisor(); sup != nil {
		out["status"] = sup.Counters()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapRelayConfig(cfg); err != nil {
			return err
		}
		if _, err := mapWatchConfig(cfg, logx.Nop()); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	a.queue.Start(runCtx)

	events, unsub := a.bus.Subscribe(256)
	a.unsubBus = unsub
	jlog := a.log.With(logx.String("comp", "journal"))
	a.sup.Go0("journal", func(c context.Context) {
		runJournal(c, events, a.store, jlog)
	})
	stopPrune, err := startPruner(runCtx, a.store, a.journal, jlog)
	if err != nil {
		unsub()
		a.sup.Cancel()
		return fmt.Errorf("storage.prune_schedule: %w", err)
	}
	a.stopPrune = stopPrune

	a.sup.GoRestart("cachewatch", a.watcher.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go("ingest", a.worker.Run)

	a.status.Start(runCtx)

	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("root", a.watcher.Root()),
		logx.String("relay", a.relay.URL("")),
		logx.Int("max_concurrent", a.queue.Stats().MaxConcurrent),
		logx.Int("history_capacity", a.hist.Capacity()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		a.step(ctx, name, max, fn)
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	// In-flight relays finish; nothing new is pulled.
	step("dispatch", 5*time.Second, a.queue.Stop)
	step("watcher", time.Second, func(context.Context) error { a.watcher.Close(); return nil })
	// Closing the subscription lets the journal drain what dispatch published.
	step("journal", time.Second, func(context.Context) error { a.unsubBus(); return nil })
	step("pruner", 2*time.Second, func(context.Context) error {
		if a.stopPrune != nil {
			a.stopPrune()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	st := a.queue.Stats()
	a.log.Info("stopped",
		logx.Uint64("succeeded", st.Succeeded),
		logx.Uint64("failed", st.Failed),
		logx.Int("dropped_pending", st.Pending),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return a.sup.Err()
}

// step runs one shutdown step with an upper bound so one component can't stall
// the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
