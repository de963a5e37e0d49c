// Package app wires the alarmd daemon: config, logging, storage, the local
// bridge, the scheduling engine, the ringer and the debug endpoint, under one
// supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/bridge/local"
	"alarmd/internal/config"
	"alarmd/internal/engine"
	"alarmd/internal/eventbus"
	"alarmd/internal/observability/debughttp"
	"alarmd/internal/recurrence"
	"alarmd/internal/ringer"
	rtsup "alarmd/internal/runtime/supervisor"
	"alarmd/internal/storage"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
	"alarmd/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	backend storage.Store
	store   *store.Store
	bridge  *local.Bridge
	engine  *engine.Engine
	ringer  *ringer.Service
	debug   *debughttp.Service

	unsubscribe func()
}

// NewApp loads cfgPath (empty means defaults) and builds every component
// without starting anything.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	sc, err := MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	engCfg, err := MapEngineConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	rcfg, err := mapRingerConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	ringLog := root.With(logx.String("comp", "ringer"))
	sinks, err := buildSinks(cfg, ringLog)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	bus := eventbus.New()
	st := store.New(backend, store.Options{Check: recurrence.Check(engCfg.Location)}, root.With(logx.String("comp", "store")))
	rs := ringer.New(rcfg, sinks, ringLog, bus)
	br := local.New(local.Options{Location: engCfg.Location}, root.With(logx.String("comp", "bridge")))
	eng := engine.New(st, br, engine.Options{Config: engCfg, Ringer: rs}, root.With(logx.String("comp", "engine")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		backend: backend,
		store:   st,
		bridge:  br,
		engine:  eng,
		ringer:  rs,
		debug:   debughttp.New(dcfg, eng, root.With(logx.String("comp", "debug_http"))),
	}, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.ringer.Start(runCtx)
	a.bridge.Start(runCtx)
	if err := a.engine.Start(runCtx); err != nil {
		if !errors.Is(err, alarm.ErrScheduling) {
			return err
		}
		a.log.Warn("engine started with scheduling errors", logx.Err(err))
	}

	a.unsubscribe = a.engine.Subscribe(a.publishChange)
	a.debug.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if cfg := a.cfgm.Get(); cfg.Storage.Watch {
		if path := storage.FilePath(a.backend); path != "" {
			a.sup.GoRestart("store.watch", func(c context.Context) error {
				return config.WatchFile(c, path, a.log.With(logx.String("watch", "store")), func() { a.resync(c) })
			})
		}
	}

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(iv / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = systemd.Watchdog()
				}
			}
		})
	}

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	n := len(a.engine.ListAlarms())
	_, _ = systemd.Status(fmt.Sprintf("%d alarms loaded", n))
	a.log.Info("app started", logx.Int("alarms", n))
	return nil
}

func (a *App) resync(ctx context.Context) {
	err := a.engine.Resync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNotRunning):
	case errors.Is(err, alarm.ErrScheduling):
		a.log.Warn("resync completed with scheduling errors", logx.Err(err))
	default:
		a.log.Warn("resync failed", logx.Err(err))
	}
}

var changeEvents = map[engine.ChangeType]string{
	engine.ChangeCreated:  eventbus.AlarmCreated,
	engine.ChangeUpdated:  eventbus.AlarmUpdated,
	engine.ChangeDeleted:  eventbus.AlarmDeleted,
	engine.ChangeFired:    eventbus.AlarmFired,
	engine.ChangeResynced: eventbus.AlarmResynced,
}

func (a *App) publishChange(c engine.Change) {
	typ, ok := changeEvents[c.Type]
	if !ok {
		typ = "alarm." + string(c.Type)
	}
	a.bus.Publish(eventbus.Event{Type: typ, Time: c.At, Data: c})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["logging"] {
		a.logs.Apply(mapLoggingConfig(next))
	}

	if changed["engine"] {
		if ec, err := MapEngineConfig(next); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else if err := a.engine.Apply(ctx, ec); err != nil {
			a.log.Warn("engine config applied with errors", logx.Err(err))
		}
	}

	if changed["ringer"] || changed["ringer.telegram"] {
		a.applyRinger(ctx, next)
	}

	if changed["debug_http"] {
		if dc, err := mapDebugConfig(next); err != nil {
			a.log.Warn("invalid debug_http config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(ctx, dc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyRinger(ctx context.Context, next *config.Config) {
	rc, err := mapRingerConfig(next)
	if err != nil {
		a.log.Warn("invalid ringer config; keeping previous", logx.Err(err))
		return
	}
	sinks, err := buildSinks(next, a.log.With(logx.String("comp", "ringer")))
	if err != nil {
		a.log.Warn("ringer sinks unavailable; keeping previous", logx.Err(err))
	} else {
		a.ringer.SetSinks(sinks)
	}

	wasEnabled := a.ringer.Enabled()
	a.ringer.Apply(rc)
	switch {
	case wasEnabled && !rc.Enabled:
		a.log.Info("ringer disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.ringer.Stop(stopCtx)
		cancel()
	case !wasEnabled && rc.Enabled:
		a.log.Info("ringer enabled via config")
		a.ringer.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown stage; it never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug_http", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("engine", time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("bridge", 2*time.Second, func(c context.Context) error { a.bridge.Stop(c); return nil })
	step("ringer", 3*time.Second, func(c context.Context) error { a.ringer.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
