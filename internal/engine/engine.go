// Package engine keeps the armed notification set consistent with the alarm
// store.
//
// Every mutation, fired callback, resync and override change runs inside one
// exclusive section: read, persist, then reconcile the affected triggers
// against the bridge. Subscribers and the ringer are called after the section
// is released.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alarmd/internal/alarm"
	"alarmd/internal/bridge"
	"alarmd/internal/recurrence"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

var ErrNotRunning = errors.New("engine not running")

const defaultCallTimeout = 5 * time.Second

// Config is hot-reloadable engine configuration.
type Config struct {
	// Location is the local time zone for alarm dates and times.
	Location *time.Location
	// Override, when not none, replaces every trigger's rule.
	Override alarm.Rule
	// CallTimeout bounds each bridge and persistence call.
	CallTimeout time.Duration
}

type Options struct {
	Config Config
	Ringer Ringer
	// Now is the engine clock. nil means time.Now.
	Now func() time.Time
}

type armedEvent struct {
	handle  bridge.Handle
	eventID string
	fireAt  time.Time
	period  time.Duration
	sig     string
	req     bridge.Request
}

type Engine struct {
	log    logx.Logger
	store  *store.Store
	br     bridge.Bridge
	ringer Ringer
	now    func() time.Time
	warn   *rate.Limiter

	mu        sync.Mutex
	cfg       Config
	running   bool
	armed     map[Key]*armedEvent
	byEvent   map[string]Key
	exhausted map[Key]string // key -> signature at exhaustion
	failed    map[Key]string // key -> last arm error
	seq       uint64

	subMu  sync.RWMutex
	subs   map[uint64]func(Change)
	subSeq uint64
}

func New(st *store.Store, br bridge.Bridge, opt Options, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:       log,
		store:     st,
		br:        br,
		ringer:    opt.Ringer,
		now:       opt.Now,
		warn:      rate.NewLimiter(rate.Every(10*time.Second), 3),
		cfg:       normalizeConfig(opt.Config),
		armed:     map[Key]*armedEvent{},
		byEvent:   map[string]Key{},
		exhausted: map[Key]string{},
		failed:    map[Key]string{},
		subs:      map[uint64]func(Change){},
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func normalizeConfig(c Config) Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

func (e *Engine) resolveOptions() recurrence.Options {
	return recurrence.Options{Location: e.cfg.Location, Override: e.cfg.Override}
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

// Start loads the store, adopts pending bridge events that still match a
// desired trigger, cancels the rest and arms whatever is missing. Armed state
// from a previous run is discarded; the bridge's pending list is the only
// source of what is still armed.
//
// The returned error may be a *alarm.SchedulingError; the engine is running
// in that case.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	lctx, cancel := e.callCtx(ctx)
	err := e.store.Load(lctx)
	cancel()
	if err != nil {
		e.mu.Unlock()
		return err
	}

	e.resetLocked()
	e.br.OnFired(e.handleFired)
	e.running = true

	var errs []error
	pctx, cancel := e.callCtx(ctx)
	pending, err := e.br.ListPending(pctx)
	cancel()
	if err != nil {
		errs = append(errs, err)
	}
	adopted, orphans := e.adoptLocked(ctx, pending)
	errs = append(errs, orphans...)
	errs = append(errs, e.reconcileLocked(ctx, nil)...)
	armed := len(e.armed)
	e.mu.Unlock()

	e.log.Info("engine started",
		logx.Int("alarms", len(e.store.List())),
		logx.Int("armed", armed),
		logx.Int("adopted", adopted),
		logx.String("override", e.DebugOverride().String()),
	)
	return e.schedulingError("", errs)
}

// Stop detaches the engine from the bridge. Bridge events are left in place
// so a later Start can adopt them.
func (e *Engine) Stop(ctx context.Context) {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.log.Info("engine stopped", logx.Int("armed", len(e.armed)))
}

// Resync reloads the persisted snapshot and reconciles everything when it
// changed (e.g. after an external edit of the store file).
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	lctx, cancel := e.callCtx(ctx)
	changed, err := e.store.Reload(lctx)
	cancel()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !changed {
		e.mu.Unlock()
		return nil
	}
	errs := e.reconcileLocked(ctx, nil)
	seq := e.nextSeqLocked()
	e.mu.Unlock()

	e.log.Info("store resynced", logx.Int("alarms", len(e.store.List())))
	e.notify(Change{Seq: seq, Type: ChangeResynced, At: e.now()})
	return e.schedulingError("", errs)
}

// Apply swaps the engine configuration. A change of location or override
// reconciles every trigger.
func (e *Engine) Apply(ctx context.Context, cfg Config) error {
	cfg = normalizeConfig(cfg)
	e.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	if !e.running || (prev.Location.String() == cfg.Location.String() && prev.Override == cfg.Override) {
		e.mu.Unlock()
		return nil
	}
	errs := e.reconcileLocked(ctx, nil)
	e.mu.Unlock()
	e.log.Info("engine config applied",
		logx.String("tz", cfg.Location.String()),
		logx.String("override", cfg.Override.String()),
	)
	return e.schedulingError("", errs)
}

// SetDebugOverride replaces every trigger's rule with r and reconciles.
func (e *Engine) SetDebugOverride(ctx context.Context, r alarm.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	cfg.Override = r
	return e.Apply(ctx, cfg)
}

func (e *Engine) ClearDebugOverride(ctx context.Context) error {
	return e.SetDebugOverride(ctx, alarm.None)
}

func (e *Engine) DebugOverride() alarm.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Override
}

// Location is the zone alarm dates and times are interpreted in.
func (e *Engine) Location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Location
}

func (e *Engine) resetLocked() {
	e.armed = map[Key]*armedEvent{}
	e.byEvent = map[string]Key{}
	e.exhausted = map[Key]string{}
	e.failed = map[Key]string{}
}

func (e *Engine) nextSeqLocked() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) schedulingError(alarmID string, errs []error) error {
	err := errors.Join(errs...)
	if err == nil {
		return nil
	}
	if e.warn.Allow() {
		e.log.Warn("scheduling failed", logx.String("alarm_id", alarmID), logx.Err(err))
	}
	return &alarm.SchedulingError{AlarmID: alarmID, Err: err}
}
