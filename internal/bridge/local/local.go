// Package local is an in-process notification bridge.
//
// Every request becomes a one-shot cron entry. The bridge never repeats on its
// own: repeating requests only use their period to catch a past start up to
// the next occurrence, and the engine re-arms after each fire.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alarmd/internal/bridge"
	"alarmd/internal/recurrence"
	logx "alarmd/pkg/logx"
)

var ErrNotStarted = errors.New("local bridge not started")

type Options struct {
	// Location is used for cron's own clock. nil means time.Local.
	Location *time.Location
	// Now is the clock used for catch-up. nil means time.Now.
	Now func() time.Time
}

type entry struct {
	cronID  cron.EntryID
	ver     uint64
	pending bridge.Pending
}

// Bridge implements bridge.Bridge on top of robfig/cron.
type Bridge struct {
	log logx.Logger
	loc *time.Location
	now func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	entries map[bridge.Handle]*entry
	seq     uint64
	onFired bridge.FiredFunc
}

var _ bridge.Bridge = (*Bridge)(nil)

func New(opt Options, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bridge{
		log:     log,
		loc:     opt.Location,
		now:     opt.Now,
		entries: map[bridge.Handle]*entry{},
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Start runs the cron loop. Calling it twice is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return
	}
	cl := logx.Cron(b.log)
	b.c = cron.New(
		cron.WithLocation(b.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	b.runCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.c.Start()
	b.log.Info("local bridge started", logx.String("tz", b.loc.String()))
}

// Stop halts the cron loop and waits for running callbacks (bounded by ctx).
// Pending entries are dropped.
func (b *Bridge) Stop(ctx context.Context) {
	b.mu.Lock()
	c := b.c
	cancel := b.cancel
	b.c = nil
	b.cancel = nil
	b.entries = map[bridge.Handle]*entry{}
	b.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		b.log.Warn("local bridge stop timed out", logx.Err(ctx.Err()))
	}
	if cancel != nil {
		cancel()
	}
	b.log.Info("local bridge stopped")
}

// OnFired installs the fired-event callback. The last call wins.
func (b *Bridge) OnFired(fn bridge.FiredFunc) {
	b.mu.Lock()
	b.onFired = fn
	b.mu.Unlock()
}

func (b *Bridge) Schedule(ctx context.Context, req bridge.Request) (bridge.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.FireAt.IsZero() {
		return "", errors.New("fire time required")
	}
	at := req.FireAt
	if req.Period > 0 {
		at = recurrence.CatchUp(at, req.Period, b.now())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c == nil {
		return "", ErrNotStarted
	}
	b.seq++
	ver := b.seq
	h := bridge.Handle(fmt.Sprintf("local-%d", ver))
	id := b.c.Schedule(&fireOnce{at: at}, cron.FuncJob(func() { b.fire(h, ver) }))
	b.entries[h] = &entry{
		cronID: id,
		ver:    ver,
		pending: bridge.Pending{
			Handle:  h,
			EventID: req.EventID,
			Title:   req.Title,
			FireAt:  at,
		},
	}
	b.log.Debug("scheduled",
		logx.String("handle", string(h)),
		logx.String("event_id", req.EventID),
		logx.Time("fire_at", at),
	)
	return h, nil
}

func (b *Bridge) Cancel(ctx context.Context, h bridge.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[h]
	if !ok {
		return nil
	}
	delete(b.entries, h)
	if b.c != nil {
		b.c.Remove(e.cronID)
	}
	return nil
}

func (b *Bridge) ListPending(ctx context.Context) ([]bridge.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	out := make([]bridge.Pending, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.pending)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out, nil
}

// fire runs on cron's job goroutine.
func (b *Bridge) fire(h bridge.Handle, ver uint64) {
	b.mu.Lock()
	e, ok := b.entries[h]
	if !ok || e.ver != ver {
		// cancelled or replaced
		b.mu.Unlock()
		return
	}
	delete(b.entries, h)
	if b.c != nil {
		b.c.Remove(e.cronID)
	}
	fn := b.onFired
	ctx := b.runCtx
	b.mu.Unlock()

	if fn == nil {
		b.log.Warn("fired without callback", logx.String("event_id", e.pending.EventID))
		return
	}
	fn(ctx, bridge.Fired{Handle: h, EventID: e.pending.EventID, Trigger: e.pending.FireAt})
}

// fireOnce is a cron.Schedule with a single activation. A start already in the
// past activates immediately.
type fireOnce struct {
	mu     sync.Mutex
	at     time.Time
	issued bool
}

func (f *fireOnce) Next(t time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issued && !t.Before(f.at) {
		return time.Time{}
	}
	f.issued = true
	if f.at.After(t) {
		return f.at
	}
	return t
}
