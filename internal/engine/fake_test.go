package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/bridge"
	"alarmd/internal/recurrence"
	"alarmd/internal/storage"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// fakeBridge records requests and fires only when told to.
type fakeBridge struct {
	mu          sync.Mutex
	seq         int
	pending     map[bridge.Handle]bridge.Request
	lastFired   map[bridge.Handle]bridge.Request
	schedules   int
	cancels     []bridge.Handle
	scheduleErr error
	cancelErr   error
	fn          bridge.FiredFunc
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		pending:   map[bridge.Handle]bridge.Request{},
		lastFired: map[bridge.Handle]bridge.Request{},
	}
}

func (b *fakeBridge) Schedule(_ context.Context, req bridge.Request) (bridge.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scheduleErr != nil {
		return "", b.scheduleErr
	}
	b.seq++
	b.schedules++
	h := bridge.Handle(fmt.Sprintf("h%d", b.seq))
	b.pending[h] = req
	return h, nil
}

func (b *fakeBridge) Cancel(_ context.Context, h bridge.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, h)
	if b.cancelErr != nil {
		return b.cancelErr
	}
	delete(b.pending, h)
	return nil
}

func (b *fakeBridge) ListPending(context.Context) ([]bridge.Pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bridge.Pending, 0, len(b.pending))
	for h, r := range b.pending {
		out = append(out, bridge.Pending{Handle: h, EventID: r.EventID, Title: r.Title, FireAt: r.FireAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (b *fakeBridge) OnFired(fn bridge.FiredFunc) {
	b.mu.Lock()
	b.fn = fn
	b.mu.Unlock()
}

// inject adds a pending event as if left over from a previous run.
func (b *fakeBridge) inject(req bridge.Request) bridge.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	h := bridge.Handle(fmt.Sprintf("old%d", b.seq))
	b.pending[h] = req
	return h
}

func (b *fakeBridge) requests() []bridge.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bridge.Request, 0, len(b.pending))
	for _, r := range b.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

func (b *fakeBridge) handleOf(eventPrefix string) (bridge.Handle, bridge.Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h, r := range b.pending {
		if len(r.EventID) >= len(eventPrefix) && r.EventID[:len(eventPrefix)] == eventPrefix {
			return h, r, true
		}
	}
	return "", bridge.Request{}, false
}

// fire delivers h as the platform would; a delivered event is no longer pending.
func (b *fakeBridge) fire(h bridge.Handle) {
	b.mu.Lock()
	req, ok := b.pending[h]
	if ok {
		delete(b.pending, h)
		b.lastFired[h] = req
	} else {
		// redelivery
		req = b.lastFired[h]
	}
	fn := b.fn
	b.mu.Unlock()
	fn(context.Background(), bridge.Fired{Handle: h, EventID: req.EventID, Trigger: req.FireAt})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recordingRinger struct {
	mu     sync.Mutex
	fired  []alarm.Firing
	reject error
}

func (r *recordingRinger) Ring(_ context.Context, f alarm.Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, f)
	return r.reject
}

func (r *recordingRinger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

type failingBackend struct {
	*storage.Memory
	mu   sync.Mutex
	fail bool
}

func (f *failingBackend) SaveAll(ctx context.Context, alarms []alarm.Alarm) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Memory.SaveAll(ctx, alarms)
}

func (f *failingBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// The reference clock: 2024-05-01 12:00 UTC.
var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	eng     *Engine
	br      *fakeBridge
	clock   *fakeClock
	ringer  *recordingRinger
	backend *failingBackend
	store   *store.Store
	changes *changeLog
}

// changeLog collects subscriber deliveries; subscribers may run on any
// committing goroutine.
type changeLog struct {
	mu   sync.Mutex
	list []Change
}

func (l *changeLog) add(c Change) {
	l.mu.Lock()
	l.list = append(l.list, c)
	l.mu.Unlock()
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.list...)
}

func newHarness(t *testing.T, seed ...alarm.Alarm) *harness {
	t.Helper()
	h := newStoppedHarness(t, seed...)
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func newStoppedHarness(t *testing.T, seed ...alarm.Alarm) *harness {
	t.Helper()
	backend := &failingBackend{Memory: storage.NewMemory()}
	if len(seed) > 0 {
		if err := backend.Memory.SaveAll(context.Background(), seed); err != nil {
			t.Fatal(err)
		}
	}
	clock := &fakeClock{t: t0}
	n := 0
	st := store.New(backend, store.Options{
		Check: recurrence.Check(time.UTC),
		Now:   clock.Now,
		NewID: func() string { n++; return fmt.Sprintf("id%d", n) },
	}, logx.Nop())
	br := newFakeBridge()
	ringer := &recordingRinger{}
	eng := New(st, br, Options{
		Config: Config{Location: time.UTC},
		Ringer: ringer,
		Now:    clock.Now,
	}, logx.Nop())
	changes := &changeLog{}
	eng.Subscribe(changes.add)
	return &harness{eng: eng, br: br, clock: clock, ringer: ringer, backend: backend, store: st, changes: changes}
}

func (h *harness) pendingCount() int { return len(h.br.requests()) }

// fireNext advances the clock to the earliest pending event and fires it.
func (h *harness) fireNext(t *testing.T) bridge.Request {
	t.Helper()
	pending, _ := h.br.ListPending(context.Background())
	if len(pending) == 0 {
		t.Fatal("nothing pending")
	}
	p := pending[0]
	h.clock.Set(p.FireAt)
	h.br.fire(p.Handle)
	return bridge.Request{EventID: p.EventID, Title: p.Title, FireAt: p.FireAt}
}

func single(name, date, tod string, rule alarm.Rule) alarm.Alarm {
	return alarm.NewSingle(name, date, tod, alarm.RingSettings{Repeat: rule})
}
