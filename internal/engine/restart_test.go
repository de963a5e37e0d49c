package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"alarmd/internal/alarm"
)

func TestRestartRearmsEventsFiredWhileStopped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	daily, _ := h.eng.Create(ctx, single("standup", "2024-05-01", "13:00", alarm.Daily))
	once, _ := h.eng.Create(ctx, single("tea", "2024-05-01", "12:30", alarm.None))

	h.eng.Stop(ctx)
	h.clock.Set(t0.Add(time.Hour))
	pending, _ := h.br.ListPending(ctx)
	if len(pending) != 2 {
		t.Fatalf("pending before restart: %+v", pending)
	}
	for _, p := range pending {
		h.br.fire(p.Handle)
	}
	if h.ringer.count() != 0 {
		t.Fatal("stopped engine rang")
	}

	h.clock.Set(t0.Add(90 * time.Minute))
	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reqs := h.br.requests()
	next := t0.Add(25 * time.Hour)
	if len(reqs) != 1 || !reqs[0].FireAt.Equal(next) {
		t.Fatalf("after restart: %+v, want one event at %v", reqs, next)
	}
	st, _ := h.eng.Status(daily.ID)
	if st.State != StateArmed || !st.NextFire.Equal(next) || st.Triggers[0].EventID != reqs[0].EventID {
		t.Fatalf("daily status = %+v", st)
	}
	if st, _ := h.eng.Status(once.ID); st.State != StateExhausted {
		t.Fatalf("one-shot status = %+v, want exhausted", st)
	}

	h.fireNext(t)
	if h.ringer.count() != 1 || h.pendingCount() != 1 {
		t.Fatalf("re-armed event not delivered: rang %d pending %d", h.ringer.count(), h.pendingCount())
	}
}

func TestRestartAdoptsUntouchedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.eng.Create(ctx, single("standup", "2024-05-01", "13:00", alarm.Daily))
	before := h.br.requests()
	schedules := h.br.schedules

	h.eng.Stop(ctx)
	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.br.schedules != schedules || len(h.br.cancels) != 0 {
		t.Fatalf("restart touched the bridge: schedules %d->%d cancels %v", schedules, h.br.schedules, h.br.cancels)
	}
	if st, _ := h.eng.Status(a.ID); st.State != StateArmed || st.Triggers[0].EventID != before[0].EventID {
		t.Fatalf("status = %+v", st)
	}
}

func TestLateFireRearmsAtExactPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.eng.Create(ctx, single("standup", "2024-05-01", "13:00", alarm.Daily))

	p := h.br.requests()[0]
	handle, _, _ := h.br.handleOf(p.EventID)
	h.clock.Set(t0.Add(72 * time.Hour))
	h.br.fire(handle)

	reqs := h.br.requests()
	if want := p.FireAt.Add(24 * time.Hour); len(reqs) != 1 || !reqs[0].FireAt.Equal(want) {
		t.Fatalf("re-armed %+v, want trigger+period %v", reqs, want)
	}
	st, _ := h.eng.Status(a.ID)
	if want := t0.Add(73 * time.Hour); !st.NextFire.Equal(want) {
		t.Fatalf("NextFire = %v, want caught-up %v", st.NextFire, want)
	}
}

func TestFireRacingToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.eng.Create(ctx, single("standup", "2024-05-01", "13:00", alarm.Daily))

	const rounds = 50
	for i := 0; i < rounds; i++ {
		pending, _ := h.br.ListPending(ctx)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, p := range pending {
				h.br.fire(p.Handle)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.eng.Toggle(ctx, a.ID); err != nil {
				t.Errorf("Toggle: %v", err)
			}
		}()
		wg.Wait()
	}

	got, _ := h.eng.GetAlarm(a.ID)
	if !got.Enabled {
		t.Fatal("even number of toggles left the alarm disabled")
	}
	reqs := h.br.requests()
	if len(reqs) != 1 {
		t.Fatalf("pending = %+v, want exactly one", reqs)
	}
	st, _ := h.eng.Status(a.ID)
	if st.State != StateArmed || st.Triggers[0].EventID != reqs[0].EventID {
		t.Fatalf("status %+v disagrees with bridge %+v", st, reqs[0])
	}
	if n := h.ringer.count(); n > rounds {
		t.Fatalf("rang %d times for %d deliveries", n, rounds)
	}
}

func TestChangeSeqFollowsCommitOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.eng.Create(ctx, single("x", "2024-05-01", "13:00", alarm.Daily))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := h.eng.Rename(ctx, a.ID, fmt.Sprintf("n%d-%d", i, j)); err != nil {
					t.Errorf("Rename: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	changes := h.changes.all()
	if len(changes) != 41 {
		t.Fatalf("changes = %d, want 41", len(changes))
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Seq < changes[j].Seq })
	for i := 1; i < len(changes); i++ {
		if changes[i].Seq == changes[i-1].Seq {
			t.Fatalf("duplicate seq %d", changes[i].Seq)
		}
	}
	if changes[0].Type != ChangeCreated {
		t.Fatalf("lowest seq is %s, want created", changes[0].Type)
	}
	got, _ := h.eng.GetAlarm(a.ID)
	if last := changes[len(changes)-1]; last.Alarm == nil || last.Alarm.Name != got.Name {
		t.Fatalf("highest seq carries %+v, store has %q", last.Alarm, got.Name)
	}
}
