package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/recurrence"
)

// Mutations return the committed alarm even when err is a
// *alarm.SchedulingError. Validation, not-found and persistence errors abort
// with no side effects.

func (e *Engine) Create(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	return e.mutate(ctx, ChangeCreated, "", func(ctx context.Context) (alarm.Alarm, error) {
		return e.store.Create(ctx, a)
	})
}

// Update applies fn to a copy of the alarm.
func (e *Engine) Update(ctx context.Context, id string, fn func(*alarm.Alarm) error) (alarm.Alarm, error) {
	return e.mutate(ctx, ChangeUpdated, id, func(ctx context.Context) (alarm.Alarm, error) {
		return e.store.Update(ctx, id, fn)
	})
}

func (e *Engine) Rename(ctx context.Context, id, name string) (alarm.Alarm, error) {
	return e.Update(ctx, id, func(a *alarm.Alarm) error {
		a.Name = name
		return nil
	})
}

// Reschedule moves a single alarm to a new date and time-of-day. Event alarms
// are rescheduled per instance with UpdateInstance.
func (e *Engine) Reschedule(ctx context.Context, id, date, tod string) (alarm.Alarm, error) {
	return e.Update(ctx, id, func(a *alarm.Alarm) error {
		if a.Kind != alarm.KindSingle || a.Single == nil {
			return alarm.Invalid("kind", "alarm %q is not a single alarm; reschedule its instances", id)
		}
		a.Single.Date = strings.TrimSpace(date)
		a.Single.Time = strings.TrimSpace(tod)
		return nil
	})
}

func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) (alarm.Alarm, error) {
	return e.Update(ctx, id, func(a *alarm.Alarm) error {
		a.Enabled = enabled
		return nil
	})
}

func (e *Engine) Toggle(ctx context.Context, id string) (alarm.Alarm, error) {
	return e.Update(ctx, id, func(a *alarm.Alarm) error {
		a.Enabled = !a.Enabled
		return nil
	})
}

func (e *Engine) UpdateSettings(ctx context.Context, id string, s alarm.RingSettings) (alarm.Alarm, error) {
	return e.Update(ctx, id, func(a *alarm.Alarm) error {
		a.Settings = s
		return nil
	})
}

// Delete removes the alarm and cancels its events. Unknown ids are a no-op.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	pctx, cancel := e.callCtx(ctx)
	removed, err := e.store.Delete(pctx, id)
	cancel()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	errs := e.reconcileLocked(ctx, map[string]bool{id: true})
	seq := e.nextSeqLocked()
	e.mu.Unlock()

	if removed {
		e.notify(Change{Seq: seq, Type: ChangeDeleted, AlarmID: id, At: e.now()})
	}
	return e.schedulingError(id, errs)
}

func (e *Engine) AddInstance(ctx context.Context, alarmID string, in alarm.Instance) (alarm.Alarm, alarm.Instance, error) {
	var added alarm.Instance
	a, err := e.mutate(ctx, ChangeUpdated, alarmID, func(ctx context.Context) (alarm.Alarm, error) {
		a, inst, err := e.store.AddInstance(ctx, alarmID, in)
		added = inst
		return a, err
	})
	return a, added, err
}

func (e *Engine) UpdateInstance(ctx context.Context, alarmID, instanceID string, fn func(*alarm.Instance) error) (alarm.Alarm, error) {
	return e.mutate(ctx, ChangeUpdated, alarmID, func(ctx context.Context) (alarm.Alarm, error) {
		return e.store.UpdateInstance(ctx, alarmID, instanceID, fn)
	})
}

func (e *Engine) RemoveInstance(ctx context.Context, alarmID, instanceID string) (alarm.Alarm, error) {
	return e.mutate(ctx, ChangeUpdated, alarmID, func(ctx context.Context) (alarm.Alarm, error) {
		return e.store.RemoveInstance(ctx, alarmID, instanceID)
	})
}

// mutate runs one read-modify-persist-reconcile unit.
func (e *Engine) mutate(ctx context.Context, typ ChangeType, id string, op func(context.Context) (alarm.Alarm, error)) (alarm.Alarm, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return alarm.Alarm{}, ErrNotRunning
	}
	pctx, cancel := e.callCtx(ctx)
	a, err := op(pctx)
	cancel()
	if err != nil {
		e.mu.Unlock()
		return alarm.Alarm{}, err
	}
	if id == "" {
		id = a.ID
	}
	errs := e.reconcileLocked(ctx, map[string]bool{id: true})
	seq := e.nextSeqLocked()
	e.mu.Unlock()

	cp := a.Clone()
	e.notify(Change{Seq: seq, Type: typ, AlarmID: a.ID, Alarm: &cp, At: e.now()})
	return a, e.schedulingError(a.ID, errs)
}

// ListAlarms reads the store snapshot without taking the engine lock.
func (e *Engine) ListAlarms() []alarm.Alarm { return e.store.List() }

func (e *Engine) GetAlarm(id string) (alarm.Alarm, error) { return e.store.Get(id) }

// Status reports the scheduling state of an alarm and its triggers. An
// enabled trigger is armed, unarmed after a failed arm attempt, or exhausted.
func (e *Engine) Status(id string) (Status, error) {
	a, err := e.store.Get(id)
	if err != nil {
		return Status{}, err
	}
	st := Status{AlarmID: id, State: StateExhausted}
	if !a.Enabled {
		st.State = StateDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for _, t := range triggersOf(a) {
		ts := TriggerStatus{InstanceID: t.key.InstanceID, State: StateExhausted}
		if !a.Enabled {
			ts.State = StateDisabled
		} else if ae, ok := e.armed[t.key]; ok {
			ts.State = StateArmed
			ts.NextFire = ae.nextFire(now)
			ts.Period = ae.period
			ts.EventID = ae.eventID
			st.State = StateArmed
			if st.NextFire.IsZero() || ts.NextFire.Before(st.NextFire) {
				st.NextFire = ts.NextFire
			}
		} else if msg, ok := e.failed[t.key]; ok {
			ts.State = StateUnarmed
			ts.Error = msg
			if st.State == StateExhausted {
				st.State = StateUnarmed
			}
		}
		st.Triggers = append(st.Triggers, ts)
	}
	return st, nil
}

// Upcoming previews the next n fire instants of an enabled alarm across all
// of its triggers, honoring the debug override.
func (e *Engine) Upcoming(id string, n int) ([]Occurrence, error) {
	a, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !a.Enabled || n <= 0 {
		return nil, nil
	}
	e.mu.Lock()
	opt := e.resolveOptions()
	e.mu.Unlock()
	return Preview(a, e.now(), n, opt)
}

// Preview lists the next n fire instants of a after now without consulting
// any armed state.
func Preview(a alarm.Alarm, now time.Time, n int, opt recurrence.Options) ([]Occurrence, error) {
	var out []Occurrence
	for _, t := range triggersOf(a) {
		res, err := recurrence.Resolve(now, t.date, t.tod, t.rule, opt)
		if err != nil {
			return nil, err
		}
		times, err := recurrence.Upcoming(res, now, n)
		if err != nil {
			return nil, err
		}
		for _, at := range times {
			out = append(out, Occurrence{InstanceID: t.key.InstanceID, At: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
