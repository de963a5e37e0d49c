package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/bridge"
	"alarmd/internal/recurrence"
	logx "alarmd/pkg/logx"
)

// trigger is one resolved alarm or instance, before bridge interaction.
type trigger struct {
	key   Key
	date  string
	tod   string
	rule  alarm.Rule
	title string
	body  string
	sound string
}

// nextFire is when the bridge will deliver ae. A repeating event re-armed
// from a trigger already in the past is caught up by the bridge.
func (ae *armedEvent) nextFire(now time.Time) time.Time {
	if ae.period > 0 && ae.fireAt.Before(now) {
		return recurrence.CatchUp(ae.fireAt, ae.period, now)
	}
	return ae.fireAt
}

type desired struct {
	key    Key
	sig    string
	fireAt time.Time
	period time.Duration
	req    bridge.Request
}

func triggersOf(a alarm.Alarm) []trigger {
	sound := a.Settings.Ringtone
	switch a.Kind {
	case alarm.KindSingle:
		if a.Single == nil {
			return nil
		}
		return []trigger{{
			key:   Key{AlarmID: a.ID},
			date:  a.Single.Date,
			tod:   a.Single.Time,
			rule:  a.Settings.Repeat,
			title: a.Name,
			body:  a.Description,
			sound: sound,
		}}
	case alarm.KindEvent:
		out := make([]trigger, 0, len(a.Instances))
		for _, in := range a.Instances {
			body := in.Description
			if body == "" {
				body = a.Description
			}
			out = append(out, trigger{
				key:   Key{AlarmID: a.ID, InstanceID: in.ID},
				date:  in.Date,
				tod:   in.Time,
				rule:  in.Repeat,
				title: a.Name,
				body:  body,
				sound: sound,
			})
		}
		return out
	}
	return nil
}

func eventID(k Key, at time.Time) string {
	return fmt.Sprintf("%s@%d", k, at.Unix())
}

func signature(t trigger, eff alarm.Rule) string {
	return strings.Join([]string{t.date, t.tod, eff.String(), t.title, t.body, t.sound}, "\x1f")
}

// resolveTrigger returns the desired armed event for t, or ok=false when
// nothing must be armed.
func (e *Engine) resolveTrigger(t trigger, now time.Time) (desired, bool) {
	res, err := recurrence.Resolve(now, t.date, t.tod, t.rule, e.resolveOptions())
	if err != nil {
		e.log.Warn("unresolvable trigger", logx.String("key", t.key.String()), logx.Err(err))
		return desired{}, false
	}
	sig := signature(t, res.Rule)
	if e.exhausted[t.key] == sig {
		return desired{}, false
	}
	if !res.Fires {
		return desired{}, false
	}
	at := res.First
	if res.Repeating {
		at = recurrence.CatchUp(res.First, res.Period, now)
	}
	return desired{
		key:    t.key,
		sig:    sig,
		fireAt: at,
		period: res.Period,
		req: bridge.Request{
			EventID: eventID(t.key, at),
			Title:   t.title,
			Body:    t.body,
			FireAt:  at,
			Period:  res.Period,
			Sound:   t.sound,
		},
	}, true
}

func (e *Engine) desiredLocked(scope map[string]bool, now time.Time) map[Key]desired {
	want := map[Key]desired{}
	for _, a := range e.store.List() {
		if scope != nil && !scope[a.ID] {
			continue
		}
		if !a.Enabled {
			continue
		}
		for _, t := range triggersOf(a) {
			if d, ok := e.resolveTrigger(t, now); ok {
				want[t.key] = d
			}
		}
	}
	return want
}

// reconcileLocked cancels armed keys in scope that are no longer desired or
// whose inputs changed, and arms desired keys that are not armed. A nil
// scope means every alarm.
func (e *Engine) reconcileLocked(ctx context.Context, scope map[string]bool) []error {
	now := e.now()
	e.pruneExhaustedLocked(scope)
	for k := range e.failed {
		if scope == nil || scope[k.AlarmID] {
			delete(e.failed, k)
		}
	}
	want := e.desiredLocked(scope, now)

	var errs []error
	for k, ae := range e.armed {
		if scope != nil && !scope[k.AlarmID] {
			continue
		}
		if d, ok := want[k]; ok && d.sig == ae.sig {
			continue
		}
		if err := e.cancelLocked(ctx, k, ae); err != nil {
			errs = append(errs, err)
		}
	}
	for k, d := range want {
		if _, ok := e.armed[k]; ok {
			continue
		}
		if err := e.armLocked(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// pruneExhaustedLocked forgets exhaustion markers whose alarm is gone,
// disabled or whose trigger no longer exists; a changed signature is caught
// in resolveTrigger.
func (e *Engine) pruneExhaustedLocked(scope map[string]bool) {
	if len(e.exhausted) == 0 {
		return
	}
	live := map[Key]bool{}
	for _, a := range e.store.List() {
		if !a.Enabled {
			continue
		}
		for _, t := range triggersOf(a) {
			live[t.key] = true
		}
	}
	for k := range e.exhausted {
		if scope != nil && !scope[k.AlarmID] {
			continue
		}
		if !live[k] {
			delete(e.exhausted, k)
		}
	}
}

func (e *Engine) armLocked(ctx context.Context, d desired) error {
	cctx, cancel := e.callCtx(ctx)
	h, err := e.br.Schedule(cctx, d.req)
	cancel()
	if err != nil {
		err = fmt.Errorf("schedule %s: %w", d.req.EventID, err)
		e.failed[d.key] = err.Error()
		return err
	}
	ae := &armedEvent{
		handle:  h,
		eventID: d.req.EventID,
		fireAt:  d.fireAt,
		period:  d.period,
		sig:     d.sig,
		req:     d.req,
	}
	e.setArmedLocked(d.key, ae)
	e.log.Debug("armed",
		logx.String("key", d.key.String()),
		logx.String("event_id", ae.eventID),
		logx.Time("fire_at", ae.fireAt),
		logx.Duration("period", ae.period),
	)
	return nil
}

// cancelLocked drops k from the armed set even if the bridge call fails; a
// late fire of that event is then ignored as stale.
func (e *Engine) cancelLocked(ctx context.Context, k Key, ae *armedEvent) error {
	e.clearArmedLocked(k)
	cctx, cancel := e.callCtx(ctx)
	err := e.br.Cancel(cctx, ae.handle)
	cancel()
	if err != nil {
		return fmt.Errorf("cancel %s: %w", ae.eventID, err)
	}
	e.log.Debug("cancelled", logx.String("key", k.String()), logx.String("event_id", ae.eventID))
	return nil
}

func (e *Engine) setArmedLocked(k Key, ae *armedEvent) {
	if prev, ok := e.armed[k]; ok {
		delete(e.byEvent, prev.eventID)
	}
	e.armed[k] = ae
	e.byEvent[ae.eventID] = k
	delete(e.failed, k)
}

func (e *Engine) clearArmedLocked(k Key) {
	if prev, ok := e.armed[k]; ok {
		delete(e.byEvent, prev.eventID)
		delete(e.armed, k)
	}
}

// adoptLocked keeps pending events whose id and title match a desired trigger
// and cancels every other pending event.
func (e *Engine) adoptLocked(ctx context.Context, pending []bridge.Pending) (int, []error) {
	if len(pending) == 0 {
		return 0, nil
	}
	want := e.desiredLocked(nil, e.now())
	byEvent := make(map[string]desired, len(want))
	for _, d := range want {
		byEvent[d.req.EventID] = d
	}

	adopted := 0
	var errs []error
	for _, p := range pending {
		d, ok := byEvent[p.EventID]
		if ok && d.req.Title == p.Title {
			if _, taken := e.armed[d.key]; !taken {
				e.setArmedLocked(d.key, &armedEvent{
					handle:  p.Handle,
					eventID: d.req.EventID,
					fireAt:  d.fireAt,
					period:  d.period,
					sig:     d.sig,
					req:     d.req,
				})
				adopted++
				continue
			}
		}
		cctx, cancel := e.callCtx(ctx)
		err := e.br.Cancel(cctx, p.Handle)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel orphan %s: %w", p.EventID, err))
			continue
		}
		e.log.Debug("cancelled orphan", logx.String("event_id", p.EventID), logx.String("handle", string(p.Handle)))
	}
	return adopted, errs
}
