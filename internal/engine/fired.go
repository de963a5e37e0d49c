package engine

import (
	"context"

	"alarmd/internal/alarm"
	"alarmd/internal/bridge"
	logx "alarmd/pkg/logx"
)

// handleFired is the single bridge subscription. Deliveries that do not match
// an armed (event id, handle) pair are duplicates or stale and are ignored.
func (e *Engine) handleFired(ctx context.Context, ev bridge.Fired) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.log.Debug("fired while stopped", logx.String("event_id", ev.EventID))
		return
	}
	key, ok := e.byEvent[ev.EventID]
	ae := e.armed[key]
	if !ok || ae == nil || ae.handle != ev.Handle {
		e.mu.Unlock()
		e.log.Debug("ignoring stale fired event",
			logx.String("event_id", ev.EventID),
			logx.String("handle", string(ev.Handle)),
		)
		return
	}

	a, err := e.store.Get(key.AlarmID)
	if err != nil {
		// Store and armed set disagree; drop the event.
		e.clearArmedLocked(key)
		e.mu.Unlock()
		e.log.Warn("fired event for unknown alarm", logx.String("key", key.String()), logx.Err(err))
		return
	}

	firing := alarm.Firing{
		EventID:    ae.eventID,
		AlarmID:    key.AlarmID,
		InstanceID: key.InstanceID,
		Title:      ae.req.Title,
		Body:       ae.req.Body,
		Ringtone:   ae.req.Sound,
		Snooze:     a.Settings.Snooze,
		Trigger:    ae.fireAt,
		Period:     ae.period,
	}

	var errs []error
	if ae.period > 0 {
		// Re-arm at exactly trigger+period so repeats do not drift. A late
		// delivery can leave that in the past; the bridge catches it up.
		cctx, cancel := e.callCtx(ctx)
		if err := e.br.Cancel(cctx, ae.handle); err != nil {
			e.log.Debug("cancel fired handle failed", logx.String("event_id", ae.eventID), logx.Err(err))
		}
		cancel()
		e.clearArmedLocked(key)

		next := ae.fireAt.Add(ae.period)
		req := ae.req
		req.FireAt = next
		req.EventID = eventID(key, next)
		if err := e.armLocked(ctx, desired{key: key, sig: ae.sig, fireAt: next, period: ae.period, req: req}); err != nil {
			errs = append(errs, err)
		}
	} else {
		e.clearArmedLocked(key)
		e.exhausted[key] = ae.sig
	}
	seq := e.nextSeqLocked()
	e.mu.Unlock()

	e.log.Info("alarm fired",
		logx.String("alarm_id", firing.AlarmID),
		logx.String("instance_id", firing.InstanceID),
		logx.String("event_id", firing.EventID),
		logx.Bool("repeating", firing.Repeating()),
	)
	if err := e.schedulingError(key.AlarmID, errs); err != nil {
		e.log.Debug("re-arm failed", logx.String("key", key.String()), logx.Err(err))
	}
	if e.ringer != nil {
		if err := e.ringer.Ring(ctx, firing); err != nil {
			e.log.Warn("ringer rejected firing", logx.String("event_id", firing.EventID), logx.Err(err))
		}
	}
	e.notify(Change{Seq: seq, Type: ChangeFired, AlarmID: key.AlarmID, Alarm: &a, Firing: &firing, At: e.now()})
}
