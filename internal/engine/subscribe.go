package engine

import (
	"fmt"

	logx "alarmd/pkg/logx"
)

// Subscribe registers fn for every committed change. Callbacks run
// synchronously on the goroutine that committed the change, after the engine
// lock is released; a slow callback delays that caller only. See Change.Seq
// for ordering.
func (e *Engine) Subscribe(fn func(Change)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	e.subSeq++
	id := e.subSeq
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify(c Change) {
	e.subMu.RLock()
	fns := make([]func(Change), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.RUnlock()
	for _, fn := range fns {
		e.safeCall(fn, c)
	}
}

func (e *Engine) safeCall(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("subscriber panic",
				logx.String("change", string(c.Type)),
				logx.String("alarm_id", c.AlarmID),
				logx.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(c)
}
