package ringer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	rtsup "alarmd/internal/runtime/supervisor"
	logx "alarmd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("ringer disabled")
	ErrQueueFull = errors.New("ringer queue full")
	ErrStopped   = errors.New("ringer stopped")
)

const sendTimeout = 10 * time.Second

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink
	bus   eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan alarm.Firing
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// event id -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

// New returns a stopped service. bus may be nil.
func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		sinks: append([]Sink(nil), sinks...),
		bus:   bus,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Worker and queue sizes take effect on next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSinks replaces the delivery targets for subsequent firings.
func (s *Service) SetSinks(sinks []Sink) {
	s.mu.Lock()
	s.sinks = append([]Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	s.cfg = cfg
	// burst = rate so a handful of simultaneous alarms go out together.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan alarm.Firing, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers, nsinks := s.sup, s.queue, s.cfg.Workers, len(s.sinks)
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			// The queue is closed only while stopping.
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("ringer worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("ringer started", logx.Int("workers", workers), logx.Int("sinks", nsinks))
}

// Stop blocks intake and drains the queue until ctx is done, after which the
// workers are cancelled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

// Ring queues f for delivery. A firing whose event id was seen within the
// dedup window is dropped silently.
func (s *Service) Ring(ctx context.Context, f alarm.Firing) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if window > 0 && f.EventID != "" && !s.dedupAllow(f.EventID, window, maxEntries) {
		s.publish(eventbus.RingerDeduped, f, "", nil)
		return nil
	}

	select {
	case q <- f:
		s.publish(eventbus.RingerQueued, f, "", nil)
		return nil
	default:
		s.publish(eventbus.RingerDropped, f, "", ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan alarm.Firing) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			sinks := s.sinks
			s.mu.Unlock()
			for _, sink := range sinks {
				s.sendWithRetry(ctx, sink, f)
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sink Sink, f alarm.Firing) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Ring(cctx, f)
		cancel()
		if err == nil {
			s.publish(eventbus.RingerSent, f, sink.Name(), nil)
			return
		}
		lastErr = err
		s.log.Debug("ring failed",
			logx.String("sink", sink.Name()),
			logx.String("event_id", f.EventID),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err),
		)
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("ring gave up", logx.String("sink", sink.Name()), logx.String("event_id", f.EventID), logx.Err(lastErr))
	s.publish(eventbus.RingerFailed, f, sink.Name(), lastErr)
}

func (s *Service) publish(typ string, f alarm.Firing, sink string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := RingEvent{EventID: f.EventID, AlarmID: f.AlarmID, Sink: sink, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var oldest string
		var oldestAt time.Time
		for k, until := range s.dedup {
			if oldest == "" || until.Before(oldestAt) {
				oldest, oldestAt = k, until
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
