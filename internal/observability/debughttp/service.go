// Package debughttp serves an optional local HTTP endpoint for inspecting a
// running daemon: liveness, alarm scheduling state and net/http/pprof.
//
// Endpoints:
//
//	/healthz            "ok"
//	/alarms             JSON list of alarms with their engine status
//	/alarms/{id}        one alarm, its status and the next upcoming fires
//	/debug/pprof/...    net/http/pprof
package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/engine"
	rtsup "alarmd/internal/runtime/supervisor"
	logx "alarmd/pkg/logx"
)

const (
	defaultAddr = "127.0.0.1:6061"
	stopTimeout = 3 * time.Second
)

// Config controls the server.
//
// A non-loopback Addr requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Source is the read side of the scheduling engine.
type Source interface {
	ListAlarms() []alarm.Alarm
	GetAlarm(id string) (alarm.Alarm, error)
	Status(id string) (engine.Status, error)
	Upcoming(id string, n int) ([]engine.Occurrence, error)
	DebugOverride() alarm.Rule
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	src Source

	srv      *http.Server
	addr     string
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, src Source, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log}
}

// Addr is the bound listen address, empty when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the server. ctx
// parents a restarted server; each stop is bounded by stopTimeout.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	stop := func() {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		s.Stop(stopCtx)
		cancel()
	}
	switch {
	case !cfg.Enabled:
		if running {
			stop()
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		stop()
		s.Start(ctx)
	}
}

// Start is idempotent and a no-op when disabled.
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
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
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
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.addr, s.sup, s.stopDone = nil, "", nil, nil
		s.mu.Unlock()
		s.log.Info("debug http stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	if !cur.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("debug http refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return errors.New("debug http: insecure bind")
		}
		s.log.Warn("debug http running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("debug http listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(cur.Token),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv, s.addr = srv, ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug http started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.addr = nil, ""
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug http server exited unexpectedly")
	}
	return err
}

// Handler builds the mux. An empty token disables auth.
func (s *Service) Handler(token string) http.Handler {
	wrap := func(h http.HandlerFunc) http.Handler { return withAuth(token, h) }

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("GET /alarms", wrap(s.handleList))
	mux.Handle("GET /alarms/{id}", wrap(s.handleOne))

	mux.Handle("/debug/pprof/", wrap(hpprof.Index))
	mux.Handle("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.Handle("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.Handle("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.Handle("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

type alarmView struct {
	Alarm  alarm.Alarm   `json:"alarm"`
	Status engine.Status `json:"status"`
}

type listView struct {
	DebugOverride string      `json:"debug_override"`
	Alarms        []alarmView `json:"alarms"`
}

func (s *Service) handleList(w http.ResponseWriter, _ *http.Request) {
	out := listView{DebugOverride: s.src.DebugOverride().String(), Alarms: []alarmView{}}
	for _, a := range s.src.ListAlarms() {
		st, err := s.src.Status(a.ID)
		if err != nil {
			// Deleted between list and status.
			continue
		}
		out.Alarms = append(out.Alarms, alarmView{Alarm: a, Status: st})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n := 5
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 100 {
			http.Error(w, "n must be 0..100", http.StatusBadRequest)
			return
		}
		n = v
	}
	a, err := s.src.GetAlarm(id)
	if errors.Is(err, alarm.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	st, err := s.src.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	up, err := s.src.Upcoming(id, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		alarmView
		Upcoming []engine.Occurrence `json:"upcoming"`
	}{alarmView{Alarm: a, Status: st}, up})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
