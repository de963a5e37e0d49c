package ringer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	tele "gopkg.in/telebot.v4"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSink struct {
	mu    sync.Mutex
	fails int
	got   []string
	calls int
	ch    chan string
}

func newRecordSink(fails int) *recordSink {
	return &recordSink{fails: fails, ch: make(chan string, 16)}
}

func (*recordSink) Name() string { return "record" }

func (r *recordSink) Ring(_ context.Context, f alarm.Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return errors.New("unavailable")
	}
	r.got = append(r.got, f.EventID)
	r.ch <- f.EventID
	return nil
}

func (r *recordSink) snapshot() (calls int, got []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, append([]string(nil), r.got...)
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     4,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func waitDelivered(t *testing.T, r *recordSink) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("firing not delivered")
		return ""
	}
}

func TestRingDelivers(t *testing.T) {
	t.Parallel()

	sink := newRecordSink(0)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(fastConfig(), []Sink{sink}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Ring(context.Background(), alarm.Firing{EventID: "a@1", AlarmID: "a"}); err != nil {
		t.Fatalf("Ring: %v", err)
	}
	if id := waitDelivered(t, sink); id != "a@1" {
		t.Fatalf("delivered %q", id)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.RingerSent {
				if re := e.Data.(RingEvent); re.EventID != "a@1" || re.Sink != "record" {
					t.Fatalf("sent event = %+v", re)
				}
				return
			}
		case <-deadline:
			t.Fatal("no ringer.sent event")
		}
	}
}

func TestRingRetries(t *testing.T) {
	t.Parallel()

	sink := newRecordSink(2)
	s := New(fastConfig(), []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Ring(context.Background(), alarm.Firing{EventID: "a@1"}); err != nil {
		t.Fatal(err)
	}
	waitDelivered(t, sink)
	if calls, _ := sink.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRingDedupsEventID(t *testing.T) {
	t.Parallel()

	sink := newRecordSink(0)
	s := New(fastConfig(), []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())

	ctx := context.Background()
	for _, id := range []string{"a@1", "a@1", "a@2"} {
		if err := s.Ring(ctx, alarm.Firing{EventID: id}); err != nil {
			t.Fatal(err)
		}
	}
	s.Stop(ctx)

	if _, got := sink.snapshot(); len(got) != 2 || got[0] != "a@1" || got[1] != "a@2" {
		t.Fatalf("delivered %v", got)
	}
}

func TestRingStates(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, nil, logx.Nop(), nil)
	if err := disabled.Ring(context.Background(), alarm.Firing{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Ring = %v", err)
	}

	stopped := New(fastConfig(), nil, logx.Nop(), nil)
	if err := stopped.Ring(context.Background(), alarm.Firing{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted Ring = %v", err)
	}
	stopped.Start(context.Background())
	stopped.Stop(context.Background())
	if err := stopped.Ring(context.Background(), alarm.Firing{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped Ring = %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		attempt int
		lo, hi  time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{3, 280 * time.Millisecond, 520 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		d := retryDelay(cfg, tt.attempt)
		if d < tt.lo || d > tt.hi {
			t.Fatalf("retryDelay(%d) = %v, want [%v, %v]", tt.attempt, d, tt.lo, tt.hi)
		}
	}
}

type fakeSender struct {
	to   tele.Recipient
	text string
	opt  *tele.SendOptions
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to = to
	f.text, _ = what.(string)
	if len(opts) > 0 {
		f.opt, _ = opts[0].(*tele.SendOptions)
	}
	return &tele.Message{ID: 1}, nil
}

func TestTelegramSink(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	sink := &TelegramSink{bot: fs, chatID: 42, threadID: 7}
	f := alarm.Firing{
		EventID: "a@1",
		Title:   "Standup",
		Body:    "room 4",
		Trigger: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		Period:  24 * time.Hour,
	}
	if err := sink.Ring(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if fs.to.Recipient() != "42" {
		t.Fatalf("recipient = %q", fs.to.Recipient())
	}
	if fs.opt == nil || fs.opt.ThreadID != 7 || !fs.opt.DisableWebPagePreview {
		t.Fatalf("options = %+v", fs.opt)
	}
	for _, want := range []string{"Standup", "room 4", "2024-05-01 09:30", "every 24h0m0s"} {
		if !strings.Contains(fs.text, want) {
			t.Fatalf("text %q missing %q", fs.text, want)
		}
	}
}

func TestNewTelegramRequiresTarget(t *testing.T) {
	t.Parallel()

	for _, cfg := range []TelegramConfig{{}, {Token: "x"}} {
		if _, err := NewTelegram(cfg); err == nil {
			t.Fatalf("NewTelegram(%+v) succeeded", cfg)
		}
	}
}
