package ringer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

// Text renders a firing as a short human message.
func Text(f alarm.Firing) string {
	var b strings.Builder
	b.WriteString("⏰ ")
	b.WriteString(f.Title)
	if f.Body != "" {
		b.WriteString("\n")
		b.WriteString(f.Body)
	}
	fmt.Fprintf(&b, "\n%s", f.Trigger.Format("Mon 2006-01-02 15:04"))
	if f.Repeating() {
		fmt.Fprintf(&b, " (every %s)", f.Period)
	}
	if f.Snooze {
		b.WriteString(" · snooze on")
	}
	return b.String()
}

// LogSink writes each firing to the log at info level.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Ring(_ context.Context, f alarm.Firing) error {
	s.Log.Info("ring",
		logx.String("event_id", f.EventID),
		logx.String("alarm_id", f.AlarmID),
		logx.String("instance_id", f.InstanceID),
		logx.String("title", f.Title),
		logx.String("ringtone", f.Ringtone),
		logx.Time("trigger", f.Trigger),
	)
	return nil
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// sender is the subset of *tele.Bot the sink uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink posts firings to one chat.
type TelegramSink struct {
	bot      sender
	chatID   int64
	threadID int
}

func NewTelegram(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	// Offline skips getMe; the sink only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (*TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Ring(ctx context.Context, f alarm.Firing) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, Text(f), &tele.SendOptions{
			ThreadID:              s.threadID,
			DisableWebPagePreview: true,
		})
		done <- result{err}
	}()
	// telebot has no context support; bound the wait instead.
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
