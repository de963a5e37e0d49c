package ringer

import (
	"context"
	"time"

	"alarmd/internal/alarm"
)

// Config controls the delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Sink delivers one firing to one destination.
type Sink interface {
	Name() string
	Ring(ctx context.Context, f alarm.Firing) error
}

// RingEvent is published on the event bus for pipeline lifecycle events.
type RingEvent struct {
	EventID string    `json:"event_id"`
	AlarmID string    `json:"alarm_id"`
	Sink    string    `json:"sink,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
