// Package bridge defines the boundary to the platform facility that fires
// scheduled notifications.
package bridge

import (
	"context"
	"time"
)

// Handle identifies one scheduled external event. It is opaque to callers.
type Handle string

// Request asks the platform to fire once at FireAt, or repeatedly with Period
// when Period > 0.
type Request struct {
	EventID string
	Title   string
	Body    string
	FireAt  time.Time
	Period  time.Duration
	Sound   string
}

// Pending is an event the platform still holds.
type Pending struct {
	Handle  Handle
	EventID string
	Title   string
	FireAt  time.Time
}

// Fired is delivered when an event triggers.
type Fired struct {
	Handle  Handle
	EventID string
	Trigger time.Time
}

// FiredFunc receives fired events. It must not be called while the bridge
// holds internal locks.
type FiredFunc func(ctx context.Context, ev Fired)

// Bridge schedules and cancels platform notifications.
//
// Cancel on an unknown handle is not an error.
type Bridge interface {
	Schedule(ctx context.Context, req Request) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
	ListPending(ctx context.Context) ([]Pending, error)
	OnFired(fn FiredFunc)
}
