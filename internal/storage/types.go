package storage

import (
	"context"
	"errors"
	"time"

	"alarmd/internal/alarm"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence adapter used by the alarm store.
//
// SaveAll replaces the whole collection. Implementations must leave the
// previous snapshot intact when SaveAll fails.
type Store interface {
	LoadAll(ctx context.Context) ([]alarm.Alarm, error)
	SaveAll(ctx context.Context, alarms []alarm.Alarm) error
	Close() error
}
