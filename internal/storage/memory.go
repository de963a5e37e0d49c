package storage

import (
	"context"
	"sync"

	"alarmd/internal/alarm"
)

// Memory is a process-local Store. It keeps the encoded snapshot so callers
// never share slices with it.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	saves  int
	closed bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadAll(ctx context.Context) ([]alarm.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return Decode(m.data)
}

func (m *Memory) SaveAll(ctx context.Context, alarms []alarm.Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(alarms)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = b
	m.saves++
	return nil
}

// Saves counts successful SaveAll calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
