package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

// fileStore keeps the snapshot in a single JSON file.
// Writes go to <path>.tmp, are fsynced and renamed over <path>.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

// Path is the snapshot file; the app watches it for external edits.
func (s *fileStore) Path() string { return s.path }

func (s *fileStore) LoadAll(ctx context.Context) ([]alarm.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

func (s *fileStore) SaveAll(ctx context.Context, alarms []alarm.Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(alarms)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Best-effort: persist the rename itself.
	if d, err := os.Open(filepath.Dir(s.path)); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Debug("dir sync failed", logx.Err(err))
		}
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FilePath returns the snapshot path of a file-backed store, or "".
func FilePath(st Store) string {
	if fs, ok := st.(*fileStore); ok {
		return fs.Path()
	}
	return ""
}
