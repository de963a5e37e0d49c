// Package store holds the authoritative in-memory alarm collection.
//
// Every mutation builds a new snapshot, flushes it through the persistence
// adapter and only then becomes visible. Readers get deep copies.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

// Options configure a Store.
type Options struct {
	// Check validates date/time pairs (normally recurrence.Check).
	Check alarm.DateTimeCheck
	// Now is the clock used for timestamps. nil means time.Now.
	Now func() time.Time
	// NewID generates identifiers. nil means alarm.NewID.
	NewID func() string
}

type Store struct {
	log     logx.Logger
	backend storage.Store
	check   alarm.DateTimeCheck
	now     func() time.Time
	newID   func() string

	// mu serializes writers; readers only load snap.
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	order   []string
	byID    map[string]alarm.Alarm
	version uint64
	hash    string
}

func (s *snapshot) list() []alarm.Alarm {
	out := make([]alarm.Alarm, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func newSnapshot(alarms []alarm.Alarm, version uint64) *snapshot {
	sn := &snapshot{byID: make(map[string]alarm.Alarm, len(alarms)), version: version}
	for _, a := range alarms {
		if _, dup := sn.byID[a.ID]; dup {
			continue
		}
		sn.order = append(sn.order, a.ID)
		sn.byID[a.ID] = a.Clone()
	}
	sn.hash = storage.Hash(sn.list())
	return sn
}

func New(backend storage.Store, opt Options, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		log:     log,
		backend: backend,
		check:   opt.Check,
		now:     opt.Now,
		newID:   opt.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = alarm.NewID
	}
	s.snap.Store(newSnapshot(nil, 0))
	return s
}

// Load replaces the in-memory collection with the persisted snapshot.
func (s *Store) Load(ctx context.Context) error {
	_, err := s.Reload(ctx)
	return err
}

// Reload re-reads the persisted snapshot and reports whether it differs from
// the current one. Invalid alarms are skipped with a warning.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	loaded, err := s.backend.LoadAll(ctx)
	if err != nil {
		return false, &alarm.PersistenceError{Op: "load", Err: err}
	}

	kept := loaded[:0]
	for _, a := range loaded {
		if strings.TrimSpace(a.ID) == "" {
			s.log.Warn("skipping persisted alarm without id", logx.String("name", a.Name))
			continue
		}
		if err := a.Validate(s.check); err != nil {
			s.log.Warn("skipping invalid persisted alarm", logx.String("alarm_id", a.ID), logx.Err(err))
			continue
		}
		kept = append(kept, a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := newSnapshot(kept, s.snap.Load().version+1)
	if next.hash == s.snap.Load().hash && s.snap.Load().version > 0 {
		return false, nil
	}
	s.snap.Store(next)
	return true, nil
}

// Version increments on every committed change.
func (s *Store) Version() uint64 { return s.snap.Load().version }

func (s *Store) current() *snapshot { return s.snap.Load() }

// List returns all alarms in creation order.
func (s *Store) List() []alarm.Alarm {
	items := s.current().list()
	out := make([]alarm.Alarm, len(items))
	for i, a := range items {
		out[i] = a.Clone()
	}
	return out
}

func (s *Store) Get(id string) (alarm.Alarm, error) {
	a, ok := s.current().byID[id]
	if !ok {
		return alarm.Alarm{}, &alarm.NotFoundError{AlarmID: id}
	}
	return a.Clone(), nil
}

// Create assigns ids and timestamps, validates and persists a new alarm.
func (s *Store) Create(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	a = a.Clone()
	if strings.TrimSpace(a.ID) == "" {
		a.ID = s.newID()
	}
	for i := range a.Instances {
		if strings.TrimSpace(a.Instances[i].ID) == "" {
			a.Instances[i].ID = s.newID()
		}
	}
	if err := s.normalize(&a); err != nil {
		return alarm.Alarm{}, err
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snap.Load().byID[a.ID]; exists {
		return alarm.Alarm{}, alarm.Invalid("id", "alarm %q already exists", a.ID)
	}
	items := append(s.snap.Load().list(), a)
	if err := s.commitLocked(ctx, "create", items); err != nil {
		return alarm.Alarm{}, err
	}
	return a.Clone(), nil
}

// Update applies fn to a copy of the alarm and persists the result.
// Identity fields are restored if fn changes them.
func (s *Store) Update(ctx context.Context, id string, fn func(*alarm.Alarm) error) (alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.snap.Load().byID[id]
	if !ok {
		return alarm.Alarm{}, &alarm.NotFoundError{AlarmID: id}
	}
	next := prev.Clone()
	if fn != nil {
		if err := fn(&next); err != nil {
			return alarm.Alarm{}, err
		}
	}
	next.ID, next.Kind, next.CreatedAt = prev.ID, prev.Kind, prev.CreatedAt
	if err := s.normalize(&next); err != nil {
		return alarm.Alarm{}, err
	}
	next.UpdatedAt = s.now()
	if err := s.commitLocked(ctx, "update", s.replaced(next)); err != nil {
		return alarm.Alarm{}, err
	}
	return next.Clone(), nil
}

// Delete removes the alarm. Unknown ids are a no-op; the bool reports whether
// anything was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snap.Load().byID[id]; !ok {
		return false, nil
	}
	items := make([]alarm.Alarm, 0, len(s.snap.Load().order))
	for _, a := range s.snap.Load().list() {
		if a.ID != id {
			items = append(items, a)
		}
	}
	if err := s.commitLocked(ctx, "delete", items); err != nil {
		return false, err
	}
	return true, nil
}

// AddInstance appends an instance to an Event alarm.
func (s *Store) AddInstance(ctx context.Context, alarmID string, in alarm.Instance) (alarm.Alarm, alarm.Instance, error) {
	if strings.TrimSpace(in.ID) == "" {
		in.ID = s.newID()
	}
	a, err := s.mutateEvent(ctx, "add_instance", alarmID, func(a *alarm.Alarm) error {
		if _, _, exists := a.Instance(in.ID); exists {
			return alarm.Invalid("instance.id", "instance %q already exists", in.ID)
		}
		a.Instances = append(a.Instances, in)
		return nil
	})
	if err != nil {
		return alarm.Alarm{}, alarm.Instance{}, err
	}
	return a, in, nil
}

// RemoveInstance drops one instance from an Event alarm.
func (s *Store) RemoveInstance(ctx context.Context, alarmID, instanceID string) (alarm.Alarm, error) {
	return s.mutateEvent(ctx, "remove_instance", alarmID, func(a *alarm.Alarm) error {
		_, idx, ok := a.Instance(instanceID)
		if !ok {
			return &alarm.NotFoundError{AlarmID: alarmID, InstanceID: instanceID}
		}
		a.Instances = append(a.Instances[:idx:idx], a.Instances[idx+1:]...)
		return nil
	})
}

// UpdateInstance applies fn to a copy of one instance. The instance id is
// restored if fn changes it.
func (s *Store) UpdateInstance(ctx context.Context, alarmID, instanceID string, fn func(*alarm.Instance) error) (alarm.Alarm, error) {
	return s.mutateEvent(ctx, "update_instance", alarmID, func(a *alarm.Alarm) error {
		in, idx, ok := a.Instance(instanceID)
		if !ok {
			return &alarm.NotFoundError{AlarmID: alarmID, InstanceID: instanceID}
		}
		if fn != nil {
			if err := fn(&in); err != nil {
				return err
			}
		}
		in.ID = instanceID
		a.Instances[idx] = in
		return nil
	})
}

func (s *Store) mutateEvent(ctx context.Context, op, alarmID string, fn func(*alarm.Alarm) error) (alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.snap.Load().byID[alarmID]
	if !ok {
		return alarm.Alarm{}, &alarm.NotFoundError{AlarmID: alarmID}
	}
	if prev.Kind != alarm.KindEvent {
		return alarm.Alarm{}, alarm.Invalid("kind", "alarm %q is not an event alarm", alarmID)
	}
	next := prev.Clone()
	if err := fn(&next); err != nil {
		return alarm.Alarm{}, err
	}
	if err := s.normalize(&next); err != nil {
		return alarm.Alarm{}, err
	}
	next.UpdatedAt = s.now()
	if err := s.commitLocked(ctx, op, s.replaced(next)); err != nil {
		return alarm.Alarm{}, err
	}
	return next.Clone(), nil
}

func (s *Store) normalize(a *alarm.Alarm) error {
	a.Name = strings.TrimSpace(a.Name)
	rt, err := alarm.NormalizeRingtone(a.Settings.Ringtone)
	if err != nil {
		return err
	}
	a.Settings.Ringtone = rt
	return a.Validate(s.check)
}

func (s *Store) replaced(a alarm.Alarm) []alarm.Alarm {
	items := s.snap.Load().list()
	for i := range items {
		if items[i].ID == a.ID {
			items[i] = a
		}
	}
	return items
}

// commitLocked persists items and swaps the snapshot. On failure the current
// snapshot stays authoritative.
func (s *Store) commitLocked(ctx context.Context, op string, items []alarm.Alarm) error {
	if err := s.backend.SaveAll(ctx, items); err != nil {
		s.log.Warn("persist failed", logx.String("op", op), logx.Err(err))
		return &alarm.PersistenceError{Op: op, Err: err}
	}
	s.snap.Store(newSnapshot(items, s.snap.Load().version+1))
	return nil
}

// SortedByName is a display helper for CLIs.
func SortedByName(alarms []alarm.Alarm) []alarm.Alarm {
	out := append([]alarm.Alarm(nil), alarms...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
