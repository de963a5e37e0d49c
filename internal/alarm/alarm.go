// Package alarm defines the alarm data model shared by the store, the
// recurrence resolver and the scheduling engine.
package alarm

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind tags the alarm payload variant.
type Kind string

const (
	KindSingle Kind = "single"
	KindEvent  Kind = "event"
)

const MaxNameLen = 200

// Ringtone selectors understood by ringers.
const (
	RingtoneDefault = "Default"
	Ringtone1       = "Ringtone1"
	Ringtone2       = "Ringtone2"
	Ringtone3       = "Ringtone3"
)

var ringtones = []string{RingtoneDefault, Ringtone1, Ringtone2, Ringtone3}

// RingSettings control how an alarm rings.
// Repeat is the rule for Single alarms; Event instances carry their own rule.
type RingSettings struct {
	Repeat   Rule   `json:"repeat"`
	Ringtone string `json:"ringtone"`
	Snooze   bool   `json:"snooze"`
}

// Single is the payload of a one-datetime alarm.
type Single struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Instance is one sub-occurrence of an Event alarm.
type Instance struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description,omitempty"`
	Repeat      Rule   `json:"repeat"`
}

// Alarm is a user-defined entity producing one or more triggers.
type Alarm struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	Settings    RingSettings `json:"settings"`

	// Days holds the weekday selection captured by editors.
	// The resolver does not consume it.
	Days []Weekday `json:"days,omitempty"`

	Kind      Kind       `json:"kind"`
	Single    *Single    `json:"single,omitempty"`
	Instances []Instance `json:"instances,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh opaque identifier.
func NewID() string { return uuid.NewString() }

// NewSingle builds an enabled Single alarm (no id yet; the store assigns it).
func NewSingle(name, date, tod string, settings RingSettings) Alarm {
	return Alarm{
		Name:     name,
		Enabled:  true,
		Settings: settings,
		Kind:     KindSingle,
		Single:   &Single{Date: date, Time: tod},
	}
}

// NewEvent builds an enabled Event alarm with the given instances.
func NewEvent(name string, settings RingSettings, instances ...Instance) Alarm {
	return Alarm{
		Name:      name,
		Enabled:   true,
		Settings:  settings,
		Kind:      KindEvent,
		Instances: append([]Instance(nil), instances...),
	}
}

// Clone returns a deep copy; callers may mutate it freely.
func (a Alarm) Clone() Alarm {
	cp := a
	if a.Single != nil {
		s := *a.Single
		cp.Single = &s
	}
	if a.Instances != nil {
		cp.Instances = append([]Instance(nil), a.Instances...)
	}
	if a.Days != nil {
		cp.Days = append([]Weekday(nil), a.Days...)
	}
	return cp
}

// Instance returns the instance with the given id.
func (a Alarm) Instance(id string) (Instance, int, bool) {
	for i, in := range a.Instances {
		if in.ID == id {
			return in, i, true
		}
	}
	return Instance{}, -1, false
}

// NormalizeRingtone maps case-insensitive input onto a known ringtone.
// Empty means Default.
func NormalizeRingtone(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RingtoneDefault, nil
	}
	for _, r := range ringtones {
		if strings.EqualFold(r, s) {
			return r, nil
		}
	}
	return "", Invalid("ringtone", "unknown ringtone %q", s)
}

// Validate checks structure only. Date/time parsing is the resolver's job and
// is run by the store through a DateTimeCheck.
func (a Alarm) Validate(check DateTimeCheck) error {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return Invalid("name", "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return Invalid("name", "name longer than %d characters", MaxNameLen)
	}
	if err := a.Settings.Repeat.Validate(); err != nil {
		return err
	}
	if _, err := NormalizeRingtone(a.Settings.Ringtone); err != nil {
		return err
	}
	if err := ValidateDays(a.Days); err != nil {
		return err
	}

	switch a.Kind {
	case KindSingle:
		if a.Single == nil {
			return Invalid("single", "single alarm requires a date and time")
		}
		if len(a.Instances) > 0 {
			return Invalid("instances", "single alarm cannot carry instances")
		}
		if check != nil {
			if err := check(a.Single.Date, a.Single.Time); err != nil {
				return err
			}
		}
	case KindEvent:
		if a.Single != nil {
			return Invalid("single", "event alarm cannot carry a single datetime")
		}
		seen := make(map[string]struct{}, len(a.Instances))
		for _, in := range a.Instances {
			if strings.TrimSpace(in.ID) == "" {
				return Invalid("instance.id", "instance id is required")
			}
			if _, dup := seen[in.ID]; dup {
				return Invalid("instance.id", "duplicate instance id %q", in.ID)
			}
			seen[in.ID] = struct{}{}
			if err := in.Repeat.Validate(); err != nil {
				return err
			}
			if check != nil {
				if err := check(in.Date, in.Time); err != nil {
					return err
				}
			}
		}
	default:
		return Invalid("kind", "unknown alarm kind %q", a.Kind)
	}
	return nil
}

// DateTimeCheck validates that a date and time-of-day combine into an instant.
type DateTimeCheck func(date, tod string) error
