package engine

import (
	"context"
	"time"

	"alarmd/internal/alarm"
)

// Ringer receives fired alarms. Errors are logged, never retried here.
type Ringer interface {
	Ring(ctx context.Context, f alarm.Firing) error
}

// ChangeType classifies a committed change delivered to subscribers.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
	ChangeFired    ChangeType = "fired"
	ChangeResynced ChangeType = "resynced"
)

// Change is delivered after each committed mutation and after each fire.
// Alarm is nil for deletes and resyncs.
//
// Seq is assigned inside the engine's exclusive section and increases in
// commit order. Changes from concurrent callers may be delivered out of Seq
// order; a subscriber that keeps per-alarm state drops a change whose Seq is
// lower than the last one it applied.
type Change struct {
	Seq     uint64
	Type    ChangeType
	AlarmID string
	Alarm   *alarm.Alarm
	Firing  *alarm.Firing
	At      time.Time
}

// State is the scheduling state of an alarm or one of its triggers.
type State string

const (
	StateDisabled  State = "disabled"
	StateArmed     State = "armed"
	StateExhausted State = "exhausted"
	// StateUnarmed is an enabled trigger whose last arm attempt failed.
	StateUnarmed State = "unarmed"
)

type TriggerStatus struct {
	InstanceID string        `json:"instance_id,omitempty"`
	State      State         `json:"state"`
	NextFire   time.Time     `json:"next_fire,omitempty"`
	Period     time.Duration `json:"period,omitempty"`
	EventID    string        `json:"event_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Status struct {
	AlarmID  string          `json:"alarm_id"`
	State    State           `json:"state"`
	NextFire time.Time       `json:"next_fire,omitempty"`
	Triggers []TriggerStatus `json:"triggers,omitempty"`
}

// Occurrence is one previewed fire instant.
type Occurrence struct {
	InstanceID string    `json:"instance_id,omitempty"`
	At         time.Time `json:"at"`
}

// Key identifies one trigger: an alarm, or one instance of an event alarm.
type Key struct {
	AlarmID    string
	InstanceID string
}

func (k Key) String() string {
	if k.InstanceID == "" {
		return k.AlarmID
	}
	return k.AlarmID + "/" + k.InstanceID
}
