package alarm

import "time"

// Firing is handed to collaborators (ringers, subscribers) when a trigger fires.
type Firing struct {
	EventID    string        `json:"event_id"`
	AlarmID    string        `json:"alarm_id"`
	InstanceID string        `json:"instance_id,omitempty"`
	Title      string        `json:"title"`
	Body       string        `json:"body,omitempty"`
	Ringtone   string        `json:"ringtone"`
	Snooze     bool          `json:"snooze"`
	Trigger    time.Time     `json:"trigger"`
	Period     time.Duration `json:"period,omitempty"`
}

// Repeating reports whether the fired trigger is re-armed.
func (f Firing) Repeating() bool { return f.Period > 0 }
