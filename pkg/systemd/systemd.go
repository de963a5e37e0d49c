// Package systemd wraps the sd_notify protocol. Every call is a no-op when
// the process is not run by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

func Reloading() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReloading) }

func Status(s string) (bool, error) { return daemon.SdNotify(false, "STATUS="+s) }

func Watchdog() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyWatchdog) }

// WatchdogInterval returns how often Watchdog must be called, or 0 when the
// unit has no WatchdogSec.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
