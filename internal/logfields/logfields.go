package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyDashboardID = "dashboard_id"
	KeyJobID       = "job_id"
	KeyTrigger     = "trigger"
	KeyState       = "state"
	KeyAttempt     = "attempt"
	KeyFingerprint = "fingerprint"
	KeyPath        = "path"
	KeyWidget      = "widget"
	KeyEntityID    = "entity_id"
	KeyDurationMS  = "duration_ms"
	KeyDelay       = "delay"
	KeyError       = "error"
	KeyMethod      = "method"
	KeyStatus      = "status"
	KeyRemoteAddr  = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func DashboardID(id string) slog.Attr { return slog.String(KeyDashboardID, id) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Trigger(reason string) slog.Attr { return slog.String(KeyTrigger, reason) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Widget(i int) slog.Attr          { return slog.Int(KeyWidget, i) }
func EntityID(id string) slog.Attr    { return slog.String(KeyEntityID, id) }
func Delay(d time.Duration) slog.Attr { return slog.Duration(KeyDelay, d) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }

// Fingerprint logs the first 12 hex characters, enough to correlate artifacts.
func Fingerprint(fp string) slog.Attr {
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return slog.String(KeyFingerprint, fp)
}

func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
