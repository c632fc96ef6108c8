package logfields

import (
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"DashboardID", KeyDashboardID, "kitchen", DashboardID("kitchen")},
		{"JobID", KeyJobID, "123", JobID("123")},
		{"Trigger", KeyTrigger, "state_change", Trigger("state_change")},
		{"State", KeyState, "QUEUED", State("QUEUED")},
		{"Path", KeyPath, "/share/x.png", Path("/share/x.png")},
		{"EntityID", KeyEntityID, "sensor.temp", EntityID("sensor.temp")},
		{"Fingerprint", KeyFingerprint, "0123456789ab", Fingerprint("0123456789abcdef0123")},
		{"Method", KeyMethod, "POST", Method("POST")},
		{"RemoteAddr", KeyRemoteAddr, "10.0.0.2:5000", RemoteAddr("10.0.0.2:5000")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if v := Attempt(3); v.Key != KeyAttempt || v.Value.Int64() != 3 {
		t.Fatalf("Attempt mismatch: %v", v)
	}
	if v := Widget(2); v.Key != KeyWidget {
		t.Fatalf("Widget key mismatch: %s", v.Key)
	}
	if v := DurationMS(1500 * time.Microsecond); v.Key != KeyDurationMS || v.Value.Float64() != 1.5 {
		t.Fatalf("DurationMS mismatch: %v", v)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
