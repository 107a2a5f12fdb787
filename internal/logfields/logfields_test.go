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
		{"RequestID", KeyRequestID, "r1", RequestID("r1")},
		{"NoteID", KeyNoteID, "n1", NoteID("n1")},
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"Project", KeyProject, "foo", Project("foo")},
		{"Version", KeyVersion, "5", Version("5")},
		{"TestPath", KeyTestPath, "bar/baz", TestPath("bar/baz")},
		{"Builder", KeyBuilder, "hubA", Builder("hubA")},
		{"Peer", KeyPeer, "10.0.0.1:9222", Peer("10.0.0.1:9222")},
		{"Endpoint", KeyEndpoint, "tcp:9222", Endpoint("tcp:9222")},
		{"Method", KeyMethod, "build", Method("build")},
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

// TestNumericHelpers verifies keys for numeric helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Status(7); v.Key != KeyStatus || v.Value.Int64() != 7 {
		t.Fatalf("Status mismatch: %v", v)
	}
	if v := Duration(1500 * time.Microsecond); v.Key != KeyDurationMS || v.Value.Float64() != 1.5 {
		t.Fatalf("Duration mismatch: %v", v)
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
