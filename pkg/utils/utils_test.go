package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateSessionCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := GenerateSessionCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != SessionCodeLength {
			t.Errorf("code %q has length %d, want %d", code, len(code), SessionCodeLength)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Errorf("code %q contains non-digit %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("expected generated codes to vary")
	}
}

func TestGenerateConnectionID(t *testing.T) {
	id1 := GenerateConnectionID()
	id2 := GenerateConnectionID()
	if !strings.HasPrefix(id1, "conn_") {
		t.Errorf("GenerateConnectionID() = %v, should start with 'conn_'", id1)
	}
	if id1 == id2 {
		t.Error("GenerateConnectionID() should generate unique IDs")
	}
}

func TestRecordingFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := RecordingFileName(ts, "flv"); got != "broadcast-20240309-140507-000.flv" {
		t.Errorf("RecordingFileName() = %v", got)
	}
	later := ts.Add(42*time.Millisecond + 900*time.Microsecond)
	if got := RecordingFileName(later, "flv"); got != "broadcast-20240309-140507-042.flv" {
		t.Errorf("RecordingFileName() = %v", got)
	}
}
