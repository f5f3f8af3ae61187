package util

import (
	"strings"
	"testing"
)

func isHex(s string) bool {
	return strings.Trim(s, "0123456789abcdef") == ""
}

func TestGenerateRandomHex(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 8, 64} {
		got := GenerateRandomHex(n)
		want := max(n, 0)
		if len(got) != want {
			t.Errorf("GenerateRandomHex(%d) length = %d, want %d", n, len(got), want)
		}
		if !isHex(got) {
			t.Errorf("GenerateRandomHex(%d) = %q is not lowercase hex", n, got)
		}
	}
}

func TestGenerateRandomID(t *testing.T) {
	got := GenerateRandomID("sess_", 12)
	if !strings.HasPrefix(got, "sess_") || len(got) != len("sess_")+12 {
		t.Fatalf("GenerateRandomID() = %q", got)
	}
	if !isHex(strings.TrimPrefix(got, "sess_")) {
		t.Errorf("GenerateRandomID() suffix of %q is not hex", got)
	}
}

func TestGenerateEventID(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := GenerateEventID()
		hex, ok := strings.CutPrefix(id, "evt_")
		if !ok || len(hex) != 24 || !isHex(hex) {
			t.Fatalf("malformed event id %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = struct{}{}
	}
}
