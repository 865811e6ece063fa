package logging

import "testing"

func TestNopSatisfiesLogger(t *testing.T) {
	var l Logger = Nop{}
	l.Debug("x", F("k", "v"))
	l.Info("x")
	l.Warn("x")
	l.Error("x", nil)
}

func TestFieldHelper(t *testing.T) {
	f := F("key", 7)
	if f.Key != "key" || f.Value != 7 {
		t.Fatalf("unexpected field: %+v", f)
	}
}
