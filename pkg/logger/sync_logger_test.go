package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"garbage", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line logged at info level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("info line missing at info level")
	}

	buf.Reset()
	debugLog := New(Config{Level: LevelDebug, Output: &buf})
	debugLog.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("debug line missing at debug level")
	}
}

// Init applies only its first configuration; later calls are no-ops, so the
// level must be settled before the first call.
func TestInitAppliesFirstConfigOnly(t *testing.T) {
	var first, second bytes.Buffer

	Init(Config{Level: LevelDebug, Output: &first})
	Init(Config{Level: LevelError, Output: &second})

	Debug("first init wins")

	if !strings.Contains(first.String(), "first init wins") {
		t.Error("expected debug line via the first Init config")
	}
	if second.Len() != 0 {
		t.Error("second Init config must not take effect")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.WithField("user_id", "u-1").Info("queued")

	out := buf.String()
	if !strings.Contains(out, `"user_id":"u-1"`) {
		t.Errorf("field missing from entry: %s", out)
	}

	// WithField must not mutate the parent logger.
	buf.Reset()
	log.Info("bare")
	if strings.Contains(buf.String(), "user_id") {
		t.Error("field leaked into parent logger")
	}
}
