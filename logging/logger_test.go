package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerForwardsFields(t *testing.T) {
	var buf bytes.Buffer

	inner := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log := NewSlogLogger(inner)

	log.Info("party joined", F("partyId", "p1"), F("members", 3))

	out := buf.String()
	for _, want := range []string{"party joined", "partyId=p1", "members=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	inner := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	log := NewSlogLogger(inner)

	log.Debug("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug record should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestWithNilReturnsNop(t *testing.T) {
	log := With(nil)

	if _, ok := log.(NopLogger); !ok {
		t.Fatalf("With(nil) = %T, want NopLogger", log)
	}

	// Must not panic.
	log.Error("ignored", F("k", "v"))
}
