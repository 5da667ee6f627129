package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEV":     slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"prod":    slog.LevelError,
		"bogus":   slog.LevelError,
		"trace":   LevelTrace,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l := PionFactory(logger).NewLogger("ice")
	l.Debugf("hidden %d", 1)
	l.Warnf("pair %s failed", "a:b")
	l.Info("gathering done")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %s", out)
	}
	if !strings.Contains(out, "pair a:b failed") || !strings.Contains(out, "pion=ice") {
		t.Fatalf("warn record missing scope or message: %s", out)
	}
	if !strings.Contains(out, "gathering done") {
		t.Fatalf("info record missing: %s", out)
	}
}
