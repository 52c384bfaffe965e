package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level string) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(level))
	return slog.New(newConsoleHandler(&buf, levelVar)), &buf
}

func TestConsoleHandlerFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Info("integrity verdict",
		String(FieldComponent, "planner"),
		String("outcome", "complete"),
		Int("attempts", 2),
	)

	line := buf.String()
	if !strings.Contains(line, "INFO planner: integrity verdict") {
		t.Errorf("component prefix missing: %q", line)
	}
	if !strings.Contains(line, "outcome=complete") || !strings.Contains(line, "attempts=2") {
		t.Errorf("attrs missing: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	logger.Warn("probe failed", String("detail", "no audio stream"))
	if !strings.Contains(buf.String(), `detail="no audio stream"`) {
		t.Errorf("value not quoted: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")
	logger.Info("hidden")
	logger.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line leaked through warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn line missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithContextAttachesFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	ctx := WithPath(context.Background(), "/m/a.mkv")
	ctx = WithHandler(ctx, "integrity")
	WithContext(ctx, logger).Info("picked")

	line := buf.String()
	if !strings.Contains(line, "path=/m/a.mkv") {
		t.Errorf("path missing: %q", line)
	}
	if !strings.Contains(line, "handler=integrity") {
		t.Errorf("handler missing: %q", line)
	}
}
