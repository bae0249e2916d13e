package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLoggerTargetsWriterAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "mcp", "debug")
	logger.Debug("ready")

	out := buf.String()
	if !strings.Contains(out, `"service":"mcp"`) || !strings.Contains(out, `"msg":"ready"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"WARN":     slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"":         slog.LevelInfo,
		"verbose!": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
