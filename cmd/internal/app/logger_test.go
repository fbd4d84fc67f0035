package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":     slog.LevelDebug,
		" Debug\n":  slog.LevelDebug,
		"INFO":      slog.LevelInfo,
		"warn":      slog.LevelWarn,
		"WARNING":   slog.LevelWarn,
		"error":     slog.LevelError,
		"trace":     slog.LevelInfo,
		"":          slog.LevelInfo,
		"-4":        slog.LevelInfo,
		"err":       slog.LevelInfo,
		"  error  ": slog.LevelError,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLoggerFromEnv_PrettyHonoursLevel(t *testing.T) {
	t.Setenv("IMSG_LOG_LEVEL", "warn")
	t.Setenv("IMSG_LOG_FORMAT", "pretty")
	t.Setenv("IMSG_LOG_COLOR", "false")

	cfg := LoadConfig()
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, cfg.LogLevel, cfg.LogFormat))

	if log.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("IMSG_LOG_LEVEL=warn must drop info")
	}
	log.Info("ws.auth.ok", "did", "did:plc:alice")
	log.Warn("firehose.cursor.stale", "ageHours", 100)

	out := buf.String()
	if strings.Contains(out, "ws.auth.ok") {
		t.Fatalf("info record leaked: %q", out)
	}
	if !strings.Contains(out, "firehose.cursor.stale") || !strings.Contains(out, "ageHours") {
		t.Fatalf("warn record missing: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("IMSG_LOG_COLOR=false still painted: %q", out)
	}
	if n := strings.Count(strings.TrimRight(out, "\n"), "\n"); n != 0 {
		t.Fatalf("pretty output should be one line per record, got %d breaks", n)
	}
}

func TestLoggerFromEnv_JSONCarriesSource(t *testing.T) {
	t.Setenv("IMSG_LOG_LEVEL", "debug")
	t.Setenv("IMSG_LOG_FORMAT", "")

	cfg := LoadConfig()
	var buf bytes.Buffer
	slog.New(newHandler(&buf, cfg.LogLevel, cfg.LogFormat)).Debug("dm.prune.ok", "deleted", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "dm.prune.ok" || rec["level"] != "DEBUG" {
		t.Fatalf("record=%v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("AddSource missing: %v", rec)
	}
}
