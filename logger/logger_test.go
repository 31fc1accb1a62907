package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitWithOptionsWritesToFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "engine.log")
	log, err := InitWithOptions(path, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	log.Info().Str("key", "value").Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("log file missing entry: %s", out)
	}
	if !strings.Contains(out, `"key":"value"`) {
		t.Errorf("log file missing field: %s", out)
	}
}

func TestInitWithOptionsRespectsLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "engine.log")
	log, err := InitWithOptions(path, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	log.Info().Msg("suppressed")
	log.Error().Msg("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "suppressed") {
		t.Errorf("info entry written at error level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("error entry missing: %s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
