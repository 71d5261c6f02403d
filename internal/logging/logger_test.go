package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestNewLoggerWritesFileAndRunsHooks(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "api.log")
	hookCalls := 0

	logger, err := NewLogger(Options{
		Level: "info",
		File:  logPath,
		Hooks: []func(zapcore.Entry) error{
			func(zapcore.Entry) error {
				hookCalls++
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	logger.Debug("suppressed")
	logger.Info("written to file")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(contents), "written to file") {
		t.Fatalf("expected log line in file, got %q", contents)
	}
	if strings.Contains(string(contents), "suppressed") {
		t.Fatalf("expected debug line to be filtered")
	}
	if hookCalls != 1 {
		t.Fatalf("expected hook to run once, ran %d times", hookCalls)
	}
}
