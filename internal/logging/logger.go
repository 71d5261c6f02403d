package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	fileMaxSizeMegabytes = 50
	fileMaxBackups       = 5
	fileMaxAgeDays       = 14
)

// Options tune logger construction.
type Options struct {
	Level string
	// File, when set, receives a rotated copy of every log line.
	File  string
	Hooks []func(zapcore.Entry) error
}

// ParseLevel maps a configured level name to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger returns a zap logger configured for structured production logging.
func NewLogger(options Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(options.Level))
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if path := strings.TrimSpace(options.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(newRollingFile(path)), level))
	}

	zapOptions := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if len(options.Hooks) > 0 {
		zapOptions = append(zapOptions, zap.Hooks(options.Hooks...))
	}

	return zap.New(zapcore.NewTee(cores...), zapOptions...), nil
}

func newRollingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileMaxSizeMegabytes,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		LocalTime:  false,
		Compress:   false,
	}
}
