// Package logger wraps zap's sugared logger behind the keysAndValues calling
// convention used across the service.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger is the service-wide structured logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger for the given mode. "production" (or "prod") selects
// JSON output; anything else selects the development console encoder.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar()}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Sync flushes buffered entries. Safe to call on shutdown paths.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}
