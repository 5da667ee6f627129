package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	pionlog "github.com/pion/logging"
)

// LevelTrace sits below debug and carries pion's packet-level chatter.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values fall
// back to error.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError // production only shows errors
	}
}

func Init() {
	InitLevel(slog.LevelError)
}

// InitLevel is Init with a different level for when LOG_LEVEL is unset.
func InitLevel(def slog.Level) {
	level := def
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l)
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// PionFactory routes pion's internal ICE, DTLS and SCTP logs through
// logger, tagging each record with its pion scope.
func PionFactory(logger *slog.Logger) pionlog.LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &pionFactory{logger: logger}
}

type pionFactory struct {
	logger *slog.Logger
}

func (f *pionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return &pionLogger{logger: f.logger.With("pion", scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

func (l *pionLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *pionLogger) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Trace(msg string)                  { l.log(LevelTrace, msg) }
func (l *pionLogger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l *pionLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *pionLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l *pionLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *pionLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *pionLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...any)  { l.logf(slog.LevelError, format, args...) }
