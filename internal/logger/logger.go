// Package logger provides the single pre-bound logging sink used across the
// registry, the gateway, and the bundled plug-in services, grounded on the
// teacher's main.go (an slog handler wrapped for trace-id injection) but
// backed by zap, as the rest of the retrieval pack favors for services of
// this shape. It is the one deliberate process-global singleton allowed by
// spec.md §9 ("never use process-global singletons except for the
// pre-bound logger").
package logger

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	Configure(os.Getenv("ENVIRONMENT"), envBool("LOG_INCLUDE_LINES"))
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

// Configure (re)builds the package logger for the given ENVIRONMENT value and
// LOG_INCLUDE_LINES toggle. Production/staging (substring match, spec.md §6)
// gets a JSON encoder at info level; anything else gets a console encoder at
// debug level, mirroring the teacher's getLogLevel() env-driven selection.
func Configure(environment string, includeLines bool) {
	var cfg zap.Config
	if isProdLike(environment) {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if includeLines {
		cfg.DisableCaller = false
	} else {
		cfg.DisableCaller = true
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging must never be the reason the process fails to start;
		// fall back to a no-op logger that discards every entry.
		built = zap.NewNop()
	}

	mu.Lock()
	log = built.Sugar()
	mu.Unlock()
}

func isProdLike(environment string) bool {
	e := strings.ToLower(environment)
	return strings.Contains(e, "prod") || strings.Contains(e, "stag")
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { current().Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { current().Infof(format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { current().Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { current().Errorf(format, args...) }

// Fatalf logs at fatal level and terminates the process — reserved for
// bootstrap failures (spec.md §4.k step 1, §6 exit codes).
func Fatalf(format string, args ...any) { current().Fatalf(format, args...) }

// Info logs a message with structured key/value pairs.
func Info(msg string, kv ...any) { current().Infow(msg, kv...) }

// Warn logs a message with structured key/value pairs.
func Warn(msg string, kv ...any) { current().Warnw(msg, kv...) }

// Error logs a message with structured key/value pairs.
func Error(msg string, kv ...any) { current().Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	return current().Sync()
}

// AsLogr bridges the package logger to logr.Logger, so any collaborator that
// expects a logr-shaped dependency (the teacher wires controller-runtime's
// logger this way) shares the same sink.
func AsLogr() logr.Logger {
	return zapr.NewLogger(current().Desugar())
}
