// Package logger wraps log/slog behind a small package-level API backed by
// a singleton logger that can be swapped out (for tests, or once real
// configuration is known at startup).
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

var singleton atomic.Value // holds *slog.Logger

func init() {
	singleton.Store(newDefault())
}

func newDefault() *slog.Logger {
	return New(unstructuredLogs())
}

// New builds a *slog.Logger writing to stderr, text-handler if unstructured
// is true, JSON otherwise.
func New(unstructured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if unstructured {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// envReader abstracts os.Getenv for testability.
type envReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// unstructuredLogs reports whether UNSTRUCTURED_LOGS selects the
// human-readable text handler. Defaults to true (text) when unset or
// unparsable.
func unstructuredLogs() bool {
	return unstructuredLogsWithEnv(osEnv{})
}

func unstructuredLogsWithEnv(env envReader) bool {
	v := env.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Initialize rebuilds the singleton logger from the current environment.
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv rebuilds the singleton logger reading UNSTRUCTURED_LOGS
// from the given env reader. Exposed for tests.
func InitializeWithEnv(env envReader) {
	singleton.Store(New(unstructuredLogsWithEnv(env)))
}

// Get returns the current singleton *slog.Logger.
func Get() *slog.Logger {
	return singleton.Load().(*slog.Logger)
}

// SetForTest swaps the singleton logger and returns a restore func.
func SetForTest(l *slog.Logger) func() {
	prev := singleton.Load()
	singleton.Store(l)
	return func() { singleton.Store(prev) }
}

func Debug(msg string)                       { Get().Debug(msg) }
func Debugf(format string, args ...any)       { Get().Debug(sprintf(format, args...)) }
func Debugw(msg string, kv ...any)            { Get().Debug(msg, kv...) }
func Info(msg string)                         { Get().Info(msg) }
func Infof(format string, args ...any)        { Get().Info(sprintf(format, args...)) }
func Infow(msg string, kv ...any)             { Get().Info(msg, kv...) }
func Warn(msg string)                         { Get().Warn(msg) }
func Warnf(format string, args ...any)        { Get().Warn(sprintf(format, args...)) }
func Warnw(msg string, kv ...any)             { Get().Warn(msg, kv...) }
func Error(msg string)                        { Get().Error(msg) }
func Errorf(format string, args ...any)       { Get().Error(sprintf(format, args...)) }
func Errorw(msg string, kv ...any)            { Get().Error(msg, kv...) }

// DPanic logs at error level. Unlike Panic, it does not panic; it marks a
// condition that should not happen in a correct deployment.
func DPanic(msg string)                 { Get().Error(msg) }
func DPanicf(format string, args ...any) { Get().Error(sprintf(format, args...)) }
func DPanicw(msg string, kv ...any)      { Get().Error(msg, kv...) }

// Panic logs at error level then panics with msg.
func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

// Panicf logs the formatted message then panics with it.
func Panicf(format string, args ...any) {
	msg := sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

// Panicw logs msg with key-value pairs then panics with msg.
func Panicw(msg string, kv ...any) {
	Get().Error(msg, kv...)
	panic(msg)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
