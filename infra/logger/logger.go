package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/chargeslot/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Infow(string, map[string]any)  {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

var (
	defaultsMu     sync.RWMutex
	defaultBackend = "zerolog"
	defaultLevel   = "info"
	defaultOutput  io.Writer = os.Stdout
)

// Options are the process-wide logger defaults.
type Options struct {
	Backend string
	Level   string
	// Output replaces stdout when set.
	Output io.Writer
}

// Configure sets the defaults used by loggers created afterwards. LOG_BACKEND
// and LOG_LEVEL still win; empty values keep the current defaults.
func Configure(o Options) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if o.Backend != "" {
		defaultBackend = strings.ToLower(o.Backend)
	}
	if o.Level != "" {
		defaultLevel = strings.ToLower(o.Level)
	}
	if o.Output != nil {
		defaultOutput = o.Output
	}
}

// RotatingFile returns a writer appending to path and rotating it once it
// grows past maxSizeMB.
func RotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}, nil
}

// New returns a Logger for the given component. LOG_BACKEND selects the
// implementation ("zerolog" by default, "logrus"), APP_ENV=dev switches to
// human readable output and LOG_LEVEL sets the minimum level.
func New(component string) Logger {
	switch backendName() {
	case "logrus":
		return NewLogrusLogger(component)
	default:
		return NewZerologLogger(component)
	}
}

func devMode() bool {
	return strings.ToLower(os.Getenv("APP_ENV")) == "dev"
}

func backendName() string {
	if b := strings.ToLower(os.Getenv("LOG_BACKEND")); b != "" {
		return b
	}
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultBackend
}

func output() io.Writer {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultOutput
}

func levelName() string {
	if lvl := strings.ToLower(os.Getenv("LOG_LEVEL")); lvl != "" {
		return lvl
	}
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultLevel
}
