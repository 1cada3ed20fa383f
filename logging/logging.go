// Package logging contains the zap based loggers used by the drive, calibration and CLI packages.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.RWMutex
	globalLogger = NewDebugLogger("startup")
)

// ReplaceGlobal replaces the global loggers.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Global returns the global logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Logger is the logging interface every component is constructed with.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<parent>.<subname>" with its own level, starting at the
	// parent's.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	AsZap() *zap.SugaredLogger
	Sync() error
}

type impl struct {
	*zap.SugaredLogger
	// base is the unnamed, unfiltered logger every sublogger is derived from.
	base  *zap.SugaredLogger
	name  string
	level zap.AtomicLevel
}

// NewLoggerConfig returns a new default logger config.
func NewLoggerConfig() zap.Config {
	// from https://github.com/uber-go/zap/blob/2314926ec34c23ee21f3dd4399438469668f8097/config.go#L135
	// but disable stacktraces, use same keys as prod, and color levels.
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

func newWithLevel(name string, level Level) Logger {
	config := NewLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger := newImpl(zap.Must(config.Build()).Sugar(), name, zap.NewAtomicLevelAt(level.AsZap()))
	return register(name, logger)
}

// newImpl names base and filters it by level. The core of base is built at debug level so
// any logger can be made more verbose than its parent.
func newImpl(base *zap.SugaredLogger, name string, level zap.AtomicLevel) *impl {
	named := base
	if name != "" {
		named = base.Named(name)
	}
	return &impl{
		SugaredLogger: named.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			filtered, err := zapcore.NewIncreaseLevelCore(c, level)
			if err != nil {
				return c
			}
			return filtered
		})),
		base:  base,
		name:  name,
		level: level,
	}
}

// NewLogger returns a new logger that outputs Info+ logs to stdout.
func NewLogger(name string) Logger {
	return newWithLevel(name, INFO)
}

// NewDebugLogger returns a new logger that outputs Debug+ logs to stdout.
func NewDebugLogger(name string) Logger {
	return newWithLevel(name, DEBUG)
}

// FromZapCompatible wraps an existing zap logger. The level can only be raised above the
// level the zap core was built with.
func FromZapCompatible(logger *zap.SugaredLogger) Logger {
	return newImpl(logger, "", zap.NewAtomicLevelAt(zapcore.DebugLevel))
}

// Sublogger returns a logger named "<parent>.<subname>" that starts at the parent's level.
// Its level can then be changed on its own, either directly or by a pattern registered with
// UpdatePatterns.
func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	sub := newImpl(imp.base, newName, zap.NewAtomicLevelAt(imp.level.Level()))
	if imp.registered() {
		return register(newName, sub)
	}
	return sub
}

func (imp *impl) SetLevel(level Level) {
	imp.level.SetLevel(level.AsZap())
}

func (imp *impl) GetLevel() Level {
	return levelFromZap(imp.level.Level())
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return imp.SugaredLogger
}
