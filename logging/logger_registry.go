package logging

import (
	"strconv"
	"sync"
)

// registry tracks the named loggers created by NewLogger, NewDebugLogger and their subloggers
// so pattern levels can be applied to them by name.
type registry struct {
	mu       sync.Mutex
	loggers  map[string]*impl
	patterns []LoggerPatternConfig
}

var globalRegistry = &registry{loggers: map[string]*impl{}}

// register records logger under name, replacing any earlier logger of that name, and applies
// the current patterns to it.
func register(name string, logger *impl) Logger {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.loggers[name] = logger
	globalRegistry.apply(name, logger)
	return logger
}

func (imp *impl) registered() bool {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	return globalRegistry.loggers[imp.name] == imp
}

// apply sets the level of the last pattern matching name. Callers hold mu.
func (r *registry) apply(name string, logger *impl) {
	for _, lpc := range r.patterns {
		if !lpc.matcher().MatchString(name) {
			continue
		}
		if level, err := LevelFromString(lpc.Level); err == nil {
			logger.SetLevel(level)
		}
	}
}

// UpdatePatterns replaces the level patterns and applies them to every registered logger.
// Loggers no pattern matches keep their level. Loggers created later pick the patterns up
// when they are registered.
func UpdatePatterns(patterns []LoggerPatternConfig) error {
	for i, lpc := range patterns {
		if err := lpc.Validate("log." + strconv.Itoa(i)); err != nil {
			return err
		}
	}
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.patterns = append([]LoggerPatternConfig(nil), patterns...)
	for name, logger := range globalRegistry.loggers {
		globalRegistry.apply(name, logger)
	}
	return nil
}

// LoggerNamed returns the registered logger called name.
func LoggerNamed(name string) (Logger, bool) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	logger, ok := globalRegistry.loggers[name]
	if !ok {
		return nil, false
	}
	return logger, true
}
