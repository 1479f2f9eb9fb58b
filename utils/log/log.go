package log

import (
	"fmt"

	"go.uber.org/zap"
)

// Level is the minimum severity that gets emitted, ordered as the
// serve configuration names them.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	minLevel Level
	sugared  *zap.SugaredLogger
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
	sugared = logger.Sugar()
}

// SetLevel selects the minimum emitted level.
func SetLevel(level Level) {
	minLevel = level
}

// SetLevelName selects the minimum emitted level by its configuration
// name: debug, info, warning or error.
func SetLevelName(name string) error {
	switch name {
	case "debug":
		minLevel = LevelDebug
	case "", "info":
		minLevel = LevelInfo
	case "warning":
		minLevel = LevelWarning
	case "error":
		minLevel = LevelError
	default:
		return fmt.Errorf("unknown log_level %q", name)
	}
	return nil
}

// A Logger emits messages tagged with the journal device they concern.
type Logger struct {
	s *zap.SugaredLogger
}

// Device returns a logger whose messages carry the device name as a
// structured field, so one serve process running several journals
// stays attributable.
func Device(name string) *Logger {
	return &Logger{s: sugared.With(zap.String("device", name))}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if minLevel <= LevelDebug {
		l.s.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if minLevel <= LevelInfo {
		l.s.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if minLevel <= LevelWarning {
		l.s.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if minLevel <= LevelError {
		l.s.Errorf(format, args...)
	}
}

func Debug(format string, args ...interface{}) {
	if minLevel <= LevelDebug {
		sugared.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if minLevel <= LevelInfo {
		sugared.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if minLevel <= LevelWarning {
		sugared.Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if minLevel <= LevelError {
		sugared.Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	sugared.Fatalf(format, args...)
}
