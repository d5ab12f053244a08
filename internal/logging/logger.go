package logging

import (
	"fmt"
	"reflect"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// ComponentLogger writes through the process-wide sink, tagging each line
// with its component name.
type ComponentLogger struct {
	component string
	logID     string
	sink      *Sink
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component, sink: defaultSink()}
}

// NewComponentLoggerWithSink scopes a logger to component on an explicit sink.
func NewComponentLoggerWithSink(component string, sink *Sink) *ComponentLogger {
	if sink == nil {
		sink = defaultSink()
	}
	return &ComponentLogger{component: component, sink: sink}
}

func (l *ComponentLogger) Debug(format string, args ...any) {
	l.sink.write(DEBUG, l.component, fmt.Sprintf(prefixLogID(l.logID, format), args...))
}

func (l *ComponentLogger) Info(format string, args ...any) {
	l.sink.write(INFO, l.component, fmt.Sprintf(prefixLogID(l.logID, format), args...))
}

func (l *ComponentLogger) Warn(format string, args ...any) {
	l.sink.write(WARN, l.component, fmt.Sprintf(prefixLogID(l.logID, format), args...))
}

func (l *ComponentLogger) Error(format string, args ...any) {
	l.sink.write(ERROR, l.component, fmt.Sprintf(prefixLogID(l.logID, format), args...))
}

// WithLogID returns a copy of the logger that prefixes lines with logid.
func (l *ComponentLogger) WithLogID(logID string) Logger {
	clone := *l
	clone.logID = logID
	return &clone
}
