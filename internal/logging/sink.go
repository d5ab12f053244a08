package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a config string to a LogLevel. Unknown values fall back to INFO.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SinkOptions configures where log lines go.
type SinkOptions struct {
	Level LogLevel
	// File, when set, receives a copy of every line in append mode.
	File   string
	Stdout io.Writer
}

// Sink is the shared writer behind every component logger.
type Sink struct {
	mu     sync.Mutex
	level  LogLevel
	stdout io.Writer
	file   *os.File
	now    func() time.Time
}

var (
	sinkMu      sync.Mutex
	sinkDefault *Sink
)

func defaultSink() *Sink {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkDefault == nil {
		sinkDefault = &Sink{level: INFO, stdout: os.Stdout, now: time.Now}
	}
	return sinkDefault
}

// NewSink opens a sink. The caller owns Close.
func NewSink(opts SinkOptions) (*Sink, error) {
	s := &Sink{level: opts.Level, stdout: opts.Stdout, now: time.Now}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = file
	}
	return s, nil
}

// Configure replaces the process-wide sink used by NewComponentLogger.
// Loggers created earlier keep writing to the previous sink.
func Configure(opts SinkOptions) (*Sink, error) {
	s, err := NewSink(opts)
	if err != nil {
		return nil, err
	}
	sinkMu.Lock()
	sinkDefault = s
	sinkMu.Unlock()
	return s, nil
}

// SetLevel sets the minimum log level
func (s *Sink) SetLevel(level LogLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// Close closes the log file
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Sink) write(level LogLevel, component, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	// Skip write and the public level method.
	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}
	if component == "" {
		component = "GATA"
	}

	// Format: 2025-09-30 12:34:56 [INFO] [component] file.go:123 - Message
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		s.now().Format("2006-01-02 15:04:05"), level, component, file, line, message)
	logLine = sanitizeLogLine(logLine)

	if s.file != nil {
		_, _ = io.WriteString(s.file, logLine)
	}
	if s.stdout != nil {
		_, _ = io.WriteString(s.stdout, logLine)
	}
}
