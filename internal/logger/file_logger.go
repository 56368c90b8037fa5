package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger represents a file logger for risk-core activity
type Logger struct {
	component string
	logFile   *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logDir    string
	minLevel  LogLevel
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelSizing   LogLevel = "SIZING"
	LogLevelDecision LogLevel = "DECISION"
	LogLevelGuard    LogLevel = "GUARD"
)

// severity orders levels for filtering; domain levels log at INFO severity
func (l LogLevel) severity() int {
	switch l {
	case LogLevelDebug:
		return 0
	case LogLevelWarning:
		return 2
	case LogLevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps LOG_LEVEL values onto a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarning
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Options controls where a Logger writes
type Options struct {
	LogDir   string   // directory for the daily log file; empty disables the file
	Stdout   bool     // mirror entries to stdout (journald picks them up under systemd)
	MinLevel LogLevel // entries below this severity are dropped
}

// NewLogger creates a new file logger for the specified component
func NewLogger(component string, opts Options) (*Logger, error) {
	var writers []io.Writer
	var file *os.File

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		timestamp := time.Now().Format("2006-01-02")
		filename := fmt.Sprintf("%s_%s.log", component, timestamp)
		logPath := filepath.Join(opts.LogDir, filename)

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if opts.Stdout {
		writers = append(writers, os.Stdout)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	minLevel := opts.MinLevel
	if minLevel == "" {
		minLevel = LogLevelInfo
	}

	l := &Logger{
		component: component,
		logFile:   file,
		logger:    log.New(io.MultiWriter(writers...), "", 0),
		logDir:    opts.LogDir,
		minLevel:  minLevel,
	}

	l.writeSessionHeader()

	return l, nil
}

// NewWriterLogger creates a logger that writes entries to w only
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(w, "", 0),
		minLevel:  LogLevelDebug,
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return NewWriterLogger("nop", io.Discard)
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
DIA-CORE RISK SESSION STARTED
================================================================================
Component: %s
Started: %s
================================================================================
`, l.component, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if level.severity() < l.minLevel.severity() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	logEntry := fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, level, l.component, message)

	l.logger.Println(logEntry)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Sizing logs a position sizing outcome
func (l *Logger) Sizing(format string, args ...interface{}) {
	l.Log(LogLevelSizing, format, args...)
}

// Decision logs an order validation outcome
func (l *Logger) Decision(format string, args ...interface{}) {
	l.Log(LogLevelDecision, format, args...)
}

// Guard logs an overload guard event
func (l *Logger) Guard(format string, args ...interface{}) {
	l.Log(LogLevelGuard, format, args...)
}

// LogGuardTransition logs a throttle level change in a block that stands out
// in the daily file.
func (l *Logger) LogGuardTransition(from, to string, reason string, maxInstruments int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	block := fmt.Sprintf(`
[%s] [GUARD] [%s] ==================== THROTTLE CHANGE ====================
Level: %s -> %s
Reason: %s
Max active instruments: %d
=====================================================================`,
		timestamp, l.component, from, to, reason, maxInstruments)

	l.logger.Println(block)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	fullMessage := fmt.Sprintf(context+": "+message, args...)
	l.Warning("%s", fullMessage)
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
DIA-CORE RISK SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)

		err := l.logFile.Close()
		l.logFile = nil
		return err
	}
	return nil
}

// GetLogPath returns the current log file path, or "" when not logging to a file
func (l *Logger) GetLogPath() string {
	if l.logDir == "" {
		return ""
	}
	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", l.component, timestamp)
	return filepath.Join(l.logDir, filename)
}
