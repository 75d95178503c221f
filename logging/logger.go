package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the name of the level as accepted by ParseLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off", "none":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelSilent, fmt.Errorf("unknown log level: %q", name)
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Component string
	Message   string
	Metadata  map[string]interface{}
}

// SecureLogger keeps a bounded in-memory history of entries and forwards
// them to zerolog sinks. Metadata that could carry key material is dropped
// before it reaches either.
type SecureLogger struct {
	level      LogLevel
	entries    []LogEntry
	maxEntries int
	mutex      sync.RWMutex
	console    zerolog.Logger
	outputFile *os.File
	fileLog    zerolog.Logger
	enableFile bool
}

// NewSecureLogger creates a logger writing human readable lines to stderr
func NewSecureLogger(level LogLevel) *SecureLogger {
	return NewSecureLoggerWithOutput(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// NewSecureLoggerWithOutput creates a logger writing to w
func NewSecureLoggerWithOutput(level LogLevel, w io.Writer) *SecureLogger {
	return &SecureLogger{
		level:      level,
		entries:    make([]LogEntry, 0),
		maxEntries: 1000,
		console:    zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that records and prints nothing
func Nop() *SecureLogger {
	return NewSecureLoggerWithOutput(LogLevelSilent, io.Discard)
}

// SetConsoleOutput redirects console output, e.g. to io.Discard while a
// full screen terminal UI owns stdout
func (sl *SecureLogger) SetConsoleOutput(w io.Writer) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.console = zerolog.New(w).With().Timestamp().Logger()
}

// SetFileOutput additionally writes JSON lines to the given file
func (sl *SecureLogger) SetFileOutput(filename string) error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	if sl.outputFile != nil {
		sl.outputFile.Close()
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	sl.outputFile = file
	sl.fileLog = zerolog.New(file).With().Timestamp().Logger()
	sl.enableFile = true
	return nil
}

// Level returns the configured level
func (sl *SecureLogger) Level() LogLevel {
	return sl.level
}

// Log writes a log entry with the specified level
func (sl *SecureLogger) Log(level LogLevel, component, message string, metadata map[string]interface{}) {
	if sl == nil || level == LogLevelSilent || level > sl.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: component,
		Message:   message,
		Metadata:  sanitizeMetadata(metadata),
	}

	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	sl.entries = append(sl.entries, entry)
	if len(sl.entries) > sl.maxEntries {
		sl.entries = sl.entries[1:]
	}

	emit(sl.console, entry)
	if sl.enableFile {
		emit(sl.fileLog, entry)
	}
}

// Error logs an error message
func (sl *SecureLogger) Error(component, message string, metadata map[string]interface{}) {
	sl.Log(LogLevelError, component, message, metadata)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(component, message string, metadata map[string]interface{}) {
	sl.Log(LogLevelWarn, component, message, metadata)
}

// Info logs an info message
func (sl *SecureLogger) Info(component, message string, metadata map[string]interface{}) {
	sl.Log(LogLevelInfo, component, message, metadata)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(component, message string, metadata map[string]interface{}) {
	sl.Log(LogLevelDebug, component, message, metadata)
}

func emit(logger zerolog.Logger, entry LogEntry) {
	event := logger.WithLevel(zerologLevel(entry.Level))
	if event == nil {
		return
	}
	event = event.Str("component", entry.Component)
	if len(entry.Metadata) > 0 {
		event = event.Fields(entry.Metadata)
	}
	event.Msg(entry.Message)
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.Disabled
	}
}

// GetRecentEntries returns recent log entries
func (sl *SecureLogger) GetRecentEntries(count int) []LogEntry {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	if count <= 0 || count > len(sl.entries) {
		count = len(sl.entries)
	}

	start := len(sl.entries) - count
	result := make([]LogEntry, count)
	copy(result, sl.entries[start:])

	return result
}

// GetEntriesByComponent returns up to count of the latest entries of a component, oldest first
func (sl *SecureLogger) GetEntriesByComponent(component string, count int) []LogEntry {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	var result []LogEntry
	for i := len(sl.entries) - 1; i >= 0 && len(result) < count; i-- {
		if sl.entries[i].Component == component {
			result = append([]LogEntry{sl.entries[i]}, result...)
		}
	}

	return result
}

// Close closes the logger and any open files
func (sl *SecureLogger) Close() error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	if sl.outputFile != nil {
		err := sl.outputFile.Close()
		sl.outputFile = nil
		sl.enableFile = false
		return err
	}

	return nil
}

// sanitizeMetadata removes entries whose key suggests secret material
func sanitizeMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		if isSensitiveKey(key) {
			continue
		}
		sanitized[key] = value
	}

	return sanitized
}

// isSensitiveKey checks if a metadata key names secret material
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range []string{"passkey", "password", "secret", "token", "key"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
