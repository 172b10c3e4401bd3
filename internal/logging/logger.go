package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// ParseLevel maps a settings string like "debug" to a LogLevel, defaulting
// to info for anything unrecognized
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogEntry is a single structured log record
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Component string
	Message   string
	Err       error
	Context   map[string]interface{}
}

// LogFormatter renders entries for output
type LogFormatter interface {
	Format(entry *LogEntry) string
}

// TextFormatter renders entries as single-line human-readable text. Context
// keys are sorted so output is stable across runs.
type TextFormatter struct{}

func (f *TextFormatter) Format(entry *LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, " %-5s [%s] %s", entry.Level, entry.Component, entry.Message)

	if entry.Err != nil {
		fmt.Fprintf(&b, " | error=%v", entry.Err)
	}
	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for k := range entry.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// Logger writes leveled, component-tagged log lines. Safe for concurrent use.
type Logger struct {
	component string

	mu        sync.Mutex
	minLevel  LogLevel
	outputs   []io.Writer
	formatter LogFormatter
}

// NewLogger creates a logger for one component, writing to stderr at info
// level
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		minLevel:  LogLevelInfo,
		outputs:   []io.Writer{os.Stderr},
		formatter: &TextFormatter{},
	}
}

// Named returns a logger for a sub-component sharing this logger's level,
// outputs and formatter
func (l *Logger) Named(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		component: component,
		minLevel:  l.minLevel,
		outputs:   l.outputs,
		formatter: l.formatter,
	}
}

// SetMinLevel sets the minimum level that gets written
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	return l
}

// AddOutput adds an extra destination for log lines
func (l *Logger) AddOutput(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outputs = append(l.outputs, w)
	return l
}

// SetFormatter replaces the entry formatter
func (l *Logger) SetFormatter(formatter LogFormatter) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.formatter = formatter
	return l
}

func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	formatted := l.formatter.Format(&LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   message,
		Err:       err,
		Context:   context,
	})
	for _, output := range l.outputs {
		output.Write([]byte(formatted))
	}
}

func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}
