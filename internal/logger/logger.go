package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Buffer pool to reduce allocations in formatter
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Color printers for consistent output across the application
var (
	SuccessColor = color.New(color.FgGreen, color.Bold)
	ErrorColor   = color.New(color.FgRed, color.Bold)
	WarnColor    = color.New(color.FgYellow, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	DebugColor   = color.New(color.FgWhite)

	HighlightColor = color.New(color.FgMagenta, color.Bold)
	DimColor       = color.New(color.FgHiBlack)

	NumberColor = color.New(color.FgYellow)
	PathColor   = color.New(color.FgBlue, color.Underline)
	TimeColor   = color.New(color.FgCyan)
)

// Logger defines the interface for logging
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})

	// Structured logging methods
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger

	// Progress logging for operations
	StartOperation(name string) OperationLogger
}

// OperationLogger tracks timing for operations
type OperationLogger interface {
	Update(msg string, args ...any)
	Complete(msg string, args ...any)
	Fail(msg string, args ...any)
}

// logger implements Logger interface using logrus
type logger struct {
	logrus *logrus.Logger
	level  logrus.Level
	format string
}

// operationLogger tracks a single operation
type operationLogger struct {
	name      string
	startTime time.Time
	parent    *logger
}

// New creates a new logger
func New(level, format string) Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(level))
	l.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&CleanFormatter{})
	}

	return &logger{
		logrus: l,
		level:  parseLevel(level),
		format: format,
	}
}

// NewSilent creates a logger that discards all output
func NewSilent() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(io.Discard)
	l.SetFormatter(&CleanFormatter{})

	return &logger{
		logrus: l,
		level:  logrus.InfoLevel,
		format: "text",
	}
}

// FileLogger creates a logger that writes to both stdout and a file
func FileLogger(level, format, filename string) (Logger, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := logrus.New()
	l.SetLevel(parseLevel(level))
	l.SetOutput(io.MultiWriter(os.Stdout, file))

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&CleanFormatter{})
	}

	return &logger{
		logrus: l,
		level:  parseLevel(level),
		format: format,
	}, nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logger) Debug(msg string, args ...any) {
	l.logWithFields(logrus.DebugLevel, msg, args...)
}

func (l *logger) Info(msg string, args ...any) {
	l.logWithFields(logrus.InfoLevel, msg, args...)
}

func (l *logger) Warn(msg string, args ...any) {
	l.logWithFields(logrus.WarnLevel, msg, args...)
}

func (l *logger) Error(msg string, args ...any) {
	l.logWithFields(logrus.ErrorLevel, msg, args...)
}

// StartOperation creates a new operation logger
func (l *logger) StartOperation(name string) OperationLogger {
	return &operationLogger{
		name:      name,
		startTime: time.Now(),
		parent:    l,
	}
}

// WithFields creates a logger with structured fields
func (l *logger) WithFields(fields map[string]interface{}) Logger {
	return &logger{
		logrus: l.logrus.WithFields(logrus.Fields(fields)).Logger,
		level:  l.level,
		format: l.format,
	}
}

// WithField creates a logger with a single structured field
func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{
		logrus: l.logrus.WithField(key, value).Logger,
		level:  l.level,
		format: l.format,
	}
}

func (ol *operationLogger) Update(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Info(fmt.Sprintf("[%s] %s", ol.name, msg),
		append(args, "elapsed", elapsed.String())...)
}

func (ol *operationLogger) Complete(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Info(fmt.Sprintf("[%s] COMPLETED: %s", ol.name, msg),
		append(args, "duration", formatDuration(elapsed))...)
}

func (ol *operationLogger) Fail(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Error(fmt.Sprintf("[%s] FAILED: %s", ol.name, msg),
		append(args, "duration", formatDuration(elapsed))...)
}

// logWithFields forwards log messages with structured fields to logrus
// Includes early exit for disabled levels to avoid allocation overhead
func (l *logger) logWithFields(level logrus.Level, msg string, args ...any) {
	if l == nil || l.logrus == nil {
		return
	}

	if !l.logrus.IsLevelEnabled(level) {
		return
	}

	fields := fieldsFromArgs(args...)
	var entry *logrus.Entry
	if fields != nil {
		entry = l.logrus.WithFields(fields)
	} else {
		entry = logrus.NewEntry(l.logrus)
	}

	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
}

// fieldsFromArgs converts variadic key/value pairs into logrus fields
func fieldsFromArgs(args ...any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}

	fields := make(logrus.Fields, len(args)/2+1)

	for i := 0; i < len(args); {
		if i+1 < len(args) {
			if key, ok := args[i].(string); ok {
				fields[key] = args[i+1]
				i += 2
				continue
			}
		}

		fields[fmt.Sprintf("arg%d", i)] = args[i]
		i++
	}

	return fields
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	} else {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
}

// CleanFormatter formats log entries in a clean, human-readable format
// Uses buffer pooling to reduce allocations
type CleanFormatter struct {
	levelStrings     map[logrus.Level]string
	levelStringsOnce sync.Once
}

func (f *CleanFormatter) getLevelStrings() map[logrus.Level]string {
	f.levelStringsOnce.Do(func() {
		f.levelStrings = map[logrus.Level]string{
			logrus.DebugLevel: DebugColor.Sprint("DEBUG"),
			logrus.InfoLevel:  SuccessColor.Sprint("INFO "),
			logrus.WarnLevel:  WarnColor.Sprint("WARN "),
			logrus.ErrorLevel: ErrorColor.Sprint("ERROR"),
			logrus.FatalLevel: ErrorColor.Sprint("FATAL"),
			logrus.PanicLevel: ErrorColor.Sprint("PANIC"),
			logrus.TraceLevel: DebugColor.Sprint("TRACE"),
		}
	})
	return f.levelStrings
}

// Format implements logrus.Formatter interface
func (f *CleanFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	timestamp := entry.Time.Format("2006-01-02T15:04:05")

	levelStrings := f.getLevelStrings()
	levelText, ok := levelStrings[entry.Level]
	if !ok {
		levelText = levelStrings[logrus.InfoLevel]
	}

	buf.WriteString(levelText)
	buf.WriteByte(' ')
	buf.WriteByte('[')
	buf.WriteString(timestamp)
	buf.WriteString("] ")
	buf.WriteString(entry.Message)

	// Append important fields in a clean format (skip internal/redundant fields)
	if len(entry.Data) > 0 {
		for k, v := range entry.Data {
			switch k {
			case "elapsed", "operation_id", "timestamp", "message":
				continue
			case "duration":
				if str, ok := v.(string); ok {
					buf.WriteString(" (")
					buf.WriteString(str)
					buf.WriteByte(')')
				}
				continue
			case "backup_id", "segment", "state", "target", "path", "error", "count", "wal_start", "wal_end":
				buf.WriteByte(' ')
				buf.WriteString(k)
				buf.WriteByte('=')
				fmt.Fprint(buf, v)
			}
		}
	}

	buf.WriteByte('\n')

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
