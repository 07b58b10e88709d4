package logging

import (
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Logger writes one `level=... msg="..." key="value"` line per entry, keys
// sorted. A nil *Logger discards everything, so components can hold an
// optional logger without nil checks.
type Logger struct {
	output      *log.Logger
	minLevel    Level
	baseContext map[string]string
}

// NewLogger logs to stdout.
func NewLogger(minLevel Level) *Logger {
	return NewLoggerWithOutput(minLevel, os.Stdout)
}

func NewLoggerWithOutput(minLevel Level, output io.Writer) *Logger {
	if output == nil {
		output = io.Discard
	}
	if !minLevel.valid() {
		minLevel = LevelInfo
	}
	return &Logger{
		output:   log.New(output, "", log.LstdFlags),
		minLevel: minLevel,
	}
}

// Discard returns a logger that drops every entry.
func Discard() *Logger {
	return NewLoggerWithOutput(LevelError, io.Discard)
}

// With returns a logger that adds fields to every entry. Entry fields win
// over base fields with the same key.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		output:      l.output,
		minLevel:    l.minLevel,
		baseContext: mergeFields(l.baseContext, fields),
	}
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.minLevel
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) || l.output == nil {
		return
	}
	l.output.Print(formatEntry(Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.baseContext, fields),
	}))
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

func formatEntry(entry Entry) string {
	var line strings.Builder
	line.WriteString("level=")
	line.WriteString(entry.Level.String())
	line.WriteString(" msg=")
	line.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line.WriteByte(' ')
		line.WriteString(key)
		line.WriteByte('=')
		line.WriteString(strconv.Quote(entry.Context[key]))
	}
	return line.String()
}
