// Package logging provides the structured logger used across dirmirror.
//
// Entries are kept in a bounded in-memory buffer for inspection and rendered
// to the console through charmbracelet/log.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

const DefaultBufferSize = 1000

type Options struct {
	Level  Level
	Format Format
	Output io.Writer
	Prefix string
}

type Logger struct {
	buffer      *LogBuffer
	output      *charmlog.Logger
	minLevel    Level
	baseContext map[string]string
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOptions(buffer, Options{Level: minLevel, Output: os.Stderr})
}

// NewLoggerWithOutput renders logfmt to output. A nil output only buffers.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	return NewLoggerWithOptions(buffer, Options{Level: minLevel, Output: output})
}

func NewLoggerWithOptions(buffer *LogBuffer, options Options) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	logger := &Logger{
		buffer:   buffer,
		minLevel: normalizeLevel(options.Level),
	}
	if options.Output != nil && options.Output != io.Discard {
		logger.output = charmlog.NewWithOptions(options.Output, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          options.Prefix,
			Formatter:       formatter(options.Format),
			Level:           charmlog.DebugLevel,
		})
	}
	return logger
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		buffer:      l.buffer,
		output:      l.output,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
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
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.output != nil {
		l.output.Log(charmLevel(level), message, keyvals(entry.Context)...)
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

// LevelAtLeast reports whether level is as severe as minimum or more.
func LevelAtLeast(level, minimum Level) bool {
	return levelRank(level) >= levelRank(minimum)
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func charmLevel(level Level) charmlog.Level {
	switch level {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarning:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func formatter(format Format) charmlog.Formatter {
	switch format {
	case FormatJSON:
		return charmlog.JSONFormatter
	case FormatText:
		return charmlog.TextFormatter
	default:
		return charmlog.LogfmtFormatter
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func ParseFormat(value string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatLogfmt, "":
		return FormatLogfmt, true
	case FormatJSON:
		return FormatJSON, true
	case FormatText:
		return FormatText, true
	default:
		return "", false
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func keyvals(fields map[string]string) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		out = append(out, key, fields[key])
	}
	return out
}
