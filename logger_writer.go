package adminws

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// writerLogger implements Logger on top of an io.Writer. Writes are serialised so that the
// loop, dial and read goroutines can share one sink.
type writerLogger struct {
	writer io.Writer
	mu     *sync.Mutex
	fields map[string]any
}

// NewWriterLogger creates a new logger that writes plain text lines to the provided writer
func NewWriterLogger(writer io.Writer) Logger {
	return &writerLogger{
		writer: writer,
		mu:     &sync.Mutex{},
		fields: make(map[string]any),
	}
}

func (l *writerLogger) WithField(key string, value any) Logger {
	child := &writerLogger{
		writer: l.writer,
		mu:     l.mu,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	return child
}

func (l *writerLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func (l *writerLogger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "[%s] %s%s: %s\n", timestamp, level, l.formatFields(), strings.TrimRight(msg, "\n"))
}

func (l *writerLogger) Debug(args ...any) { l.log("DEBUG", fmt.Sprint(args...)) }

func (l *writerLogger) Debugf(format string, args ...any) { l.log("DEBUG", fmt.Sprintf(format, args...)) }

func (l *writerLogger) Debugln(args ...any) { l.log("DEBUG", fmt.Sprintln(args...)) }

func (l *writerLogger) Info(args ...any) { l.log("INFO", fmt.Sprint(args...)) }

func (l *writerLogger) Infof(format string, args ...any) { l.log("INFO", fmt.Sprintf(format, args...)) }

func (l *writerLogger) Infoln(args ...any) { l.log("INFO", fmt.Sprintln(args...)) }

func (l *writerLogger) Warn(args ...any) { l.log("WARN", fmt.Sprint(args...)) }

func (l *writerLogger) Warnf(format string, args ...any) { l.log("WARN", fmt.Sprintf(format, args...)) }

func (l *writerLogger) Warnln(args ...any) { l.log("WARN", fmt.Sprintln(args...)) }

func (l *writerLogger) Error(args ...any) { l.log("ERROR", fmt.Sprint(args...)) }

func (l *writerLogger) Errorf(format string, args ...any) { l.log("ERROR", fmt.Sprintf(format, args...)) }

func (l *writerLogger) Errorln(args ...any) { l.log("ERROR", fmt.Sprintln(args...)) }

// NopLogger discards everything.
func NopLogger() Logger { return NewWriterLogger(io.Discard) }
