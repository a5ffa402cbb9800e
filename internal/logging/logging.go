// Package logging implements the per-instance text logger described in
// spec.md §4.J: one serialized, multi-sink sink per VkInstance, with
// {{pid}}/{{inst}} path substitution and flush-on-warn durability.
// Records are written synchronously on the calling goroutine; there is
// no background writer.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Level mirrors the handful of severities rules and the layer itself emit.
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// syncWriter wraps a sink file so Warn/Error records can force a flush to
// survive a host-application crash shortly after the message is written.
type syncWriter struct {
	f *os.File
}

func (w *syncWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

func (w *syncWriter) Sync() error {
	return w.f.Sync()
}

// Logger is one instance's serialized multi-sink logger. Safe for
// concurrent use; every Log* call takes the internal mutex, matching the
// "serialised" requirement in spec.md §4.J (the instance-wide mutex from
// §5 is a separate, coarser lock around shadow state and rule evaluation —
// this one only protects line interleaving on the sink).
type Logger struct {
	mu      sync.Mutex
	logger  *log.Logger
	sinks   []*syncWriter
	flushOn Level
}

// New opens the configured sinks (after substituting {{pid}} and {{inst}}
// into the path) and returns a ready Logger. path may be empty, in which
// case the logger writes to stderr only (still going through the same
// flush-on-warn path, which is then a no-op since stderr is unbuffered by
// the OS already).
func New(pathTemplate string, instanceID uint64, flushOn Level) (*Logger, error) {
	l := &Logger{flushOn: flushOn}

	var writers []io.Writer
	if pathTemplate != "" {
		resolved := substitute(pathTemplate, instanceID)
		if dir := filepath.Dir(resolved); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("logging: create log directory %q: %w", dir, err)
			}
		}
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file %q: %w", resolved, err)
		}
		sw := &syncWriter{f: f}
		l.sinks = append(l.sinks, sw)
		writers = append(writers, sw)
	}

	// Always keep stderr as a sink too; losing the file sink (disk full,
	// permission error elsewhere) should never make the layer silent.
	writers = append(writers, os.Stderr)

	l.logger = log.NewWithOptions(io.MultiWriter(writers...), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          fmt.Sprintf("vkhook[%d]", instanceID),
	})
	l.logger.SetLevel(LevelDebug)
	if banner := BannerLine(); banner != "" {
		l.logger.Info("instance started " + banner)
	}
	return l, nil
}

func substitute(tmpl string, instanceID uint64) string {
	r := strings.NewReplacer(
		"{{pid}}", strconv.Itoa(os.Getpid()),
		"{{inst}}", strconv.FormatUint(instanceID, 10),
	)
	return r.Replace(tmpl)
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}
	switch level {
	case LevelDebug:
		l.logger.Debug(text)
	case LevelInfo:
		l.logger.Info(text)
	case LevelWarn:
		l.logger.Warn(text)
	case LevelError:
		l.logger.Error(text)
	}

	if level >= l.flushOn {
		for _, s := range l.sinks {
			_ = s.Sync()
		}
	}
}

func (l *Logger) Debugf(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Infof(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warnf(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Errorf(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

// Log implements the rule action log(text): plain text, no formatting
// directives interpreted (rule text may legitimately contain '%').
func (l *Logger) Log(text string) {
	l.log(LevelInfo, "%s", text)
}

// Close flushes and closes every file sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, s := range l.sinks {
		_ = s.Sync()
		if err := s.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
