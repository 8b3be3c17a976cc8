package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped lines to .buckling/logs/buckling.log so driver
// and bridge failures can be inspected after the terminal is closed.
type Logger struct {
	sink      *sink
	component string
}

type sink struct {
	mu   sync.Mutex
	file *os.File
}

// New creates (or reuses) the log file inside logDir.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "buckling.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{sink: &sink{file: f}}, nil
}

// Component returns a logger sharing the same file that tags each line with name.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, component: strings.TrimSpace(name)}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil || l.sink.file == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.sink == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	if l.component != "" {
		line = "[" + l.component + "] " + line
	}
	timestamp := time.Now().Format(time.RFC3339)
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return
	}
	fmt.Fprintf(l.sink.file, "[%s] %s\n", timestamp, line)
}
