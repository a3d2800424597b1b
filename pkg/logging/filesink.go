package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriter is a LogWriter that appends entries to a size-rotated file.
// It satisfies the same LogWriter contract that DBSink uses, so the
// rotating file sink is just another consumer of the batching machinery
// in sink.go — LOG_FILE configuration wires a DBSink with a FileWriter
// backend instead of a database-backed one.
type FileWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	maxBackups  int
	file        *os.File
	writtenSize int64
}

// FileWriterConfig configures a FileWriter.
type FileWriterConfig struct {
	// Path is the log file path.
	Path string
	// MaxBytes rotates the file once it exceeds this size (default 64 MiB).
	MaxBytes int64
	// MaxBackups caps how many rotated files (path.1, path.2, ...) are kept.
	MaxBackups int
}

// NewFileWriter opens (creating if necessary) the log file at cfg.Path.
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("logging: file writer requires a path")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 * 1024 * 1024
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logging: stat log file: %w", err)
	}

	return &FileWriter{
		path:        cfg.Path,
		maxBytes:    cfg.MaxBytes,
		maxBackups:  cfg.MaxBackups,
		file:        f,
		writtenSize: info.Size(),
	}, nil
}

// WriteBatch implements LogWriter. Each entry is rendered as a single
// line of key=value pairs, matching the shape of zerolog's console writer
// closely enough to be greppable by the same tooling.
func (w *FileWriter) WriteBatch(ctx context.Context, entries []LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		line := formatLine(e)
		n, err := w.file.WriteString(line)
		if err != nil {
			return fmt.Errorf("logging: write log line: %w", err)
		}
		w.writtenSize += int64(n)
	}

	if w.writtenSize >= w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *FileWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("logging: close before rotate: %w", err)
	}

	for i := w.maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		dst := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		os.Rename(w.path, w.path+".1")
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: reopen after rotate: %w", err)
	}
	w.file = f
	w.writtenSize = 0
	return nil
}

func formatLine(e LogEntry) string {
	line := fmt.Sprintf("%s level=%s service=%s msg=%q", e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), e.Level, e.Service, e.Message)
	if e.TraceID != "" {
		line += fmt.Sprintf(" trace_id=%s", e.TraceID)
	}
	if e.Caller != "" {
		line += fmt.Sprintf(" caller=%s", e.Caller)
	}
	for k, v := range e.Fields {
		line += fmt.Sprintf(" %s=%q", k, v)
	}
	return line + "\n"
}

// NewFileSink is a convenience constructor combining a FileWriter with
// the DBSink batching machinery, giving LOG_FILE a rotating, non-blocking
// destination independent of the primary stdout/stderr stream.
func NewFileSink(cfg FileWriterConfig) (Sink, error) {
	fw, err := NewFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	return NewDBSink(DBSinkConfig{Writer: fw}), nil
}
