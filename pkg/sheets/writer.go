// Package sheets appends one fixed-schema row per terminal package
// outcome to an external spreadsheet, batching writes and spooling rows
// that ultimately fail to a local dead-letter file.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// Client is the external collaborator this package depends on. A
// concrete implementation talks to the real spreadsheet API; it is out
// of scope for this module. Tests use a fake in this package's own
// test files.
type Client interface {
	AppendRows(ctx context.Context, sheetName string, rows []Row) error
}

// Config configures a Writer.
type Config struct {
	SheetName string

	// BatchSize is the max rows per API call and the max rows buffered
	// before an implicit flush. Default 20.
	BatchSize int
	// FlushInterval is the max time a row waits before being flushed
	// even if BatchSize hasn't been reached. Default 5s.
	FlushInterval time.Duration

	MaxRetries       int
	RetryBackoffBase time.Duration

	// DeadLetterPath is where rows are appended (one JSON object per
	// line) after MaxRetries is exhausted. When it is empty, rows that
	// exhaust their retries are dropped and the spool reports an error.
	DeadLetterPath string
}

// DefaultConfig returns the documented defaults: batched at 5-second
// intervals or 20 rows, whichever comes first, mirroring the batching
// shape used by pkg/logging's DBSink.
func DefaultConfig() Config {
	return Config{
		BatchSize:        20,
		FlushInterval:    5 * time.Second,
		MaxRetries:       3,
		RetryBackoffBase: time.Second,
	}
}

// Writer batches RowData into sheet rows and appends them via a Client,
// retrying transient failures and spooling permanent ones.
type Writer struct {
	client Client
	cfg    Config
	logger logging.Logger

	rowChan   chan RowData
	flushChan chan chan error
	done      chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWriter starts a Writer's background batching goroutine.
func NewWriter(client Client, cfg Config, logger logging.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}

	w := &Writer{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		rowChan:   make(chan RowData, cfg.BatchSize*4),
		flushChan: make(chan chan error),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue queues one row for asynchronous batched writing. If the
// internal buffer is full the row is dropped with a logged warning —
// this mirrors DBSink's own overload behavior, since a spreadsheet row
// is an observational record, not a delivery guarantee the rest of the
// pipeline depends on.
func (w *Writer) Enqueue(d RowData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.rowChan <- d:
	default:
		w.logWarn("sheets: buffer full, dropping row", logging.F("file_id", d.FileID))
	}
}

// Flush blocks until all currently queued rows have been written or
// spooled.
func (w *Writer) Flush(ctx context.Context) error {
	errChan := make(chan error, 1)
	select {
	case w.flushChan <- errChan:
		select {
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background goroutine after flushing pending rows.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]RowData, 0, w.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := w.writeBatchWithRetry(batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case d := <-w.rowChan:
			batch = append(batch, d)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case errChan := <-w.flushChan:
			for queued := true; queued; {
				select {
				case d := <-w.rowChan:
					batch = append(batch, d)
					if len(batch) >= w.cfg.BatchSize {
						flush()
					}
				default:
					queued = false
				}
			}
			errChan <- flush()
		case <-w.done:
			drained := true
			for drained {
				select {
				case d := <-w.rowChan:
					batch = append(batch, d)
					if len(batch) >= w.cfg.BatchSize {
						flush()
					}
				default:
					drained = false
				}
			}
			flush()
			return
		}
	}
}

// writeBatchWithRetry appends batch, retrying with exponential backoff
// up to cfg.MaxRetries times before spooling every row in the batch to
// the dead-letter file.
func (w *Writer) writeBatchWithRetry(batch []RowData) error {
	rows := make([]Row, len(batch))
	for i, d := range batch {
		rows[i] = BuildRow(d)
	}

	backoff := w.cfg.RetryBackoffBase
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.client.AppendRows(ctx, w.cfg.SheetName, rows)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		w.logWarn("sheets: append failed, retrying", logging.F("attempt", attempt+1), logging.F("error", err.Error()))
	}

	w.logWarn("sheets: batch permanently failed, spooling to dead-letter file", logging.F("rows", len(batch)), logging.F("error", lastErr.Error()))
	if err := w.spool(batch); err != nil {
		w.logWarn("sheets: dead-letter spool failed", logging.F("error", err.Error()))
	}
	return lastErr
}

func (w *Writer) spool(batch []RowData) error {
	if w.cfg.DeadLetterPath == "" {
		return fmt.Errorf("sheets: no dead-letter path configured, %d rows lost", len(batch))
	}
	f, err := os.OpenFile(w.cfg.DeadLetterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening dead-letter file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding dead-letter row: %w", err)
		}
	}
	return nil
}

func (w *Writer) logWarn(msg string, fields ...logging.Field) {
	if w.logger != nil {
		w.logger.Warn(msg, fields...)
	}
}
