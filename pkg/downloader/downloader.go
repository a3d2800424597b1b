// Package downloader fetches a remote package to local disk in fixed
// size chunks, resuming an interrupted transfer when the local partial
// file still matches the remote's size and modification time.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

const (
	// DefaultChunkSizeBytes is how much is requested per OpenRange call.
	DefaultChunkSizeBytes = 32 * 1024 * 1024
	// DefaultRetries bounds exponential backoff retries per chunk.
	DefaultRetries = 3
	// DefaultTimeout bounds one file's entire download, resumes included.
	DefaultTimeout = 300 * time.Second
)

// RemoteStat is what the remote source reports about one item, used to
// decide whether a local partial file is still resumable.
type RemoteStat struct {
	SizeBytes    int64
	ModifiedTime time.Time
}

// Fetcher is the external collaborator this package depends on for
// actual byte transfer. A concrete implementation talks to the remote
// drive API; tests use a fake in this package's own test files.
type Fetcher interface {
	Stat(ctx context.Context, remoteID string) (RemoteStat, error)
	// OpenRange returns a reader starting at offset bytes into the
	// remote item. The caller closes it after reading one chunk.
	OpenRange(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error)
}

// Progress is one point-in-time download progress report.
type Progress struct {
	RemoteID    string
	BytesDone   int64
	BytesTotal  int64
	BytesPerSec float64
	ETASeconds  float64
}

// ProgressFunc receives progress reports as a download proceeds. It may
// be nil.
type ProgressFunc func(Progress)

// Config configures a Downloader.
type Config struct {
	ChunkSizeBytes   int64
	MaxRetries       int
	RetryBackoffBase time.Duration
	Timeout          time.Duration

	// RedisAddr, when set, additionally publishes every Progress report
	// as JSON on the "progress:<remote_id>" channel so an external
	// dashboard can observe long transfers without polling this
	// process. Purely additive: a publish failure never affects the
	// download itself.
	RedisAddr string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSizeBytes:   DefaultChunkSizeBytes,
		MaxRetries:       DefaultRetries,
		RetryBackoffBase: time.Second,
		Timeout:          DefaultTimeout,
	}
}

// sidecarMeta is persisted next to a partial download so a later resume
// can tell whether the remote item has changed since the partial file
// was started.
type sidecarMeta struct {
	RemoteID     string    `json:"remote_id"`
	SizeBytes    int64     `json:"size_bytes"`
	ModifiedTime time.Time `json:"modified_time"`
}

// Downloader fetches remote items to local disk.
type Downloader struct {
	fetcher   Fetcher
	cfg       Config
	logger    logging.Logger
	publisher progressPublisher
}

// New returns a Downloader. If cfg.RedisAddr is set, progress reports
// are additionally published there; a publish failure is logged and
// otherwise ignored.
func New(fetcher Fetcher, cfg Config, logger logging.Logger) *Downloader {
	if cfg.ChunkSizeBytes <= 0 {
		cfg.ChunkSizeBytes = DefaultChunkSizeBytes
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetries
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Downloader{fetcher: fetcher, cfg: cfg, logger: logger}
	if cfg.RedisAddr != "" {
		d.publisher = newRedisPublisher(cfg.RedisAddr)
	}
	return d
}

// Download fetches remoteID into destPath, resuming from
// destPath+".part" when a prior attempt left one that still matches the
// remote's current size and modification time. onProgress may be nil.
func (d *Downloader) Download(ctx context.Context, remoteID, destPath string, onProgress ProgressFunc) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	stat, err := d.fetcher.Stat(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("downloader: stat %s: %w", remoteID, err)
	}

	partPath := destPath + ".part"
	sidecarPath := destPath + ".meta.json"

	offset, err := d.resumeOffset(remoteID, stat, partPath, sidecarPath)
	if err != nil {
		return err
	}

	if err := d.writeSidecar(sidecarPath, remoteID, stat); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("downloader: opening partial file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	bytesDone := offset
	for bytesDone < stat.SizeBytes {
		select {
		case <-ctx.Done():
			return fmt.Errorf("downloader: %s: %w", remoteID, ctx.Err())
		default:
		}

		n, err := d.fetchChunkWithRetry(ctx, remoteID, bytesDone, f)
		if err != nil {
			return err
		}
		bytesDone += n

		elapsed := time.Since(start).Seconds()
		var rate, eta float64
		if elapsed > 0 {
			rate = float64(bytesDone-offset) / elapsed
		}
		if rate > 0 {
			eta = float64(stat.SizeBytes-bytesDone) / rate
		}
		p := Progress{RemoteID: remoteID, BytesDone: bytesDone, BytesTotal: stat.SizeBytes, BytesPerSec: rate, ETASeconds: eta}
		if onProgress != nil {
			onProgress(p)
		}
		d.publish(ctx, p)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("downloader: closing partial file: %w", err)
	}

	info, err := os.Stat(partPath)
	if err != nil {
		return fmt.Errorf("downloader: stat partial file: %w", err)
	}
	if info.Size() != stat.SizeBytes {
		return fmt.Errorf("downloader: size mismatch for %s: got %d bytes, expected %d", remoteID, info.Size(), stat.SizeBytes)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("downloader: finalizing %s: %w", destPath, err)
	}
	os.Remove(sidecarPath)
	return nil
}

// resumeOffset decides where to continue from: 0 for a fresh download,
// or the partial file's current size when it and its sidecar agree with
// the remote's current stat.
func (d *Downloader) resumeOffset(remoteID string, stat RemoteStat, partPath, sidecarPath string) (int64, error) {
	partInfo, err := os.Stat(partPath)
	if err != nil {
		return 0, nil
	}

	sidecarData, err := os.ReadFile(sidecarPath)
	if err != nil {
		return 0, nil
	}
	var meta sidecarMeta
	if err := json.Unmarshal(sidecarData, &meta); err != nil {
		return 0, nil
	}

	if meta.RemoteID != remoteID || meta.SizeBytes != stat.SizeBytes || !meta.ModifiedTime.Equal(stat.ModifiedTime) {
		return 0, nil
	}
	if partInfo.Size() > stat.SizeBytes {
		return 0, nil
	}

	d.logInfo("downloader: resuming partial file", logging.F("remote_id", remoteID), logging.F("offset", partInfo.Size()))
	return partInfo.Size(), nil
}

func (d *Downloader) writeSidecar(path, remoteID string, stat RemoteStat) error {
	data, err := json.Marshal(sidecarMeta{RemoteID: remoteID, SizeBytes: stat.SizeBytes, ModifiedTime: stat.ModifiedTime})
	if err != nil {
		return fmt.Errorf("downloader: marshaling sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("downloader: writing sidecar: %w", err)
	}
	return nil
}

// fetchChunkWithRetry reads one chunk starting at offset and appends it
// to f, retrying with exponential backoff up to cfg.MaxRetries times on
// a transient read error.
func (d *Downloader) fetchChunkWithRetry(ctx context.Context, remoteID string, offset int64, f *os.File) (int64, error) {
	backoff := d.cfg.RetryBackoffBase
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			backoff *= 2
		}

		n, err := d.fetchChunk(ctx, remoteID, offset, f)
		if err == nil {
			return n, nil
		}
		lastErr = err
		d.logInfo("downloader: chunk fetch failed, retrying", logging.F("remote_id", remoteID), logging.F("offset", offset), logging.F("attempt", attempt+1), logging.F("error", err.Error()))
	}

	return 0, fmt.Errorf("downloader: %s: chunk at offset %d failed after %d attempts: %w", remoteID, offset, d.cfg.MaxRetries+1, lastErr)
}

func (d *Downloader) fetchChunk(ctx context.Context, remoteID string, offset int64, f *os.File) (int64, error) {
	r, err := d.fetcher.OpenRange(ctx, remoteID, offset)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.CopyN(f, r, d.cfg.ChunkSizeBytes)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}

func (d *Downloader) publish(ctx context.Context, p Progress) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, p); err != nil {
		d.logInfo("downloader: progress publish failed", logging.F("remote_id", p.RemoteID), logging.F("error", err.Error()))
	}
}

func (d *Downloader) logInfo(msg string, fields ...logging.Field) {
	if d.logger != nil {
		d.logger.Info(msg, fields...)
	}
}
