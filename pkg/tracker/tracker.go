// Package tracker maintains the persistent set of already-processed
// MetaCam package identifiers. The backing file is the sole source of
// truth across restarts; an optional Redis mirror only accelerates
// novelty checks and is never load-bearing.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is one processed-package entry. Re-marking the same RemoteID
// updates this record in place rather than appending a duplicate.
type Record struct {
	RemoteID    string    `json:"remote_id"`
	Name        string    `json:"name"`
	ProcessedAt time.Time `json:"processed_at"`
	Outcome     string    `json:"outcome"`
	Score       float64   `json:"score"`
}

// fileFormat mirrors the persisted-state schema from the external
// interfaces: unknown fields are ignored by encoding/json by default,
// which gives forward compatibility for free.
type fileFormat struct {
	ProcessedFiles []Record  `json:"processed_files"`
	LastCheckTime  time.Time `json:"last_check_time"`
	TotalProcessed int       `json:"total_processed"`
}

// Tracker is the persistent set of processed package identifiers.
type Tracker struct {
	mu         sync.Mutex
	path       string
	retainDays int
	records    map[string]Record
	redis      *redis.Client
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithRedisMirror configures an optional Redis SETNX-guarded mirror at
// addr, consulted before the file on Seen calls. A failure to reach
// Redis never blocks Seen/Mark; it just forgoes the fast path.
func WithRedisMirror(addr string) Option {
	return func(t *Tracker) {
		if addr == "" {
			return
		}
		t.redis = redis.NewClient(&redis.Options{Addr: addr})
	}
}

// New loads the Tracker file at path (creating an empty one if absent)
// and prunes entries older than retainDays.
func New(path string, retainDays int, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		path:       path,
		retainDays: retainDays,
		records:    make(map[string]Record),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.load(); err != nil {
		return nil, fmt.Errorf("tracker: loading %s: %w", path, err)
	}
	t.pruneLocked()
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parsing tracker file: %w", err)
	}
	for _, r := range ff.ProcessedFiles {
		t.records[r.RemoteID] = r
	}
	return nil
}

// pruneLocked removes records older than retainDays. Caller must hold t.mu
// or call only before the Tracker is shared across goroutines (as New does).
func (t *Tracker) pruneLocked() {
	if t.retainDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -t.retainDays)
	for id, r := range t.records {
		if r.ProcessedAt.Before(cutoff) {
			delete(t.records, id)
		}
	}
}

// Seen reports whether remoteID has already been marked processed.
// When a Redis mirror is configured, it is consulted first as a fast
// path; any Redis error falls through to the authoritative file map.
func (t *Tracker) Seen(remoteID string) bool {
	if t.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		exists, err := t.redis.Exists(ctx, redisKey(remoteID)).Result()
		if err == nil && exists > 0 {
			return true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[remoteID]
	return ok
}

// Mark records remoteID as processed with the given record, replacing
// any existing entry for the same id, then persists the file atomically.
func (t *Tracker) Mark(remoteID string, rec Record) error {
	rec.RemoteID = remoteID
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	t.mu.Lock()
	t.records[remoteID] = rec
	err := t.saveLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if t.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		t.redis.SetNX(ctx, redisKey(remoteID), "1", 0)
	}
	return nil
}

// Snapshot returns a copy of all currently tracked records.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// saveLocked writes the tracker file atomically (temp file, fsync,
// rename). Caller must hold t.mu.
func (t *Tracker) saveLocked() error {
	ff := fileFormat{
		LastCheckTime:  time.Now(),
		TotalProcessed: len(t.records),
	}
	for _, r := range t.records {
		ff.ProcessedFiles = append(ff.ProcessedFiles, r)
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tracker file: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating tracker directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracker-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

func redisKey(remoteID string) string {
	return "tracker:seen:" + remoteID
}
