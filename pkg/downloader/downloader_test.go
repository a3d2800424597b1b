package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeFetcher struct {
	data        []byte
	modTime     time.Time
	failOnce    map[int64]bool
	openCalls   int
}

func (f *fakeFetcher) Stat(ctx context.Context, remoteID string) (RemoteStat, error) {
	return RemoteStat{SizeBytes: int64(len(f.data)), ModifiedTime: f.modTime}, nil
}

func (f *fakeFetcher) OpenRange(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error) {
	f.openCalls++
	if f.failOnce != nil && f.failOnce[offset] {
		delete(f.failOnce, offset)
		return nil, errors.New("transient network error")
	}
	if offset >= int64(len(f.data)) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(f.data[offset:])), nil
}

func TestDownload_FullTransferMatchesSource(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 5000)
	fetcher := &fakeFetcher{data: payload, modTime: time.Now()}
	cfg := DefaultConfig()
	cfg.ChunkSizeBytes = 1000
	d := New(fetcher, cfg, nil)

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	var reports []Progress
	err := d.Download(context.Background(), "r1", dest, func(p Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("downloaded content does not match source")
	}
	if len(reports) == 0 {
		t.Error("expected at least one progress report")
	}
	if reports[len(reports)-1].BytesDone != int64(len(payload)) {
		t.Errorf("expected final report to show full bytes done, got %d", reports[len(reports)-1].BytesDone)
	}
}

func TestDownload_ResumesFromPartialFile(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 3000)
	modTime := time.Now()
	dest := filepath.Join(t.TempDir(), "pkg.zip")

	// Prime a partial file and matching sidecar as if a prior attempt
	// had already fetched the first 1000 bytes.
	if err := os.WriteFile(dest+".part", payload[:1000], 0o644); err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{data: payload, modTime: modTime}
	cfg := DefaultConfig()
	cfg.ChunkSizeBytes = 500
	d := New(fetcher, cfg, nil)
	if err := d.writeSidecar(dest+".meta.json", "r1", RemoteStat{SizeBytes: int64(len(payload)), ModifiedTime: modTime}); err != nil {
		t.Fatal(err)
	}

	if err := d.Download(context.Background(), "r1", dest, nil); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("resumed download does not match the full source content")
	}
	// The remaining bytes must have been fetched from the fetcher.
	if fetcher.openCalls == 0 {
		t.Error("expected the fetcher to be called for the remaining bytes")
	}
}

func TestDownload_StaleSidecarForcesFreshStart(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 2000)
	dest := filepath.Join(t.TempDir(), "pkg.zip")

	if err := os.WriteFile(dest+".part", []byte("stale-partial-content"), 0o644); err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{data: payload, modTime: time.Now()}
	cfg := DefaultConfig()
	d := New(fetcher, cfg, nil)
	// Sidecar records a different size than the fetcher now reports.
	if err := d.writeSidecar(dest+".meta.json", "r1", RemoteStat{SizeBytes: 999, ModifiedTime: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if err := d.Download(context.Background(), "r1", dest, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("expected a stale sidecar to force a fresh, correct download")
	}
}

func TestDownload_RetriesTransientChunkFailure(t *testing.T) {
	payload := bytes.Repeat([]byte("w"), 1500)
	fetcher := &fakeFetcher{data: payload, modTime: time.Now(), failOnce: map[int64]bool{500: true}}
	cfg := DefaultConfig()
	cfg.ChunkSizeBytes = 500
	cfg.RetryBackoffBase = time.Millisecond
	d := New(fetcher, cfg, nil)

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	if err := d.Download(context.Background(), "r1", dest, nil); err != nil {
		t.Fatalf("expected the transient failure to be retried away, got %v", err)
	}
}

func TestDownload_ExhaustedRetriesFail(t *testing.T) {
	payload := bytes.Repeat([]byte("v"), 1000)
	fetcher := &alwaysFailFetcher{size: int64(len(payload))}
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBackoffBase = time.Millisecond
	d := New(fetcher, cfg, nil)

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	if err := d.Download(context.Background(), "r1", dest, nil); err == nil {
		t.Fatal("expected download to fail once retries are exhausted")
	}
}

type alwaysFailFetcher struct {
	size int64
}

func (f *alwaysFailFetcher) Stat(ctx context.Context, remoteID string) (RemoteStat, error) {
	return RemoteStat{SizeBytes: f.size, ModifiedTime: time.Now()}, nil
}

func (f *alwaysFailFetcher) OpenRange(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error) {
	return nil, errors.New("permanent failure")
}
