// Package drivemonitor polls a remote folder at a fixed interval and
// yields descriptors for items the Tracker has not seen before. The
// remote drive SDK itself is an external collaborator: this package
// only defines the DriveClient contract it needs, never a concrete
// Google Drive implementation.
package drivemonitor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// RemoteItem is one entry returned by a DriveClient listing.
type RemoteItem struct {
	RemoteID     string
	Name         string
	SizeBytes    int64
	ModifiedTime time.Time
}

// DriveClient is the external collaborator this package depends on. A
// concrete implementation talks to the real remote drive API; tests use
// the fakedrive double in this package's own test files.
type DriveClient interface {
	// List returns every item currently visible in the monitored folder.
	List(ctx context.Context) ([]RemoteItem, error)
}

// SeenChecker is the subset of pkg/tracker.Tracker this package needs.
// A remote id is considered already handled once it has been marked, so
// the monitor never has to track its own separate dedup state beyond
// the single-process-lifetime guarantee below.
type SeenChecker interface {
	Seen(remoteID string) bool
}

// Descriptor is what the monitor yields for one unseen remote item.
type Descriptor struct {
	RemoteID     string
	Name         string
	SizeBytes    int64
	ModifiedTime time.Time
}

// Config configures a Monitor.
type Config struct {
	CheckInterval      time.Duration
	AllowedExtensions  []string
	MaxFileSizeBytes   int64
}

// DefaultConfig returns the documented defaults: a 30s poll interval and
// no extension or size filtering.
func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second}
}

// Monitor polls a DriveClient and emits Descriptors for new items.
type Monitor struct {
	client  DriveClient
	tracker SeenChecker
	cfg     Config
	logger  logging.Logger

	// emitted guards the single-descriptor-per-remote-id-per-lifetime
	// guarantee independently of the Tracker: an item can be listed
	// again on the next poll before its pipeline has finished (and
	// therefore before Tracker.Mark has been called for it), and it
	// must not be re-emitted in that window.
	emitted map[string]struct{}
}

// New returns a Monitor. tracker may be nil, in which case only the
// in-process emitted-once guarantee applies (used by --file mode, which
// never consults the monitor at all, and by tests).
func New(client DriveClient, tracker SeenChecker, cfg Config, logger logging.Logger) *Monitor {
	return &Monitor{
		client:  client,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		emitted: make(map[string]struct{}),
	}
}

// PollOnce lists the remote folder once and returns descriptors for
// every item that passes the extension/size filters and has not already
// been seen by the Tracker or emitted earlier in this process's
// lifetime. A DriveClient error is returned to the caller, which is
// expected to back off and retry on the next tick — PollOnce itself
// never retries.
func (m *Monitor) PollOnce(ctx context.Context) ([]Descriptor, error) {
	items, err := m.client.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, item := range items {
		if _, already := m.emitted[item.RemoteID]; already {
			continue
		}
		if m.tracker != nil && m.tracker.Seen(item.RemoteID) {
			m.emitted[item.RemoteID] = struct{}{}
			continue
		}
		if !m.passesFilters(item) {
			continue
		}

		m.emitted[item.RemoteID] = struct{}{}
		out = append(out, Descriptor{
			RemoteID:     item.RemoteID,
			Name:         item.Name,
			SizeBytes:    item.SizeBytes,
			ModifiedTime: item.ModifiedTime,
		})
	}
	return out, nil
}

func (m *Monitor) passesFilters(item RemoteItem) bool {
	if len(m.cfg.AllowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(item.Name))
		found := false
		for _, allowed := range m.cfg.AllowedExtensions {
			if strings.ToLower(allowed) == ext {
				found = true
				break
			}
		}
		if !found {
			m.logInfo("drive monitor: filtered by extension", logging.F("remote_id", item.RemoteID), logging.F("name", item.Name))
			return false
		}
	}
	if m.cfg.MaxFileSizeBytes > 0 && item.SizeBytes > m.cfg.MaxFileSizeBytes {
		m.logInfo("drive monitor: filtered by size", logging.F("remote_id", item.RemoteID), logging.F("size_bytes", item.SizeBytes))
		return false
	}
	return true
}

func (m *Monitor) logInfo(msg string, fields ...logging.Field) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

// Run polls at cfg.CheckInterval until ctx is canceled, sending each
// poll's descriptors to out. An SDK (DriveClient) error backs off and
// continues rather than stopping the loop; the interval itself is used
// as the backoff, matching a plain fixed-interval retry.
func (m *Monitor) Run(ctx context.Context, out chan<- Descriptor) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			descriptors, err := m.PollOnce(ctx)
			if err != nil {
				m.logInfo("drive monitor: poll failed, backing off", logging.F("error", err.Error()))
				continue
			}
			for _, d := range descriptors {
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
