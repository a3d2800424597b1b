// Package localdrive is the default drive/sheets collaborator wired by
// internal/wiring when no cloud SDK is configured. spec.md treats the cloud
// drive and spreadsheet SDKs as external collaborators the core only
// depends on through pkg/drivemonitor.DriveClient, pkg/downloader.Fetcher,
// and pkg/sheets.Client — this package satisfies all three against a
// plain local directory and CSV file, so the binary runs end to end
// without a Google Drive/Sheets credential on hand. A deployment with a
// real service account wires its own DriveClient/Fetcher/Client instead.
package localdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/otherjamesbrown/metacam-ingest/pkg/downloader"
	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
)

// Drive lists and serves files out of a local directory, standing in
// for the cloud drive folder named by DRIVE_FOLDER_ID.
type Drive struct {
	root string
}

// NewDrive returns a Drive rooted at dir. dir is created if it does not
// already exist.
func NewDrive(dir string) (*Drive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localdrive: creating root %s: %w", dir, err)
	}
	return &Drive{root: dir}, nil
}

// List implements drivemonitor.DriveClient by returning one RemoteItem
// per regular file directly under root. RemoteID is the file's base
// name, since names are unique within a single flat drop folder.
func (d *Drive) List(ctx context.Context) ([]drivemonitor.RemoteItem, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("localdrive: listing %s: %w", d.root, err)
	}

	items := make([]drivemonitor.RemoteItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, drivemonitor.RemoteItem{
			RemoteID:     entry.Name(),
			Name:         entry.Name(),
			SizeBytes:    info.Size(),
			ModifiedTime: info.ModTime(),
		})
	}
	return items, nil
}

// Stat implements downloader.Fetcher.
func (d *Drive) Stat(ctx context.Context, remoteID string) (downloader.RemoteStat, error) {
	info, err := os.Stat(filepath.Join(d.root, remoteID))
	if err != nil {
		return downloader.RemoteStat{}, err
	}
	return downloader.RemoteStat{SizeBytes: info.Size(), ModifiedTime: info.ModTime()}, nil
}

// OpenRange implements downloader.Fetcher.
func (d *Drive) OpenRange(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.root, remoteID))
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
