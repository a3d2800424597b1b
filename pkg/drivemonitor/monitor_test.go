package drivemonitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeDrive is a scriptable DriveClient test double. Each call to List
// pops the next scripted response, repeating the last one once
// exhausted.
type fakeDrive struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	items []RemoteItem
	err   error
}

func (f *fakeDrive) List(ctx context.Context) ([]RemoteItem, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return r.items, r.err
}

type fakeSeen struct {
	seen map[string]bool
}

func (f *fakeSeen) Seen(remoteID string) bool { return f.seen[remoteID] }

func TestPollOnce_YieldsUnseenItems(t *testing.T) {
	drive := &fakeDrive{responses: []fakeResponse{{items: []RemoteItem{
		{RemoteID: "a", Name: "pkg-a.zip", SizeBytes: 100},
		{RemoteID: "b", Name: "pkg-b.zip", SizeBytes: 200},
	}}}}
	tracker := &fakeSeen{seen: map[string]bool{"a": true}}

	m := New(drive, tracker, DefaultConfig(), nil)
	descriptors, err := m.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 1 || descriptors[0].RemoteID != "b" {
		t.Errorf("expected only unseen item b, got %+v", descriptors)
	}
}

func TestPollOnce_NeverReemitsWithinProcessLifetime(t *testing.T) {
	drive := &fakeDrive{responses: []fakeResponse{{items: []RemoteItem{
		{RemoteID: "a", Name: "pkg-a.zip"},
	}}}}
	m := New(drive, &fakeSeen{seen: map[string]bool{}}, DefaultConfig(), nil)

	first, err := m.PollOnce(context.Background())
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one descriptor on first poll, got %v, err=%v", first, err)
	}

	second, err := m.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("expected the same remote id to never be re-emitted, got %+v", second)
	}
}

func TestPollOnce_FiltersByExtensionAndSize(t *testing.T) {
	drive := &fakeDrive{responses: []fakeResponse{{items: []RemoteItem{
		{RemoteID: "a", Name: "notes.txt", SizeBytes: 10},
		{RemoteID: "b", Name: "pkg.zip", SizeBytes: 5 * 1024 * 1024},
		{RemoteID: "c", Name: "huge.zip", SizeBytes: 500 * 1024 * 1024},
	}}}}
	cfg := Config{
		CheckInterval:     time.Second,
		AllowedExtensions: []string{".zip"},
		MaxFileSizeBytes:  10 * 1024 * 1024,
	}
	m := New(drive, &fakeSeen{seen: map[string]bool{}}, cfg, nil)

	descriptors, err := m.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 1 || descriptors[0].RemoteID != "b" {
		t.Errorf("expected only b to pass both filters, got %+v", descriptors)
	}
}

func TestPollOnce_SDKErrorPropagatesForCallerBackoff(t *testing.T) {
	drive := &fakeDrive{responses: []fakeResponse{{err: errors.New("sdk unavailable")}}}
	m := New(drive, &fakeSeen{}, DefaultConfig(), nil)

	if _, err := m.PollOnce(context.Background()); err == nil {
		t.Fatal("expected the SDK error to propagate")
	}
}

func TestRun_ContinuesAfterSDKError(t *testing.T) {
	drive := &fakeDrive{responses: []fakeResponse{
		{err: errors.New("transient sdk error")},
		{items: []RemoteItem{{RemoteID: "a", Name: "pkg.zip"}}},
	}}
	cfg := Config{CheckInterval: 10 * time.Millisecond}
	m := New(drive, &fakeSeen{}, cfg, nil)

	out := make(chan Descriptor, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go m.Run(ctx, out)

	select {
	case d := <-out:
		if d.RemoteID != "a" {
			t.Errorf("expected descriptor a, got %+v", d)
		}
	case <-ctx.Done():
		t.Fatal("expected a descriptor to be emitted after the transient error recovered")
	}
}
