package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/archive"
	"github.com/otherjamesbrown/metacam-ingest/pkg/audit"
	"github.com/otherjamesbrown/metacam-ingest/pkg/downloader"
	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
	"github.com/otherjamesbrown/metacam-ingest/pkg/processing"
	"github.com/otherjamesbrown/metacam-ingest/pkg/sheets"
	"github.com/otherjamesbrown/metacam-ingest/pkg/tracker"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

const testMetadata = `record:
  start_time: "2026-01-01T00:00:00Z"
  duration: 300
  location:
    lat: 37.7749
    lon: -122.4194
`

const testDeviceInfo = `{"model":"X1","SN":"ABC123"}`

func writeFakePackage(t *testing.T, root string, valid bool) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "info"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "metadata.yaml"), []byte(testMetadata), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "info", "device_info.json"), []byte(testDeviceInfo), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Preview.pcd"), []byte("fake pcd"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = valid
}

type fakeDownloader struct {
	err error
}

func (f *fakeDownloader) Download(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, []byte("fake archive"), 0o644)
}

type fakeValidator struct {
	result validation.Result
	err    error
}

func (f *fakeValidator) Validate(rootPath, format string, level validation.Level) (validation.Result, error) {
	return f.result, f.err
}

type fakeProcessor struct {
	outcome processing.Outcome
	err     error
}

func (f *fakeProcessor) ProcessWithRetry(ctx context.Context, packageRoot, packageName string, outdoor bool, widthM, heightM float64) (processing.Outcome, error) {
	return f.outcome, f.err
}

type fakeTracker struct {
	mu      sync.Mutex
	seen    map[string]bool
	marked  []tracker.Record
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{seen: map[string]bool{}}
}

func (f *fakeTracker) Seen(remoteID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[remoteID]
}

func (f *fakeTracker) Mark(remoteID string, rec tracker.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[remoteID] = true
	f.marked = append(f.marked, rec)
	return nil
}

type fakeSheets struct {
	mu   sync.Mutex
	rows []sheets.RowData
}

func (f *fakeSheets) Enqueue(d sheets.RowData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, d)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(ctx context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func makeExtract(t *testing.T, valid bool) ExtractFunc {
	return func(path string, opts archive.Options) (*archive.ExtractedPackage, error) {
		root := t.TempDir()
		writeFakePackage(t, root, valid)
		return &archive.ExtractedPackage{RootPath: root}, nil
	}
}

func baseDeps(t *testing.T) (Deps, *fakeTracker, *fakeSheets, *fakeAudit) {
	tr := newFakeTracker()
	sh := &fakeSheets{}
	au := &fakeAudit{}
	deps := Deps{
		Downloader: &fakeDownloader{},
		Extract:    makeExtract(t, true),
		Validator: &fakeValidator{result: validation.Result{
			IsValid:       true,
			Score:         95,
			ValidatorType: "metacam",
			Summary:       "ok",
		}},
		Processor: &fakeProcessor{outcome: processing.Outcome{
			GeneratorExitCode: 0,
			CLIExitCode:       0,
			ZipPath:           "/tmp/out.zip",
		}},
		Tracker: tr,
		Sheets:  sh,
		Audit:   au,
	}
	return deps, tr, sh, au
}

func TestProcess_SuccessfulRunReachesDone(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	if out.FinalState != StateDone {
		t.Fatalf("expected StateDone, got %s (stage=%s reason=%s)", out.FinalState, out.Stage, out.Reason)
	}
	if out.Outdoor == nil || !*out.Outdoor {
		t.Error("expected outdoor to be true from re-parsed metadata")
	}
	if out.DeviceModel != "X1" || out.DeviceSerial != "ABC123" {
		t.Errorf("expected device fields from re-parsed metadata, got %s/%s", out.DeviceModel, out.DeviceSerial)
	}
	if out.ProcessedPackagePath != "/tmp/out.zip" {
		t.Errorf("expected processed package path to be carried through, got %q", out.ProcessedPackagePath)
	}
}

func TestProcess_PopulatesSheetRowFieldsFromCaptureContextAndTransientMetrics(t *testing.T) {
	deps, _, sh, _ := baseDeps(t)
	deps.Validator = &fakeValidator{result: validation.Result{
		IsValid:       true,
		Score:         88.5,
		ValidatorType: "Pipeline(MetaCam+Transient)",
		Summary:       "ok",
		Metadata: map[string]any{
			"transient": map[string]any{
				"decision": "PASS",
				"metrics": map[string]any{
					"wdd": 0.5,
					"wpo": 0.4,
					"sai": 2.0,
				},
			},
		},
	}}
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1.zip"})
	if out.FinalState != StateDone {
		t.Fatalf("expected StateDone, got %s (stage=%s reason=%s)", out.FinalState, out.Stage, out.Reason)
	}
	if out.DeviceID != "X1-ABC123" {
		t.Errorf("expected device id X1-ABC123, got %q", out.DeviceID)
	}
	if out.WDD == nil || *out.WDD != 0.5 || out.WPO == nil || *out.WPO != 0.4 || out.SAI == nil || *out.SAI != 2.0 {
		t.Errorf("expected transient metrics carried through, got wdd=%v wpo=%v sai=%v", out.WDD, out.WPO, out.SAI)
	}
	if out.ExtractStatus != "extracted" {
		t.Errorf("expected extract status 'extracted', got %q", out.ExtractStatus)
	}
	if out.FileType != "zip" {
		t.Errorf("expected file type 'zip', got %q", out.FileType)
	}

	o.record(context.Background(), out)
	if len(sh.rows) != 1 {
		t.Fatalf("expected one enqueued row, got %d", len(sh.rows))
	}
	row := sh.rows[0]
	if row.FileID != "r1" || row.FileName != "pkg1.zip" {
		t.Errorf("expected file id/name carried through, got %q/%q", row.FileID, row.FileName)
	}
	if row.DeviceID != "X1-ABC123" {
		t.Errorf("expected row device id X1-ABC123, got %q", row.DeviceID)
	}
	if row.WDD == nil || *row.WDD != 0.5 {
		t.Errorf("expected row WDD 0.5, got %v", row.WDD)
	}
}

func TestProcess_AlreadySeenSkipsAndReturnsDone(t *testing.T) {
	deps, tr, _, _ := baseDeps(t)
	tr.seen["r1"] = true
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	if out.FinalState != StateDone {
		t.Fatalf("expected StateDone for an already-seen remote id, got %s", out.FinalState)
	}
}

func TestProcess_DownloadFailureFailsAtDownloadingStage(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	deps.Downloader = &fakeDownloader{err: errors.New("network unreachable")}
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	if out.FinalState != StateFailed || out.Stage != string(StateDownloading) {
		t.Fatalf("expected FAILED at DOWNLOADING, got %s at %s", out.FinalState, out.Stage)
	}
}

func TestProcess_ValidationFailureFailsAtValidatingStage(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	deps.Validator = &fakeValidator{result: validation.Result{
		IsValid:       false,
		Score:         10,
		ValidatorType: "metacam",
		Summary:       "corrupt point cloud",
	}}
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	if out.FinalState != StateFailed || out.Stage != string(StateValidating) {
		t.Fatalf("expected FAILED at VALIDATING, got %s at %s", out.FinalState, out.Stage)
	}
}

func TestProcess_ProcessingFailureFailsAtProcessingStage(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	deps.Processor = &fakeProcessor{err: errors.New("generator binary missing")}
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	if out.FinalState != StateFailed || out.Stage != string(StateProcessing) {
		t.Fatalf("expected FAILED at PROCESSING, got %s at %s", out.FinalState, out.Stage)
	}
}

func TestRecord_WritesSheetRowTrackerMarkAndAuditEntryOnSuccess(t *testing.T) {
	deps, tr, sh, au := baseDeps(t)
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	o.record(context.Background(), out)

	if !tr.Seen("r1") {
		t.Error("expected tracker to be marked")
	}
	if len(sh.rows) != 1 {
		t.Fatalf("expected exactly one sheet row, got %d", len(sh.rows))
	}
	if len(au.entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(au.entries))
	}
}

func TestRecord_FailurePopulatesErrorMessageAndAuditOutcome(t *testing.T) {
	deps, _, sh, au := baseDeps(t)
	deps.Processor = &fakeProcessor{err: errors.New("generator binary missing")}
	o := New(DefaultConfig(), deps)

	out := o.process(context.Background(), drivemonitor.Descriptor{RemoteID: "r1", Name: "pkg1"})
	o.record(context.Background(), out)

	if len(sh.rows) != 1 || sh.rows[0].ErrorMessage == "" {
		t.Fatal("expected a sheet row carrying the failure's error message")
	}
	if len(au.entries) != 1 || au.entries[0].State != string(StateFailed) {
		t.Fatalf("expected an audit entry recording the FAILED state, got %+v", au.entries)
	}
}

func TestRun_RespectsWorkerConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	release := make(chan struct{})

	deps, _, _, _ := baseDeps(t)
	deps.Processor = &fakeProcessor{}
	deps.Validator = &fakeValidator{result: validation.Result{IsValid: true, Score: 95, ValidatorType: "metacam"}}
	deps.Downloader = downloaderFunc(func(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return os.WriteFile(destPath, []byte("x"), 0o644)
	})

	cfg := DefaultConfig()
	cfg.MaxConcurrentDownloads = 2
	o := New(cfg, deps)

	in := make(chan drivemonitor.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx, in)
	}()

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 0; i < 5; i++ {
			in <- drivemonitor.Descriptor{RemoteID: fmt.Sprintf("r%d", i), Name: "pkg"}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	got := maxActive
	mu.Unlock()
	if got > 2 {
		t.Errorf("expected at most 2 concurrent downloads, saw %d", got)
	}

	close(release)
	<-sent
	close(in)
	cancel()
	<-done
}

type downloaderFunc func(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error

func (f downloaderFunc) Download(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error {
	return f(ctx, remoteID, destPath, onProgress)
}
