// Package orchestrator runs each observed package through its
// download -> extract -> validate -> process -> record state machine,
// bounded by a fixed worker pool, and wires every other package in this
// module together: Tracker, Downloader, Archive, Validation, Processing,
// Sheets, Audit, Notify, Metrics, and Tracing.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/archive"
	"github.com/otherjamesbrown/metacam-ingest/pkg/audit"
	"github.com/otherjamesbrown/metacam-ingest/pkg/downloader"
	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
	ingesterrors "github.com/otherjamesbrown/metacam-ingest/pkg/errors"
	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
	"github.com/otherjamesbrown/metacam-ingest/pkg/metadatadesc"
	"github.com/otherjamesbrown/metacam-ingest/pkg/metrics"
	"github.com/otherjamesbrown/metacam-ingest/pkg/notify"
	"github.com/otherjamesbrown/metacam-ingest/pkg/pointcloud"
	"github.com/otherjamesbrown/metacam-ingest/pkg/processing"
	"github.com/otherjamesbrown/metacam-ingest/pkg/sheets"
	"github.com/otherjamesbrown/metacam-ingest/pkg/tracing"
	"github.com/otherjamesbrown/metacam-ingest/pkg/tracker"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

// Downloader is the subset of *downloader.Downloader this package calls.
type Downloader interface {
	Download(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error
}

// ExtractFunc mirrors archive.Inspect's signature so tests can inject a
// fake extractor without touching real archives.
type ExtractFunc func(path string, opts archive.Options) (*archive.ExtractedPackage, error)

// Validator is the subset of *manager.Manager this package calls.
type Validator interface {
	Validate(rootPath, format string, level validation.Level) (validation.Result, error)
}

// Processor is the subset of *processing.Driver this package calls.
type Processor interface {
	ProcessWithRetry(ctx context.Context, packageRoot, packageName string, outdoor bool, widthM, heightM float64) (processing.Outcome, error)
}

// TrackerClient is the subset of *tracker.Tracker this package calls.
type TrackerClient interface {
	Seen(remoteID string) bool
	Mark(remoteID string, rec tracker.Record) error
}

// SheetsWriter is the subset of *sheets.Writer this package calls.
type SheetsWriter interface {
	Enqueue(d sheets.RowData)
}

// AuditRecorder is the subset of *audit.Repository this package calls.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Config configures an Orchestrator.
type Config struct {
	MaxConcurrentDownloads int
	DrainTimeout           time.Duration

	ScratchDir          string
	DownloadDir         string
	MaxArchiveSizeBytes int64
	ArchivePasswords    []string

	Format          string
	ValidationLevel validation.Level

	EnableEmailNotifications bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: 3,
		DrainTimeout:           60 * time.Second,
		Format:                 "metacam",
		ValidationLevel:        validation.LevelStandard,
	}
}

// Deps bundles every collaborator the Orchestrator wires together.
type Deps struct {
	Downloader Downloader
	Extract    ExtractFunc
	Validator  Validator
	Processor  Processor
	Tracker    TrackerClient
	Sheets     SheetsWriter
	Audit      AuditRecorder
	Notifier   notify.Notifier
	Logger     logging.Logger
}

// Orchestrator runs the per-package state machine across a bounded
// worker pool, grounded on the same fixed-worker-count shape used by
// this module's other queue-backed pools.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New returns an Orchestrator. A nil deps.Notifier is treated as
// notify.NopNotifier{}.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 3
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 60 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = "metacam"
	}
	if cfg.ValidationLevel == "" {
		cfg.ValidationLevel = validation.LevelStandard
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopNotifier{}
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Run starts cfg.MaxConcurrentDownloads workers consuming descriptors
// from in, until in is closed or ctx is canceled. On cancellation, Run
// stops accepting new descriptors, waits up to cfg.DrainTimeout for
// in-flight packages to reach a terminal state, then returns —
// in-flight subprocesses are aborted by their own context-aware
// SIGTERM/SIGKILL handling in pkg/processing once each worker's context
// is canceled.
func (o *Orchestrator) Run(ctx context.Context, in <-chan drivemonitor.Descriptor) {
	p := newPool(o.cfg.MaxConcurrentDownloads, o.cfg.DrainTimeout)
	p.start(in, func(workerCtx context.Context, d drivemonitor.Descriptor) bool {
		return o.processOne(workerCtx, d)
	})

	util := time.NewTicker(5 * time.Second)
	defer util.Stop()
	go func() {
		for {
			select {
			case <-util.C:
				p.reportUtilization()
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	p.stop()
}

func (o *Orchestrator) processOne(ctx context.Context, d drivemonitor.Descriptor) bool {
	metrics.InflightPackages.Inc()
	defer metrics.InflightPackages.Dec()

	outcome := o.process(ctx, d)
	o.record(ctx, outcome)
	return outcome.FinalState != StateFailed
}

// process runs one package through the full state machine, returning a
// terminal Outcome regardless of where it stopped.
func (o *Orchestrator) process(ctx context.Context, d drivemonitor.Descriptor) Outcome {
	out := Outcome{RemoteID: d.RemoteID, Name: d.Name}

	if o.deps.Tracker != nil && o.deps.Tracker.Seen(d.RemoteID) {
		out.FinalState = StateDone
		return out
	}

	out.UploadTime = d.ModifiedTime.UTC().Format(time.RFC3339)
	out.FileType = strings.TrimPrefix(filepath.Ext(d.Name), ".")

	archivePath := filepath.Join(o.downloadDir(), d.RemoteID+".zip")
	if err := o.runStage(ctx, d.RemoteID, string(StateDownloading), func(ctx context.Context) error {
		return o.deps.Downloader.Download(ctx, d.RemoteID, archivePath, nil)
	}); err != nil {
		out.ExtractStatus = "not_attempted"
		return o.fail(out, StateDownloading, err)
	}

	var extracted *archive.ExtractedPackage
	if err := o.runStage(ctx, d.RemoteID, string(StateExtracting), func(ctx context.Context) error {
		var err error
		extracted, err = o.deps.Extract(archivePath, archive.Options{
			ScratchDir:          o.cfg.ScratchDir,
			MaxArchiveSizeBytes: o.cfg.MaxArchiveSizeBytes,
			Passwords:           o.cfg.ArchivePasswords,
		})
		return err
	}); err != nil {
		out.ExtractStatus = "failed"
		return o.fail(out, StateExtracting, err)
	}
	defer os.RemoveAll(extracted.RootPath)

	out.ExtractStatus = "extracted"
	fileCount := len(extracted.Files)
	out.FileCount = &fileCount
	sizeMiB := float64(extracted.TotalBytes) / (1 << 20)
	out.FileSizeMiB = &sizeMiB
	out.SizeStatus = archive.SizeStatus(extracted.TotalBytes)
	if len(extracted.Warnings) > 0 {
		out.WarningMessage = strings.Join(extracted.Warnings, "; ")
	}

	var result validation.Result
	if err := o.runStage(ctx, d.RemoteID, string(StateValidating), func(ctx context.Context) error {
		var err error
		result, err = o.deps.Validator.Validate(extracted.RootPath, o.cfg.Format, o.cfg.ValidationLevel)
		return err
	}); err != nil {
		return o.fail(out, StateValidating, err)
	}
	metrics.ValidationOutcomesTotal.WithLabelValues(result.ValidatorType, validationResultLabel(result.IsValid)).Inc()
	score := result.Score
	out.ValidationScore = &score
	valid := result.IsValid
	out.IsValid = &valid
	if td, ok := result.Metadata["transient"].(map[string]any); ok {
		if decision, ok := td["decision"]; ok {
			out.TransientDecision = fmt.Sprintf("%v", decision)
		}
		if metrics, ok := td["metrics"].(map[string]any); ok {
			out.WDD = floatMetric(metrics["wdd"])
			out.WPO = floatMetric(metrics["wpo"])
			out.SAI = floatMetric(metrics["sai"])
		}
	}
	populateCaptureContext(&out, extracted.RootPath)
	if !result.IsValid {
		return o.fail(out, StateValidating, fmt.Errorf("package failed validation: %s", result.Summary))
	}

	scene := processing.SelectSceneType(boolValue(out.Outdoor), floatValue(out.WidthM), floatValue(out.HeightM))
	out.SceneType = sceneLabel(scene)

	var procOutcome processing.Outcome
	if err := o.runStage(ctx, d.RemoteID, string(StateProcessing), func(ctx context.Context) error {
		var err error
		procOutcome, err = o.deps.Processor.ProcessWithRetry(ctx, extracted.RootPath, d.Name, boolValue(out.Outdoor), floatValue(out.WidthM), floatValue(out.HeightM))
		return err
	}); err != nil {
		if procOutcome.LogTail != "" {
			out.Notes = procOutcome.LogTail
		}
		return o.fail(out, StateProcessing, err)
	}
	processSecs := procOutcome.StageDurations.Generator + procOutcome.StageDurations.CLI + procOutcome.StageDurations.Postprocess
	out.ProcessTimeSecs = &processSecs
	out.ProcessedPackagePath = procOutcome.ZipPath
	if len(procOutcome.MissingOutputs) > 0 {
		out.Notes = fmt.Sprintf("missing outputs: %s", strings.Join(procOutcome.MissingOutputs, ", "))
	}

	out.FinalState = StateDone
	return out
}

// floatMetric converts an untyped metadata value into a *float64,
// returning nil when it isn't numeric.
func floatMetric(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// runStage wraps one stage in a trace span and duration histogram.
func (o *Orchestrator) runStage(ctx context.Context, remoteID, stage string, fn func(context.Context) error) error {
	stageCtx, finish := tracing.StartStage(ctx, remoteID, stage)
	start := time.Now()
	err := fn(stageCtx)
	metrics.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	finish(err)
	return err
}

func (o *Orchestrator) fail(out Outcome, stage State, err error) Outcome {
	pe := ingesterrors.ClassifyError(err, string(stage))
	out.FinalState = StateFailed
	out.Stage = string(stage)
	if pe != nil {
		out.Reason = pe.Error()
	} else {
		out.Reason = err.Error()
	}
	return out
}

// record emits the Sheets row, Tracker mark, and audit entry every
// terminal state requires exactly once, and fires a notification on a
// FAILED outcome when configured.
func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	status := deriveStatus(out)

	if o.deps.Sheets != nil {
		o.deps.Sheets.Enqueue(sheets.RowData{
			Status: status,

			FileID:      out.RemoteID,
			FileName:    out.Name,
			UploadTime:  out.UploadTime,
			FileSizeMiB: out.FileSizeMiB,
			FileType:    out.FileType,

			ExtractStatus: out.ExtractStatus,
			FileCount:     out.FileCount,

			ProcessTimeSecs: out.ProcessTimeSecs,
			ValidationScore: out.ValidationScore,
			StartTime:       out.StartTime,
			DurationSeconds: out.DurationSeconds,
			Location:        out.Location,
			SceneType:       out.SceneType,
			SizeStatus:      out.SizeStatus,
			PCDScale:        out.PCDScale,
			DeviceID:        out.DeviceID,

			TransientDecision: out.TransientDecision,
			WDD:               out.WDD,
			WPO:               out.WPO,
			SAI:               out.SAI,

			ErrorMessage:   out.Reason,
			WarningMessage: out.WarningMessage,
			Notes:          out.Notes,
		})
	}

	if o.deps.Tracker != nil {
		o.deps.Tracker.Mark(out.RemoteID, tracker.Record{
			Name:    out.Name,
			Outcome: string(out.FinalState),
			Score:   floatValue(out.ValidationScore),
		})
	}

	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, audit.Entry{
			RemoteID:          out.RemoteID,
			PackageName:       out.Name,
			State:             string(out.FinalState),
			Outcome:           string(status),
			ValidationScore:   out.ValidationScore,
			TransientDecision: out.TransientDecision,
			ErrorMessage:      out.Reason,
			WarningMessage:    out.WarningMessage,
		})
	}

	if out.FinalState == StateFailed && o.cfg.EnableEmailNotifications {
		if err := o.deps.Notifier.Notify(ctx, notify.Notification{
			RemoteID: out.RemoteID,
			Name:     out.Name,
			Stage:    out.Stage,
			Reason:   out.Reason,
		}); err != nil {
			o.logWarn("orchestrator: notification failed", logging.F("remote_id", out.RemoteID), logging.F("error", err.Error()))
		}
	}

	outcomeLabel := "done"
	if out.FinalState == StateFailed {
		outcomeLabel = "failed"
	}
	metrics.PackagesProcessedTotal.WithLabelValues(outcomeLabel).Inc()
}

func (o *Orchestrator) downloadDir() string {
	if o.cfg.DownloadDir != "" {
		return o.cfg.DownloadDir
	}
	return os.TempDir()
}

func (o *Orchestrator) logWarn(msg string, fields ...logging.Field) {
	if o.deps.Logger != nil {
		o.deps.Logger.Warn(msg, fields...)
	}
}

// populateCaptureContext independently re-reads metadata.yaml,
// info/device_info.json, and Preview.pcd rather than threading typed
// values through validation.Result's untyped Metadata map, matching the
// same independent-re-read decision already made in
// pkg/validation/transient's scenePreset.
func populateCaptureContext(out *Outcome, root string) {
	if raw, err := os.ReadFile(filepath.Join(root, "metadata.yaml")); err == nil {
		if desc, err := metadatadesc.Parse(raw, ""); err == nil {
			outdoor := desc.IsOutdoor()
			out.Outdoor = &outdoor
			duration := desc.DurationSeconds
			out.DurationSeconds = &duration
			out.StartTime = desc.StartTime
			if outdoor {
				out.Location = "outdoor"
			} else {
				out.Location = "indoor"
			}
			if desc.Location.HasFix() {
				out.Location = fmt.Sprintf("%s (%.6f,%.6f)", out.Location, *desc.Location.Lat, *desc.Location.Lon)
			}
		}
	}
	if raw, err := os.ReadFile(filepath.Join(root, "info", "device_info.json")); err == nil {
		if device, _, err := metadatadesc.ParseDeviceInfo(raw); err == nil {
			out.DeviceModel = device.Model
			out.DeviceSerial = device.SN
			if id, ok := device.ID(); ok {
				out.DeviceID = id
			}
		}
	}
	pcdRes := pointcloud.Probe(filepath.Join(root, "Preview.pcd"))
	width, height := pcdRes.WidthM, pcdRes.HeightM
	out.WidthM = &width
	out.HeightM = &height
	out.PCDScale = fmt.Sprintf("%.2fx%.2fx%.2fm (%s)", pcdRes.WidthM, pcdRes.HeightM, pcdRes.DepthM, pcdRes.Status)
}

func deriveStatus(out Outcome) sheets.Status {
	if out.FinalState == StateFailed {
		return sheets.StatusError
	}
	if out.IsValid == nil {
		return sheets.StatusUnknown
	}
	if out.ValidationScore != nil && *out.ValidationScore >= 90 {
		return sheets.StatusOptimal
	}
	return sheets.StatusWarning
}

func validationResultLabel(valid bool) string {
	if valid {
		return "pass"
	}
	return "fail"
}

func sceneLabel(s processing.SceneType) string {
	switch s {
	case processing.SceneOpen:
		return "open"
	case processing.SceneNarrow:
		return "narrow"
	default:
		return "balance"
	}
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func floatValue(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
