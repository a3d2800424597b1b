// Package wiring assembles the concrete dependency graph the cmd/
// commands run against: it turns a loaded config.Config into a fully
// constructed Orchestrator (or the narrower slice of it a given
// subcommand needs), choosing the local-filesystem drive/sheet stand-in
// unless the caller substitutes a real one, and wiring the ambient
// stack (logging, metrics, tracing, audit) the same way regardless of
// which external collaborators are present.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/config"
	"github.com/otherjamesbrown/metacam-ingest/internal/localdrive"
	"github.com/otherjamesbrown/metacam-ingest/pkg/archive"
	"github.com/otherjamesbrown/metacam-ingest/pkg/audit"
	"github.com/otherjamesbrown/metacam-ingest/pkg/detector"
	"github.com/otherjamesbrown/metacam-ingest/pkg/downloader"
	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
	"github.com/otherjamesbrown/metacam-ingest/pkg/metrics"
	"github.com/otherjamesbrown/metacam-ingest/pkg/notify"
	"github.com/otherjamesbrown/metacam-ingest/pkg/orchestrator"
	"github.com/otherjamesbrown/metacam-ingest/pkg/processing"
	"github.com/otherjamesbrown/metacam-ingest/pkg/secrets"
	"github.com/otherjamesbrown/metacam-ingest/pkg/sheets"
	"github.com/otherjamesbrown/metacam-ingest/pkg/tracker"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation/manager"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation/metacam"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation/transient"
)

// defaultModelName names the detection model the transient validator
// asks its runtime factory to load. There is no configured override
// today; a real deployment wiring a real ModelRuntime would extend
// config.Config with one.
const defaultModelName = "metacam-transient-v1"

// Graph holds every constructed component a cmd/ command might need,
// so commands can take just the pieces they use without re-deriving
// them.
type Graph struct {
	Config     *config.Config
	Logger     logging.Logger
	Tracker    *tracker.Tracker
	Drive      *localdrive.Drive
	Monitor    *drivemonitor.Monitor
	Downloader *downloader.Downloader
	Validator  *manager.Manager
	Processor  *processing.Driver
	Sheet      *localdrive.Sheet
	Sheets     *sheets.Writer
	Notifier   notify.Notifier
	Audit      *audit.Repository
	Vault      *secrets.Vault
	Orch       *orchestrator.Orchestrator

	orchCfg orchestrator.Config
	deps    orchestrator.Deps
	closers []func()
}

// Close releases every resource opened while building the graph
// (Sheets writer flush, audit pool). Safe to call once at shutdown.
func (g *Graph) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
}

// OrchestratorWithDownloader returns a fresh Orchestrator sharing every
// dependency of g.Orch except its Downloader, which is replaced by dl.
// Used by `process-file` to feed a local archive path directly, without
// the Drive/monitor round trip a remote id would otherwise need.
func (g *Graph) OrchestratorWithDownloader(dl orchestrator.Downloader) *orchestrator.Orchestrator {
	deps := g.deps
	deps.Downloader = dl
	return orchestrator.New(g.orchCfg, deps)
}

// Build constructs the full dependency graph from cfg. secretsPassphrase
// may be empty, in which case METACAM_SECRETS_PASSPHRASE is used, and
// when that is empty too the vault's key comes from the OS keyring.
func Build(ctx context.Context, cfg *config.Config, secretsPassphrase string) (*Graph, error) {
	g := &Graph{Config: cfg}

	g.Logger = buildLogger(cfg)
	logging.SetGlobal(g.Logger)

	vault, err := buildVault(cfg, secretsPassphrase)
	if err != nil {
		return nil, err
	}
	g.Vault = vault

	trk, err := buildTracker(cfg)
	if err != nil {
		return nil, fmt.Errorf("wiring: tracker: %w", err)
	}
	g.Tracker = trk

	drive, err := localdrive.NewDrive(driveRoot(cfg))
	if err != nil {
		return nil, fmt.Errorf("wiring: local drive: %w", err)
	}
	g.Drive = drive

	g.Monitor = drivemonitor.New(g.Drive, g.Tracker, drivemonitor.Config{
		CheckInterval:     cfg.CheckInterval,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxFileSizeBytes:  int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}, g.Logger)

	dlCfg := downloader.DefaultConfig()
	dlCfg.ChunkSizeBytes = int64(cfg.DownloadChunkSizeMB) * 1024 * 1024
	dlCfg.MaxRetries = cfg.DownloadRetries
	dlCfg.Timeout = cfg.DownloadTimeout
	dlCfg.RedisAddr = cfg.DownloadProgressRedisAddr
	g.Downloader = downloader.New(g.Drive, dlCfg, g.Logger)

	g.Validator = buildValidator(cfg, g.Logger)
	g.Processor = buildProcessor(cfg, g.Logger)

	g.Sheet = localdrive.NewSheet(sheetPath(cfg))
	sheetsCfg := sheets.DefaultConfig()
	sheetsCfg.SheetName = cfg.SheetName
	sheetsCfg.BatchSize = cfg.BatchWriteSize
	sheetsCfg.DeadLetterPath = filepath.Join(cfg.ProcessedPath, "sheets-dead-letter.jsonl")
	g.Sheets = sheets.NewWriter(g.Sheet, sheetsCfg, g.Logger)
	g.closers = append(g.closers, func() { g.Sheets.Close() })

	g.Notifier = buildNotifier(cfg, g.Vault)

	repo, closeAudit, err := buildAudit(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("wiring: audit: %w", err)
	}
	g.Audit = repo
	if closeAudit != nil {
		g.closers = append(g.closers, closeAudit)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				g.Logger.Error("metrics server exited", logging.F("error", err.Error()))
			}
		}()
	}

	g.orchCfg = orchestratorConfig(cfg)
	if g.Vault != nil {
		g.orchCfg.ArchivePasswords = append(g.orchCfg.ArchivePasswords, g.Vault.ArchivePasswords()...)
	}
	g.deps = orchestrator.Deps{
		Downloader: g.Downloader,
		Extract:    archive.Inspect,
		Validator:  g.Validator,
		Processor:  g.Processor,
		Tracker:    g.Tracker,
		Sheets:     g.Sheets,
		Audit:      g.Audit,
		Notifier:   g.Notifier,
		Logger:     g.Logger,
	}
	g.Orch = orchestrator.New(g.orchCfg, g.deps)

	return g, nil
}

func buildLogger(cfg *config.Config) logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.Level(cfg.LogLevel)
	lc.ServiceName = "metacam-ingest"
	lc.JSONFormat = true

	if cfg.LogFile != "" {
		if sink, err := logging.NewFileSink(logging.FileWriterConfig{Path: cfg.LogFile}); err == nil {
			lc.Sinks = append(lc.Sinks, sink)
		}
	}
	return logging.NewLogger(lc)
}

func buildVault(cfg *config.Config, passphrase string) (*secrets.Vault, error) {
	if passphrase == "" {
		passphrase = os.Getenv("METACAM_SECRETS_PASSPHRASE")
	}
	path := filepath.Join(filepath.Dir(cfg.DownloadPath), "secrets.vault")
	v, err := secrets.Open(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wiring: opening secrets vault: %w", err)
	}
	return v, nil
}

func buildTracker(cfg *config.Config) (*tracker.Tracker, error) {
	trackerPath := filepath.Join(filepath.Dir(cfg.DownloadPath), "tracker.json")
	var opts []tracker.Option
	if cfg.TrackerRedisAddr != "" {
		opts = append(opts, tracker.WithRedisMirror(cfg.TrackerRedisAddr))
	}
	return tracker.New(trackerPath, 90, opts...)
}

func driveRoot(cfg *config.Config) string {
	if cfg.DriveFolderID != "" {
		return cfg.DriveFolderID
	}
	return filepath.Join(filepath.Dir(cfg.DownloadPath), "drive")
}

func sheetPath(cfg *config.Config) string {
	if cfg.SpreadsheetID != "" {
		return cfg.SpreadsheetID
	}
	return filepath.Join(cfg.ProcessedPath, "sheet.csv")
}

// buildValidator registers the structural MetaCam validator, plus the
// transient obstacle validator with a runtime factory that always
// reports the model runtime unavailable. The object-detection model
// runtime is an out-of-scope external collaborator; the transient
// validator already treats a factory failure as a documented degraded
// result (RUNTIME_UNAVAILABLE, base validity untouched, score blended
// down only when a camera sequence is actually present), so this
// default keeps the pipeline running end to end without ever loading a
// real model. A deployment with a real ModelRuntime substitutes its
// own factory.
func buildValidator(cfg *config.Config, logger logging.Logger) *manager.Manager {
	m := manager.New()
	m.Register(metacam.New())

	unavailable := func(ctx context.Context) (detector.ModelRuntime, error) {
		return nil, fmt.Errorf("object-detection model runtime not configured")
	}
	m.RegisterTransient(transient.New(unavailable, defaultModelName, nil, logger))
	return m
}

func buildProcessor(cfg *config.Config, logger logging.Logger) *processing.Driver {
	pc := processing.DefaultConfig()
	pc.GeneratorBinary = filepath.Join(cfg.ProcessorsExePath, "generator")
	pc.CLIBinary = filepath.Join(cfg.ProcessorsExePath, "metacam-cli")
	pc.GeneratorTimeout = time.Duration(cfg.ProcessingTimeoutSeconds) * time.Second
	pc.CLITimeout = time.Duration(cfg.MetaCamCLITimeoutSeconds) * time.Second
	pc.OutDir = cfg.ProcessingOutputPath
	pc.FinalOutDir = cfg.ProcessedPath
	pc.Colorize = cfg.MetaCamCLIColor
	pc.RetryAttempts = cfg.ProcessingRetryAttempts
	return processing.New(pc, logger)
}

func buildNotifier(cfg *config.Config, vault *secrets.Vault) notify.Notifier {
	if !cfg.EnableEmailNotifications {
		return notify.NopNotifier{}
	}
	password := ""
	if vault != nil {
		password = vault.SMTPPassword()
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.User,
		Password: password,
		From:     cfg.SMTP.From,
		To:       splitCSV(cfg.SMTP.To),
	})
}

func buildAudit(ctx context.Context, cfg *config.Config) (*audit.Repository, func(), error) {
	if cfg.AuditDSN == "" {
		return audit.NewRepository(nil), nil, nil
	}

	dbCfg, err := audit.ConfigFromDSN(cfg.AuditDSN)
	if err != nil {
		return nil, nil, err
	}
	pool, err := audit.ConnectWithRetry(ctx, dbCfg, 3, 0)
	if err != nil {
		return nil, nil, err
	}
	repo := audit.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		audit.Close(pool)
		return nil, nil, err
	}
	return repo, func() { audit.Close(pool) }, nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MaxConcurrentDownloads = cfg.MaxConcurrentDownloads
	oc.ScratchDir = cfg.TempDir
	oc.DownloadDir = cfg.DownloadPath
	oc.MaxArchiveSizeBytes = int64(cfg.MaxFileSizeMB) * 1024 * 1024
	oc.ArchivePasswords = cfg.DefaultPasswords
	oc.EnableEmailNotifications = cfg.EnableEmailNotifications
	return oc
}

// fileDownloader satisfies orchestrator.Downloader by copying a single
// fixed local path regardless of the remote id it's asked for, which is
// exactly what `process-file` needs: the "remote item" already exists
// on disk, there is no drive to fetch it from.
type fileDownloader struct {
	path string
}

// NewFileDownloader returns a Downloader that copies path to whatever
// destination it is asked to fetch to, ignoring remoteID.
func NewFileDownloader(path string) orchestrator.Downloader {
	return fileDownloader{path: path}
}

func (f fileDownloader) Download(ctx context.Context, remoteID, destPath string, onProgress downloader.ProgressFunc) error {
	src, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("wiring: opening %s: %w", f.path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("wiring: stat %s: %w", f.path, err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("wiring: creating %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := copyWithProgress(dst, src, info.Size(), remoteID, onProgress); err != nil {
		return fmt.Errorf("wiring: copying %s: %w", f.path, err)
	}
	return nil
}

func copyWithProgress(dst *os.File, src *os.File, total int64, remoteID string, onProgress downloader.ProgressFunc) (int64, error) {
	buf := make([]byte, 1<<20)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(downloader.Progress{RemoteID: remoteID, BytesDone: written, BytesTotal: total})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
