// Package processing drives the two native MetaCam processing binaries
// (the point-cloud generator and the colorization/export CLI) against
// a standardized package root, searches their output locations, and
// assembles the final processed package archive.
package processing

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// FatalReason names one of the three driver failure categories that
// the retry policy treats as retryable. Timeouts and non-zero exits
// from the native binaries are deliberately excluded: spec.md §4.13
// states they are not retried automatically, which overrides this
// module's generic pkg/errors.IsErrorRetryable classification — the
// driver's retry gate never consults that registry at all.
type FatalReason string

const (
	ReasonBinaryMissing          FatalReason = "binary_missing"
	ReasonStandardizationFailed  FatalReason = "standardization_failed"
	ReasonOutputSearchFailed     FatalReason = "output_search_failed"
)

// FatalDriverError wraps one of the three retryable driver failure
// categories.
type FatalDriverError struct {
	Reason FatalReason
	Err    error
}

func (e *FatalDriverError) Error() string {
	return fmt.Sprintf("processing driver: %s: %v", e.Reason, e.Err)
}

func (e *FatalDriverError) Unwrap() error { return e.Err }

// StageDurations records how long each processing phase took, in
// seconds, for the sheet's Process Time column and diagnostics.
type StageDurations struct {
	Generator   float64
	CLI         float64
	Postprocess float64
}

// Outcome is the result of one successful (or non-fatally degraded)
// processing run.
type Outcome struct {
	StandardizedRoot   string
	Scene              SceneType
	GeneratorExitCode  int
	GeneratorTimedOut  bool
	CLIExitCode        int
	CLITimedOut        bool
	ZipPath            string
	Retries            int

	StageDurations StageDurations
	MissingOutputs []string
	LogTail        string
}

// Success reports whether the run produced a final archive. A
// non-zero generator or CLI exit code does not by itself mean
// failure — only a missing output does.
func (o Outcome) Success() bool {
	return o.ZipPath != "" && len(o.MissingOutputs) == 0
}

// Driver runs the generator and CLI binaries against a package and
// assembles the final processed archive.
type Driver struct {
	cfg    Config
	logger logging.Logger
}

// New returns a Driver.
func New(cfg Config, logger logging.Logger) *Driver {
	if cfg.FinalOutDir == "" {
		cfg.FinalOutDir = cfg.OutDir
	}
	return &Driver{cfg: cfg, logger: logger}
}

// ProcessWithRetry runs Process, retrying only on a FatalDriverError up
// to cfg.RetryAttempts times with exponential backoff starting at
// cfg.RetryBackoffBase. Subprocess timeouts and non-zero exits are
// reported in the Outcome but never trigger a retry.
func (d *Driver) ProcessWithRetry(ctx context.Context, packageRoot, packageName string, outdoor bool, widthM, heightM float64) (Outcome, error) {
	backoff := d.cfg.RetryBackoffBase
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	var lastErr error
	var lastOutcome Outcome
	attempts := d.cfg.RetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		outcome, err := d.Process(ctx, packageRoot, packageName, outdoor, widthM, heightM)
		outcome.Retries = attempt
		if err == nil {
			return outcome, nil
		}

		var fatal *FatalDriverError
		if !isFatalDriverError(err, &fatal) {
			return outcome, err
		}

		lastErr = err
		lastOutcome = outcome
		if attempt == attempts-1 {
			break
		}

		if d.logger != nil {
			d.logger.Warn("processing driver: retrying after fatal failure",
				logging.F("reason", string(fatal.Reason)), logging.F("attempt", attempt+1), logging.F("backoff", backoff.String()))
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return outcome, ctx.Err()
		}
		backoff *= 2
	}

	return lastOutcome, lastErr
}

func isFatalDriverError(err error, target **FatalDriverError) bool {
	fde, ok := err.(*FatalDriverError)
	if ok {
		*target = fde
	}
	return ok
}

// Process runs one non-retried processing attempt: standardizes the
// package root, selects the scene type, launches the generator then
// the CLI binary, searches for their output, and assembles the final
// processed package archive.
func (d *Driver) Process(ctx context.Context, packageRoot, packageName string, outdoor bool, widthM, heightM float64) (Outcome, error) {
	standardizedRoot, err := StandardizeRoot(packageRoot)
	if err != nil {
		return Outcome{}, &FatalDriverError{Reason: ReasonStandardizationFailed, Err: err}
	}

	scene := SelectSceneType(outdoor, widthM, heightM)
	outcome := Outcome{StandardizedRoot: standardizedRoot, Scene: scene}

	genStart := time.Now()
	genResult, err := runSubprocess(ctx, d.cfg.GeneratorBinary, []string{standardizedRoot}, d.cfg.GeneratorTimeout, "generator", d.logger)
	outcome.StageDurations.Generator = time.Since(genStart).Seconds()
	if err != nil {
		return outcome, &FatalDriverError{Reason: ReasonBinaryMissing, Err: err}
	}
	outcome.GeneratorExitCode = genResult.ExitCode
	outcome.GeneratorTimedOut = genResult.TimedOut
	outcome.LogTail = genResult.Log

	colorFlag := "0"
	if d.cfg.Colorize {
		colorFlag = "1"
	}
	cliArgs := []string{
		"-i", standardizedRoot,
		"-o", d.cfg.OutDir,
		"-s", strconv.Itoa(int(scene)),
		"-color", colorFlag,
		"-mode", strconv.Itoa(d.cfg.ModeFlag),
	}
	cliStart := time.Now()
	cliResult, err := runSubprocess(ctx, d.cfg.CLIBinary, cliArgs, d.cfg.CLITimeout, "cli", d.logger)
	outcome.StageDurations.CLI = time.Since(cliStart).Seconds()
	if err != nil {
		return outcome, &FatalDriverError{Reason: ReasonBinaryMissing, Err: err}
	}
	outcome.CLIExitCode = cliResult.ExitCode
	outcome.CLITimedOut = cliResult.TimedOut
	outcome.LogTail = cliResult.Log

	postStart := time.Now()
	binaryDir := filepath.Dir(d.cfg.CLIBinary)
	lasPath, transformsPath, missing, err := SearchOutput(d.cfg.OutDir, binaryDir, packageName, d.logger)
	if err != nil {
		outcome.MissingOutputs = missing
		outcome.StageDurations.Postprocess = time.Since(postStart).Seconds()
		return outcome, &FatalDriverError{Reason: ReasonOutputSearchFailed, Err: err}
	}

	zipPath, err := AssembleFinalPackage(d.cfg.FinalOutDir, packageName, standardizedRoot, lasPath, transformsPath)
	outcome.StageDurations.Postprocess = time.Since(postStart).Seconds()
	if err != nil {
		return outcome, fmt.Errorf("processing driver: assembling final package: %w", err)
	}
	outcome.ZipPath = zipPath

	return outcome, nil
}

