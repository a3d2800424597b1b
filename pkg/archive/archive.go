// Package archive inspects a downloaded MetaCam package archive:
// detecting its format, enforcing size limits before and after
// extraction, and unpacking it into a scratch directory for the
// validation stages that follow.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	ingesterrors "github.com/otherjamesbrown/metacam-ingest/pkg/errors"
)

const (
	gib = 1 << 30

	// After-extraction size window. Below minAcceptableBytes or above
	// maxAcceptableBytes is a fatal ErrOversizedAfter. Between the
	// acceptable and optimal bounds a warning is attached but the
	// package still proceeds.
	minAcceptableBytes = int64(0.5 * gib)
	minOptimalBytes    = int64(8 * gib / 10)
	maxOptimalBytes    = int64(3.5 * gib)
	maxAcceptableBytes = int64(6 * gib)
)

// SizeStatus classifies an extracted package's total byte count against
// the same acceptable/optimal windows Inspect enforces, for the
// sheet's Size Status column. A size that reached ExtractedPackage at
// all has already passed the acceptable-range check, so this only
// distinguishes "optimal" from the two acceptable-but-suboptimal bands.
func SizeStatus(totalBytes int64) string {
	switch {
	case totalBytes < minOptimalBytes:
		return "below_optimal"
	case totalBytes > maxOptimalBytes:
		return "above_optimal"
	default:
		return "optimal"
	}
}

// ExtractedPackage describes the result of a successful Inspect call.
type ExtractedPackage struct {
	RootPath     string
	Files        []string
	TotalBytes   int64
	Format       string
	PasswordUsed string
	// Warnings carries non-fatal advisories, such as an extracted size
	// outside the optimal range but still within the acceptable one.
	// This has no counterpart in the external record schema; it exists
	// only to let callers surface soft signals without failing the stage.
	Warnings []string
}

// Options configures Inspect.
type Options struct {
	// ScratchDir is the parent directory under which a fresh
	// UUID-named extraction directory is created.
	ScratchDir string
	// MaxArchiveSizeBytes bounds the archive's size on disk before
	// extraction. Zero disables the check.
	MaxArchiveSizeBytes int64
	// Passwords are candidate archive passwords tried in order.
	Passwords []string

	registry registry
}

// Inspect validates and extracts the archive at path according to opts,
// returning the extracted package layout or a classified *PipelineError.
func Inspect(path string, opts Options) (*ExtractedPackage, error) {
	reg := opts.registry
	if reg == nil {
		reg = defaultRegistry()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("stat archive: %v", err), Cause: err}
	}
	if opts.MaxArchiveSizeBytes > 0 && info.Size() > opts.MaxArchiveSizeBytes {
		return nil, &ingesterrors.PipelineError{
			Code:    ingesterrors.ErrOversizedBefore,
			Stage:   "archive",
			Message: fmt.Sprintf("archive size %d bytes before extraction exceeds maximum %d bytes", info.Size(), opts.MaxArchiveSizeBytes),
		}
	}

	format, err := detectFormat(path)
	if err != nil {
		return nil, &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("reading archive header: %v", err), Cause: err}
	}

	dec, ok := reg[format]
	if !ok {
		return nil, &ingesterrors.PipelineError{
			Code:    ingesterrors.ErrUnknownFormat,
			Stage:   "archive",
			Message: fmt.Sprintf("unrecognized archive format %q for %s", format, filepath.Base(path)),
		}
	}

	scratchRoot := opts.ScratchDir
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	destDir := filepath.Join(scratchRoot, uuid.NewString())
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("creating scratch directory: %v", err), Cause: err}
	}

	passwordUsed, err := dec.Extract(path, destDir, opts.Passwords)
	if err != nil {
		os.RemoveAll(destDir)
		return nil, err
	}

	files, totalBytes, err := walkExtracted(destDir)
	if err != nil {
		os.RemoveAll(destDir)
		return nil, &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("walking extracted package: %v", err), Cause: err}
	}

	var warnings []string
	switch {
	case totalBytes < minAcceptableBytes || totalBytes > maxAcceptableBytes:
		os.RemoveAll(destDir)
		return nil, &ingesterrors.PipelineError{
			Code:    ingesterrors.ErrOversizedAfter,
			Stage:   "archive",
			Message: fmt.Sprintf("extracted size %d bytes is outside the acceptable range [%d, %d]", totalBytes, minAcceptableBytes, maxAcceptableBytes),
		}
	case totalBytes < minOptimalBytes:
		warnings = append(warnings, fmt.Sprintf("extracted size %d bytes is below the optimal range, acceptable but small", totalBytes))
	case totalBytes > maxOptimalBytes:
		warnings = append(warnings, fmt.Sprintf("extracted size %d bytes is above the optimal range, acceptable but large", totalBytes))
	}

	return &ExtractedPackage{
		RootPath:     destDir,
		Files:        files,
		TotalBytes:   totalBytes,
		Format:       format,
		PasswordUsed: passwordUsed,
		Warnings:     warnings,
	}, nil
}

// walkExtracted returns the extracted files as slash-separated paths
// relative to root, in a deterministic (lexical) order, along with the
// total byte count of regular files.
func walkExtracted(root string) ([]string, int64, error) {
	var files []string
	var total int64

	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		total += fi.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}
