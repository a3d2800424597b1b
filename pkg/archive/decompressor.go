package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ingesterrors "github.com/otherjamesbrown/metacam-ingest/pkg/errors"
)

// Decompressor extracts one archive format into a destination directory.
// RAR and 7z are modeled by this interface but have no registered
// implementation — they are out of scope external collaborators
// (spec.md §1); inspecting one yields ErrUnknownFormat.
type Decompressor interface {
	Format() string
	Extract(archivePath, destDir string, passwords []string) (passwordUsed string, err error)
}

// registry maps a format name to its decompressor. Populated by
// defaultRegistry(); callers may build a custom registry for tests.
type registry map[string]Decompressor

func defaultRegistry() registry {
	return registry{
		FormatZip: zipDecompressor{},
	}
}

// zipDecompressor extracts .zip archives with the standard library.
// Traditional PKWARE zip encryption is not supported by archive/zip, so
// any encrypted entry is reported as ErrPasswordRequired regardless of
// the supplied password list — this is a known limitation, not a bug
// (see DESIGN.md).
type zipDecompressor struct{}

func (zipDecompressor) Format() string { return FormatZip }

func (zipDecompressor) Extract(archivePath, destDir string, passwords []string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: fmt.Sprintf("opening zip: %v", err), Cause: err}
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Flags&0x1 != 0 {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrPasswordRequired, Stage: "archive", Message: "archive contains password protected entries, password required"}
		}
	}

	for _, f := range r.File {
		destPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: err.Error(), Cause: err}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("creating directory: %v", err), Cause: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: fmt.Sprintf("creating parent directory: %v", err), Cause: err}
		}

		if err := extractZipEntry(f, destPath); err != nil {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: fmt.Sprintf("extracting %s: %v", f.Name, err), Cause: err}
		}
	}

	return "", nil
}

func extractZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}

// tarGzDecompressor extracts .tar.gz/.tgz archives. Password-protected
// tar.gz is not a meaningful concept for this format, so passwords is unused.
type tarGzDecompressor struct{}

func (tarGzDecompressor) Format() string { return FormatTarGz }

func (tarGzDecompressor) Extract(archivePath, destDir string, _ []string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: err.Error(), Cause: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: fmt.Sprintf("opening gzip stream: %v", err), Cause: err}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: fmt.Sprintf("reading tar entry: %v", err), Cause: err}
		}

		destPath, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: err.Error(), Cause: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: err.Error(), Cause: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: err.Error(), Cause: err}
			}
			out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrIO, Stage: "archive", Message: err.Error(), Cause: err}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return "", &ingesterrors.PipelineError{Code: ingesterrors.ErrCorrupt, Stage: "archive", Message: err.Error(), Cause: err}
			}
			out.Close()
		}
	}
	return "", nil
}

// safeJoin joins destDir with a relative archive entry name, rejecting
// any entry that would escape destDir via ".." traversal (zip-slip).
func safeJoin(destDir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return filepath.Join(destDir, cleaned), nil
}
