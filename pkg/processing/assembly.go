package processing

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AssembleFinalPackage builds <finalOutDir>/<packageName>_processed.zip
// containing exactly colorized.las, transforms.json, metadata.yaml,
// Preview.jpg, and the camera/ subtree, then verifies all non-camera
// entries are present and non-zero by re-listing the written archive.
// The zip is built in a temp file in finalOutDir and renamed into place
// so a reader never observes a partially written archive.
func AssembleFinalPackage(finalOutDir, packageName, originalRoot, lasPath, transformsPath string) (string, error) {
	if err := os.MkdirAll(finalOutDir, 0o755); err != nil {
		return "", fmt.Errorf("creating final output directory: %w", err)
	}

	tmpPath := filepath.Join(finalOutDir, "."+uuid.NewString()+".zip.tmp")
	finalPath := filepath.Join(finalOutDir, packageName+"_processed.zip")

	if err := writeZip(tmpPath, originalRoot, lasPath, transformsPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := verifyZipEntries(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalizing processed package: %w", err)
	}

	return finalPath, nil
}

func writeZip(tmpPath, originalRoot, lasPath, transformsPath string) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating processed package archive: %w", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)

	if err := addFileEntry(w, "colorized.las", lasPath); err != nil {
		w.Close()
		return err
	}
	if err := addFileEntry(w, "transforms.json", transformsPath); err != nil {
		w.Close()
		return err
	}
	if err := addFileEntry(w, "metadata.yaml", filepath.Join(originalRoot, "metadata.yaml")); err != nil {
		w.Close()
		return err
	}
	if err := addFileEntry(w, "Preview.jpg", filepath.Join(originalRoot, "Preview.jpg")); err != nil {
		w.Close()
		return err
	}

	cameraRoot := filepath.Join(originalRoot, "camera")
	if info, err := os.Stat(cameraRoot); err == nil && info.IsDir() {
		if err := addTreeEntries(w, "camera", cameraRoot); err != nil {
			w.Close()
			return err
		}
	}

	return w.Close()
}

func addFileEntry(w *zip.Writer, entryName, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("assembling processed package: reading %s: %w", entryName, err)
	}
	defer src.Close()

	dst, err := w.Create(entryName)
	if err != nil {
		return fmt.Errorf("assembling processed package: adding %s: %w", entryName, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("assembling processed package: copying %s: %w", entryName, err)
	}
	return nil
}

func addTreeEntries(w *zip.Writer, entryPrefix, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFileEntry(w, filepath.ToSlash(filepath.Join(entryPrefix, rel)), path)
	})
}

// verifyZipEntries re-opens the written archive and checks that the
// four required non-camera entries exist and are non-zero size.
func verifyZipEntries(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("verifying processed package: %w", err)
	}
	defer r.Close()

	required := map[string]bool{
		"colorized.las":    false,
		"transforms.json":  false,
		"metadata.yaml":    false,
		"Preview.jpg":      false,
	}

	for _, f := range r.File {
		if _, ok := required[f.Name]; ok {
			if f.UncompressedSize64 == 0 {
				return fmt.Errorf("verifying processed package: %s is zero-size", f.Name)
			}
			required[f.Name] = true
		}
	}

	for name, found := range required {
		if !found {
			return fmt.Errorf("verifying processed package: missing entry %s", name)
		}
	}

	return nil
}
