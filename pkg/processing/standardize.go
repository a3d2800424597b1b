package processing

import (
	"fmt"
	"os"
	"path/filepath"
)

// StandardizeRoot rebinds a package root to the directory that actually
// contains the MetaCam layout, unwrapping a single wrapping
// subdirectory if the archive extracted with one. It never moves
// anything; it only chooses which existing path to treat as root.
func StandardizeRoot(root string) (string, error) {
	if looksLikeMetaCamRoot(root) {
		return root, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("directory standardization failed: reading %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}

	if len(dirs) == 1 {
		candidate := filepath.Join(root, dirs[0])
		if looksLikeMetaCamRoot(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("directory standardization failed: no MetaCam layout found under %s", root)
}

// looksLikeMetaCamRoot is a cheap structural signal, not full
// validation — the MetaCam Validator (L10) owns the authoritative
// check. This only decides whether root or its single subdirectory is
// the layout root the native binaries should be pointed at.
func looksLikeMetaCamRoot(root string) bool {
	_, err := os.Stat(filepath.Join(root, "metadata.yaml"))
	return err == nil
}
