package processing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// searchLocations returns the five documented candidate output
// locations in search order.
func searchLocations(outDir, binaryDir, packageName string) []string {
	return []string{
		filepath.Join(outDir, packageName+"_output"),
		filepath.Join(binaryDir, "processed", "output", "o_"+packageName+"_output"),
		filepath.Join(binaryDir, "output", packageName+"_output"),
		filepath.Join(binaryDir, "output"),
		filepath.Join(binaryDir, "processed", "output"),
	}
}

// SearchOutput locates colorized.las and transforms.json across the
// five candidate output locations, in order, returning the first
// location containing both. Every location scan is logged: existence,
// directory listing, and per-file match attempts. On failure, missing
// names the file(s) never found together at the best-matching
// location (the one where the most of the two files were present).
func SearchOutput(outDir, binaryDir, packageName string, logger logging.Logger) (lasPath, transformsPath string, missing []string, err error) {
	var bestMissing []string
	bestFound := -1

	for _, loc := range searchLocations(outDir, binaryDir, packageName) {
		info, statErr := os.Stat(loc)
		exists := statErr == nil && info.IsDir()
		logInfo(logger, "output search: location", logging.F("path", loc), logging.F("exists", exists))
		if !exists {
			continue
		}

		if entries, err := os.ReadDir(loc); err == nil {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			logInfo(logger, "output search: directory listing", logging.F("path", loc), logging.F("entries", names))
		}

		lasCandidate := filepath.Join(loc, "colorized.las")
		transformsCandidate := filepath.Join(loc, "transforms.json")
		lasOK := fileExistsNonEmpty(lasCandidate)
		transformsOK := fileExistsNonEmpty(transformsCandidate)
		logInfo(logger, "output search: pattern match attempt", logging.F("las_found", lasOK), logging.F("transforms_found", transformsOK))

		if lasOK && transformsOK {
			logInfo(logger, "output search: succeeded", logging.F("location", loc))
			return lasCandidate, transformsCandidate, nil, nil
		}

		found := 0
		var locMissing []string
		if lasOK {
			found++
		} else {
			locMissing = append(locMissing, "colorized.las")
		}
		if transformsOK {
			found++
		} else {
			locMissing = append(locMissing, "transforms.json")
		}
		if found > bestFound {
			bestFound = found
			bestMissing = locMissing
		}
	}

	if bestMissing == nil {
		bestMissing = []string{"colorized.las", "transforms.json"}
	}
	return "", "", bestMissing, fmt.Errorf("output search failed: %s not found in any candidate location for %s", strings.Join(bestMissing, ", "), packageName)
}

func fileExistsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func logInfo(logger logging.Logger, msg string, fields ...logging.Field) {
	if logger != nil {
		logger.Info(msg, fields...)
	}
}
