// Package metacam implements the MetaCam Validator: the ordered,
// accumulating structural and content checks that gate a MetaCam
// package before the processing driver ever touches it.
package metacam

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otherjamesbrown/metacam-ingest/pkg/metadatadesc"
	"github.com/otherjamesbrown/metacam-ingest/pkg/pointcloud"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

const validatorTypeName = "MetaCam"

// requiredDirs is checked by the structure step.
var requiredDirs = []string{"images", "data", "info"}

type sizedFile struct {
	name       string
	minBytes   int64
	maxBytes   int64
}

// requiredRootFiles is checked by the required-files step.
var requiredRootFiles = []sizedFile{
	{"colorized-realtime.las", 1 << 20, 1 << 30},
	{"metadata.yaml", 100, 10 << 10},
	{"Preview.jpg", 1 << 10, 10 << 20},
	{"Preview.pcd", 1 << 10, 100 << 20},
}

// requiredInfoFiles is checked as part of the required-files step.
var requiredInfoFiles = []string{"calibration.json", "device_info.json", "rtk_info.json"}

// dataBagCandidates lists the two acceptable names for the primary
// sensor bag file; at least one of them must exist, sized [1MiB, 2GiB].
// When both exist, only the first one found (data_0) is size-checked.
var dataBagCandidates = []string{"data_0", "data_0.bag"}

const (
	dataBagMinBytes = 1 << 20
	dataBagMaxBytes = 2 << 30
)

// Validator implements validation.BaseValidator for MetaCam packages.
type Validator struct{}

// New returns a MetaCam Validator.
func New() *Validator {
	return &Validator{}
}

// SupportedFormats reports the single format name this validator handles.
func (v *Validator) SupportedFormats() map[string]struct{} {
	return map[string]struct{}{"metacam": {}}
}

// Validate runs the ordered accumulating checks and never panics across
// its boundary: any unexpected failure is captured and reported as a
// critical error rather than propagated.
func (v *Validator) Validate(rootPath string, level validation.Level) (result validation.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = validation.Result{
				IsValid:       false,
				Score:         0,
				ValidatorType: validatorTypeName,
				Summary:       validation.TruncateSummary(fmt.Sprintf("validator panicked: %v", r)),
				Errors: []validation.Issue{{
					Code: "INTERNAL_ERROR", Message: fmt.Sprintf("%v", r), Severity: validation.SeverityCritical,
				}},
			}
		}
	}()

	scorer := validation.NewScorer()
	var errs, warns []validation.Issue
	metadata := map[string]any{}

	checkStructure(rootPath, scorer, &errs)
	checkRequiredFiles(rootPath, scorer, &errs)
	checkOptionalFiles(rootPath, scorer, &warns)

	desc, pcdRes := checkContentAndScale(rootPath, scorer, &errs, &warns, metadata)

	if desc != nil {
		applyDurationClassification(*desc, scorer, &errs, &warns, metadata)
	}

	checkDeviceInfo(rootPath, scorer, &errs, &warns, metadata)
	applyPackageSize(rootPath, &warns, metadata)

	errs = validation.Dedup(errs)
	warns = validation.Dedup(warns)

	score := scorer.Score()
	isValid := validation.EvaluateLevel(level, errs, score)

	summary := summarize(isValid, len(errs), len(warns), score)

	_ = pcdRes

	return validation.Result{
		IsValid:       isValid,
		Score:         score,
		Errors:        errs,
		Warnings:      warns,
		Summary:       validation.TruncateSummary(summary),
		ValidatorType: validatorTypeName,
		Metadata:      metadata,
	}
}

func checkStructure(root string, scorer *validation.Scorer, errs *[]validation.Issue) {
	for _, dir := range requiredDirs {
		path := filepath.Join(root, dir)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			scorer.MissingRequiredFile()
			*errs = append(*errs, validation.Issue{
				Code: "MISSING_DIRECTORY", Message: fmt.Sprintf("required directory %q is missing", dir),
				Path: dir, Severity: validation.SeverityCritical,
			})
		}
	}
}

func checkRequiredFiles(root string, scorer *validation.Scorer, errs *[]validation.Issue) {
	for _, f := range requiredRootFiles {
		checkSizedFile(filepath.Join(root, f.name), f.name, f.minBytes, f.maxBytes, scorer, errs)
	}

	for _, name := range requiredInfoFiles {
		path := filepath.Join(root, "info", name)
		if _, err := os.Stat(path); err != nil {
			scorer.MissingRequiredFile()
			*errs = append(*errs, validation.Issue{
				Code: "MISSING_FILE", Message: fmt.Sprintf("required file %q is missing", name),
				Path: filepath.Join("info", name), Severity: validation.SeverityError,
			})
		}
	}

	found := false
	for _, candidate := range dataBagCandidates {
		path := filepath.Join(root, "data", candidate)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		found = true
		if info.Size() < dataBagMinBytes || info.Size() > dataBagMaxBytes {
			scorer.SizeRangeBreach()
			*errs = append(*errs, validation.Issue{
				Code: "SIZE_OUT_OF_RANGE", Message: fmt.Sprintf("%s size %d bytes is outside [%d, %d]", candidate, info.Size(), dataBagMinBytes, dataBagMaxBytes),
				Path: filepath.Join("data", candidate), Severity: validation.SeverityError,
			})
		}
		break
	}
	if !found {
		scorer.MissingRequiredFile()
		*errs = append(*errs, validation.Issue{
			Code: "MISSING_FILE", Message: "neither data/data_0 nor data/data_0.bag is present",
			Path: "data", Severity: validation.SeverityCritical,
		})
	}
}

func checkSizedFile(path, name string, minBytes, maxBytes int64, scorer *validation.Scorer, errs *[]validation.Issue) {
	info, err := os.Stat(path)
	if err != nil {
		scorer.MissingRequiredFile()
		*errs = append(*errs, validation.Issue{
			Code: "MISSING_FILE", Message: fmt.Sprintf("required file %q is missing", name),
			Path: name, Severity: validation.SeverityError,
		})
		return
	}
	if info.Size() < minBytes || info.Size() > maxBytes {
		scorer.SizeRangeBreach()
		*errs = append(*errs, validation.Issue{
			Code: "SIZE_OUT_OF_RANGE", Message: fmt.Sprintf("%s size %d bytes is outside [%d, %d]", name, info.Size(), minBytes, maxBytes),
			Path: name, Severity: validation.SeverityError,
		})
	}
}

// checkOptionalFiles is a no-op placeholder: spec.md names no optional
// files for the MetaCam layout, so this step exists only to preserve
// the documented check ordering for future additions.
func checkOptionalFiles(root string, scorer *validation.Scorer, warns *[]validation.Issue) {}

func checkContentAndScale(root string, scorer *validation.Scorer, errs, warns *[]validation.Issue, metadata map[string]any) (*metadatadesc.Descriptor, *pointcloud.Result) {
	metaPath := filepath.Join(root, "metadata.yaml")
	raw, err := os.ReadFile(metaPath)
	var desc *metadatadesc.Descriptor
	if err != nil {
		scorer.ContentParseFailure()
		*errs = append(*errs, validation.Issue{
			Code: "METADATA_UNREADABLE", Message: err.Error(), Path: "metadata.yaml", Severity: validation.SeverityError,
		})
	} else {
		d, err := metadatadesc.Parse(raw, "")
		if err != nil {
			scorer.ContentParseFailure()
			*errs = append(*errs, validation.Issue{
				Code: "METADATA_PARSE_FAILED", Message: err.Error(), Path: "metadata.yaml", Severity: validation.SeverityError,
			})
		} else {
			desc = d
			for _, w := range d.Warnings {
				scorer.Warning()
				*warns = append(*warns, validation.Issue{Code: "METADATA_WARNING", Message: w, Path: "metadata.yaml", Severity: validation.SeverityWarning})
			}
			metadata["extracted_metadata"] = map[string]any{
				"start_time":       d.StartTime,
				"duration_seconds": d.DurationSeconds,
				"location":         map[string]any{"lat": d.Location.Lat, "lon": d.Location.Lon},
			}
		}
	}

	pcdPath := filepath.Join(root, "Preview.pcd")
	pcdRes := pointcloud.Probe(pcdPath)
	if pcdRes.Status == pointcloud.StatusError || pcdRes.Status == pointcloud.StatusNotFound {
		scorer.ContentParseFailure()
		*errs = append(*errs, validation.Issue{
			Code: "PCD_PARSE_FAILED", Message: pcdRes.Error, Path: "Preview.pcd", Severity: validation.SeverityError,
		})
	} else if isWarningStatus(pcdRes.Status) {
		scorer.Warning()
		*warns = append(*warns, validation.Issue{
			Code: "PCD_SCALE_WARNING", Message: fmt.Sprintf("point cloud scale status %s", pcdRes.Status), Path: "Preview.pcd", Severity: validation.SeverityWarning,
		})
	}
	metadata["pcd_scale"] = map[string]any{
		"status":        pcdRes.Status,
		"width_m":       pcdRes.WidthM,
		"height_m":      pcdRes.HeightM,
		"depth_m":       pcdRes.DepthM,
		"area_sqm":      pcdRes.AreaSqM,
		"points_parsed": pcdRes.PointsParsed,
	}

	return desc, &pcdRes
}

func isWarningStatus(s pointcloud.Status) bool {
	switch s {
	case pointcloud.StatusWarningSmall, pointcloud.StatusWarningLarge, pointcloud.StatusWarningNarrow:
		return true
	}
	return false
}

func applyDurationClassification(desc metadatadesc.Descriptor, scorer *validation.Scorer, errs, warns *[]validation.Issue, metadata map[string]any) {
	switch desc.DurationStatus {
	case metadatadesc.DurationErrorTooShort:
		scorer.ContentParseFailure()
		*errs = append(*errs, validation.Issue{
			Code: "DURATION_TOO_SHORT", Message: fmt.Sprintf("recording duration classification %s is fatal", desc.DurationStatus),
			Path: "metadata.yaml", Severity: validation.SeverityCritical,
		})
	case metadatadesc.DurationErrorTooLong:
		scorer.ContentParseFailure()
		*errs = append(*errs, validation.Issue{
			Code: "DURATION_TOO_LONG", Message: fmt.Sprintf("recording duration classification %s is fatal", desc.DurationStatus),
			Path: "metadata.yaml", Severity: validation.SeverityCritical,
		})
	case metadatadesc.DurationWarningShort, metadatadesc.DurationWarningLong:
		scorer.Warning()
		*warns = append(*warns, validation.Issue{
			Code: "DURATION_WARNING", Message: fmt.Sprintf("recording duration classification %s", desc.DurationStatus),
			Path: "metadata.yaml", Severity: validation.SeverityWarning,
		})
	}

	if em, ok := metadata["extracted_metadata"].(map[string]any); ok {
		em["duration_status"] = desc.DurationStatus
	}
}

// checkDeviceInfo reads info/device_info.json independently of
// metadata.yaml and populates metadata["device"]. A missing file is a
// warning, not a fatal error: the required-files step already flags its
// absence at SeverityError, so this step degrades to an empty device
// record rather than double-reporting.
func checkDeviceInfo(root string, scorer *validation.Scorer, errs, warns *[]validation.Issue, metadata map[string]any) {
	path := filepath.Join("info", "device_info.json")
	raw, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		scorer.Warning()
		*warns = append(*warns, validation.Issue{
			Code: "DEVICE_INFO_MISSING", Message: "device_info.json file not found", Path: path, Severity: validation.SeverityWarning,
		})
		metadata["device"] = map[string]any{"model": "", "sn": "", "id": nil}
		return
	}

	device, deviceWarnings, err := metadatadesc.ParseDeviceInfo(raw)
	if err != nil {
		scorer.ContentParseFailure()
		*errs = append(*errs, validation.Issue{
			Code: "DEVICE_INFO_PARSE_FAILED", Message: err.Error(), Path: path, Severity: validation.SeverityError,
		})
		metadata["device"] = map[string]any{"model": "", "sn": "", "id": nil}
		return
	}
	for _, w := range deviceWarnings {
		scorer.Warning()
		*warns = append(*warns, validation.Issue{Code: "DEVICE_INFO_WARNING", Message: w, Path: path, Severity: validation.SeverityWarning})
	}

	deviceMeta := map[string]any{"model": device.Model, "sn": device.SN}
	if id, ok := device.ID(); ok {
		deviceMeta["id"] = id
	} else {
		deviceMeta["id"] = nil
	}
	metadata["device"] = deviceMeta
}

// applyPackageSize walks rootPath and records the total size of the
// extracted package in metadata["size"], independent of the Archive
// Inspector's own byte count computed earlier in the pipeline.
func applyPackageSize(root string, warns *[]validation.Issue, metadata map[string]any) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		*warns = append(*warns, validation.Issue{
			Code: "SIZE_COMPUTE_FAILED", Message: err.Error(), Severity: validation.SeverityWarning,
		})
		return
	}
	metadata["size"] = map[string]any{"total_bytes": total}
}

func summarize(isValid bool, errCount, warnCount int, score float64) string {
	status := "valid"
	if !isValid {
		status = "invalid"
	}
	return fmt.Sprintf("MetaCam package is %s (score=%.0f, errors=%d, warnings=%d)", status, score, errCount, warnCount)
}
