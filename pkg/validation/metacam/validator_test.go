package metacam

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

const goodMetadata = `record:
  start_time: "2024-05-01T10:00:00Z"
  duration: 330
  location:
    lat: 37.7749
    lon: -122.4194
`

const goodDeviceInfo = `{"model":"MetaCam2","SN":"ABC123"}`

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data := make([]byte, size)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeText(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func asciiPCD(points int) string {
	out := "# .PCD v0.7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH " +
		itoa(points) + "\nHEIGHT 1\nPOINTS " + itoa(points) + "\nDATA ascii\n"
	for i := 0; i < points; i++ {
		out += "0.0 0.0 0.0\n120.0 100.0 0.0\n"
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func buildCompletePackage(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "colorized-realtime.las"), 2<<20)
	writeText(t, filepath.Join(root, "metadata.yaml"), goodMetadata)
	writeFile(t, filepath.Join(root, "Preview.jpg"), 2<<10)
	writeText(t, filepath.Join(root, "Preview.pcd"), asciiPCD(2))

	writeFile(t, filepath.Join(root, "data", "data_0"), 2<<20)
	writeFile(t, filepath.Join(root, "info", "calibration.json"), 100)
	writeText(t, filepath.Join(root, "info", "device_info.json"), goodDeviceInfo)
	writeFile(t, filepath.Join(root, "info", "rtk_info.json"), 100)

	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatal(err)
	}

	return root
}

func TestValidate_CompletePackagePassesStandard(t *testing.T) {
	root := buildCompletePackage(t)
	res := New().Validate(root, validation.LevelStandard)

	if !res.IsValid {
		t.Fatalf("expected a complete package to be valid at STANDARD, got errors=%+v score=%v", res.Errors, res.Score)
	}
	if res.ValidatorType != "MetaCam" {
		t.Errorf("unexpected validator type %q", res.ValidatorType)
	}
	if res.Metadata["device"] == nil {
		t.Error("expected device metadata to be populated")
	}
}

func TestValidate_MissingDirectoryIsCritical(t *testing.T) {
	root := buildCompletePackage(t)
	if err := os.RemoveAll(filepath.Join(root, "images")); err != nil {
		t.Fatal(err)
	}

	res := New().Validate(root, validation.LevelStandard)
	if res.IsValid {
		t.Fatal("expected missing required directory to invalidate the package at STANDARD")
	}

	found := false
	for _, e := range res.Errors {
		if e.Code == "MISSING_DIRECTORY" && e.Severity == validation.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a critical MISSING_DIRECTORY issue, got %+v", res.Errors)
	}
}

func TestValidate_OversizedRootFileIsPenalized(t *testing.T) {
	root := buildCompletePackage(t)
	writeFile(t, filepath.Join(root, "Preview.jpg"), 20<<20)

	res := New().Validate(root, validation.LevelLenient)
	found := false
	for _, e := range res.Errors {
		if e.Code == "SIZE_OUT_OF_RANGE" && e.Path == "Preview.jpg" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an oversized Preview.jpg to raise SIZE_OUT_OF_RANGE, got %+v", res.Errors)
	}
}

func TestValidate_MissingMetadataFailsContentParse(t *testing.T) {
	root := buildCompletePackage(t)
	if err := os.Remove(filepath.Join(root, "metadata.yaml")); err != nil {
		t.Fatal(err)
	}

	res := New().Validate(root, validation.LevelStandard)
	foundMissing := false
	for _, e := range res.Errors {
		if e.Code == "MISSING_FILE" && e.Path == "metadata.yaml" {
			foundMissing = true
		}
	}
	if !foundMissing {
		t.Errorf("expected missing metadata.yaml to raise MISSING_FILE, got %+v", res.Errors)
	}
	foundUnreadable := false
	for _, e := range res.Errors {
		if e.Code == "METADATA_UNREADABLE" && e.Path == "metadata.yaml" {
			foundUnreadable = true
		}
	}
	if !foundUnreadable {
		t.Errorf("expected missing metadata.yaml to fail the content parse step with METADATA_UNREADABLE, got %+v", res.Errors)
	}
}

func TestValidate_DurationTooShortIsFatal(t *testing.T) {
	root := buildCompletePackage(t)
	writeText(t, filepath.Join(root, "metadata.yaml"), `record:
  start_time: "2024-05-01T10:00:00Z"
  duration: 60
`)

	res := New().Validate(root, validation.LevelLenient)
	found := false
	for _, e := range res.Errors {
		if e.Code == "DURATION_TOO_SHORT" && e.Severity == validation.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a too-short duration to raise a critical DURATION_TOO_SHORT issue, got %+v", res.Errors)
	}
	if res.IsValid {
		t.Error("expected a critical duration error to invalidate the package at LENIENT")
	}
}

func TestValidate_DeviceIDConstructedWhenBothPartsPresent(t *testing.T) {
	root := buildCompletePackage(t)
	res := New().Validate(root, validation.LevelStandard)

	device, ok := res.Metadata["device"].(map[string]any)
	if !ok {
		t.Fatal("expected device metadata map")
	}
	if device["id"] != "MetaCam2-ABC123" {
		t.Errorf("expected constructed device id, got %v", device["id"])
	}
}

func TestValidate_DeviceIDMissingFileWarns(t *testing.T) {
	root := buildCompletePackage(t)
	if err := os.Remove(filepath.Join(root, "info", "device_info.json")); err != nil {
		t.Fatal(err)
	}

	res := New().Validate(root, validation.LevelLenient)
	found := false
	for _, w := range res.Warnings {
		if w.Code == "DEVICE_INFO_MISSING" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a DEVICE_INFO_MISSING warning, got %+v", res.Warnings)
	}
	device, ok := res.Metadata["device"].(map[string]any)
	if !ok || device["id"] != nil {
		t.Errorf("expected an empty device record when device_info.json is missing, got %v", res.Metadata["device"])
	}
}

func TestValidate_PopulatesSize(t *testing.T) {
	root := buildCompletePackage(t)
	res := New().Validate(root, validation.LevelStandard)

	size, ok := res.Metadata["size"].(map[string]any)
	if !ok {
		t.Fatal("expected size metadata map")
	}
	total, ok := size["total_bytes"].(int64)
	if !ok || total <= 0 {
		t.Errorf("expected a positive total_bytes, got %v", size["total_bytes"])
	}
}

func TestValidate_NeverPanicsOnMissingRoot(t *testing.T) {
	res := New().Validate(filepath.Join(t.TempDir(), "does-not-exist"), validation.LevelLenient)
	if res.IsValid {
		t.Error("expected a nonexistent root to be invalid")
	}
}
