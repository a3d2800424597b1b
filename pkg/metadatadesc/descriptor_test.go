package metadatadesc

import (
	"testing"

	"golang.org/x/text/encoding/charmap"
)

const optimalYAML = `
record:
  start_time: "2026-01-05T10:00:00Z"
  duration: 330
  location:
    lat: 37.7749
    lon: -122.4194
`

func TestParse_OptimalDuration(t *testing.T) {
	d, err := Parse([]byte(optimalYAML), "")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if d.DurationStatus != DurationOptimal {
		t.Errorf("expected optimal duration, got %s", d.DurationStatus)
	}
	if !d.IsOutdoor() {
		t.Error("expected outdoor classification when a GPS fix is present")
	}
}

func TestParse_DurationTooShortIsFatal(t *testing.T) {
	d, err := Parse([]byte("record:\n  duration: 100\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	if d.DurationStatus != DurationErrorTooShort {
		t.Errorf("expected error_too_short, got %s", d.DurationStatus)
	}
}

func TestParse_DurationTooLongIsFatal(t *testing.T) {
	d, err := Parse([]byte("record:\n  duration: 700\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	if d.DurationStatus != DurationErrorTooLong {
		t.Errorf("expected error_too_long, got %s", d.DurationStatus)
	}
}

func TestParse_NoLocationIsIndoor(t *testing.T) {
	d, err := Parse([]byte("record:\n  duration: 330\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	if d.IsOutdoor() {
		t.Error("expected indoor classification when no GPS fix is present")
	}
}

func TestParse_Latin1DescriptorIsDecoded(t *testing.T) {
	yamlText := "record:\n  duration: 330\n  location:\n    lat: 1.0\n    lon: 2.0\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(yamlText)
	if err != nil {
		t.Fatal(err)
	}

	d, err := Parse([]byte(encoded), "iso-8859-1")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if d.DurationSeconds != 330 {
		t.Errorf("expected duration 330 after decoding, got %v", d.DurationSeconds)
	}
}

func TestParseDeviceInfo_BothFieldsPresent(t *testing.T) {
	device, warnings, err := ParseDeviceInfo([]byte(`{"model":"MC-200","SN":"SN12345"}`))
	if err != nil {
		t.Fatalf("ParseDeviceInfo returned error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	id, ok := device.ID()
	if !ok || id != "MC-200-SN12345" {
		t.Errorf("expected device id MC-200-SN12345, got %q ok=%v", id, ok)
	}
}

func TestParseDeviceInfo_MissingSNWarns(t *testing.T) {
	device, warnings, err := ParseDeviceInfo([]byte(`{"model":"MC-200"}`))
	if err != nil {
		t.Fatalf("ParseDeviceInfo returned error: %v", err)
	}
	if _, ok := device.ID(); ok {
		t.Error("expected device id construction to fail without a serial number")
	}
	if len(warnings) == 0 {
		t.Error("expected a warning about the missing SN field")
	}
}

func TestParseDeviceInfo_MissingModelWarns(t *testing.T) {
	device, warnings, err := ParseDeviceInfo([]byte(`{"SN":"SN12345"}`))
	if err != nil {
		t.Fatalf("ParseDeviceInfo returned error: %v", err)
	}
	if _, ok := device.ID(); ok {
		t.Error("expected device id construction to fail without a model")
	}
	if len(warnings) == 0 {
		t.Error("expected a warning about the missing model field")
	}
}

func TestParseDeviceInfo_BothMissingWarns(t *testing.T) {
	device, warnings, err := ParseDeviceInfo([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseDeviceInfo returned error: %v", err)
	}
	if _, ok := device.ID(); ok {
		t.Error("expected device id construction to fail with no fields")
	}
	if len(warnings) != 1 {
		t.Errorf("expected exactly one warning naming both fields missing, got %v", warnings)
	}
}

func TestParseDeviceInfo_MalformedJSONIsError(t *testing.T) {
	if _, _, err := ParseDeviceInfo([]byte(`not json`)); err == nil {
		t.Error("expected an error for malformed device_info.json content")
	}
}
