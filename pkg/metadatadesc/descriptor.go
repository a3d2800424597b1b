// Package metadatadesc parses a MetaCam package's recording descriptor
// (metadata.yaml) and classifies the recording's duration.
package metadatadesc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// DurationStatus classifies a recording's duration against the target
// capture window.
type DurationStatus string

const (
	DurationOptimal       DurationStatus = "optimal"
	DurationWarningShort  DurationStatus = "warning_short"
	DurationWarningLong   DurationStatus = "warning_long"
	DurationErrorTooShort DurationStatus = "error_too_short"
	DurationErrorTooLong  DurationStatus = "error_too_long"
)

// Location is the recording's GPS fix, if any. Absence of a fix (both
// fields nil) is the signal this package treats as "recorded indoors" —
// spec.md does not name an explicit indoor/outdoor field, so a GPS fix
// is used as the proxy (see DESIGN.md).
type Location struct {
	Lat *float64
	Lon *float64
}

// HasFix reports whether both latitude and longitude were recorded.
func (l Location) HasFix() bool {
	return l.Lat != nil && l.Lon != nil
}

// Device identifies the capture hardware. ID is constructed as
// "{model}-{sn}" when both are present.
type Device struct {
	Model string
	SN    string
}

// ID returns the composite device identifier, or empty plus false when
// either component is missing.
func (d Device) ID() (string, bool) {
	if d.Model == "" || d.SN == "" {
		return "", false
	}
	return fmt.Sprintf("%s-%s", d.Model, d.SN), true
}

// Descriptor is the parsed content of a recording descriptor file
// (metadata.yaml). Device identity is not part of metadata.yaml — it
// lives in info/device_info.json and is parsed separately by
// ParseDeviceInfo.
type Descriptor struct {
	StartTime       string
	DurationSeconds float64
	Location        Location

	DurationStatus DurationStatus
	Warnings       []string
}

// IsOutdoor reports whether the recording should be treated as an
// outdoor scene for scene-type selection and transient-metric preset
// purposes.
func (d Descriptor) IsOutdoor() bool {
	return d.Location.HasFix()
}

// yamlRecord mirrors metadata.yaml's record.* structure.
type yamlRecord struct {
	Record struct {
		StartTime string  `yaml:"start_time"`
		Duration  float64 `yaml:"duration"`
		Location  struct {
			Lat *float64 `yaml:"lat"`
			Lon *float64 `yaml:"lon"`
		} `yaml:"location"`
	} `yaml:"record"`
}

// Parse decodes raw recording descriptor bytes. Non-UTF-8 content is
// decoded on a best-effort basis via charsetHint before falling back to
// treating the bytes as Latin-1, the most permissive of the supported
// legacy encodings.
func Parse(raw []byte, charsetHint string) (*Descriptor, error) {
	decoded, err := decodeToUTF8(raw, charsetHint)
	if err != nil {
		return nil, fmt.Errorf("decoding recording descriptor: %w", err)
	}

	var yr yamlRecord
	if err := yaml.Unmarshal(decoded, &yr); err != nil {
		return nil, fmt.Errorf("parsing recording descriptor: %w", err)
	}

	d := &Descriptor{
		StartTime:       yr.Record.StartTime,
		DurationSeconds: yr.Record.Duration,
		Location:        Location{Lat: yr.Record.Location.Lat, Lon: yr.Record.Location.Lon},
	}
	d.DurationStatus = classifyDuration(d.DurationSeconds)

	return d, nil
}

// deviceInfoJSON mirrors info/device_info.json's relevant fields.
type deviceInfoJSON struct {
	Model string `json:"model"`
	SN    string `json:"SN"`
}

// ParseDeviceInfo decodes info/device_info.json and reports the device
// identity plus any non-fatal warnings about missing fields. A malformed
// document is a hard error; a document missing model and/or SN yields a
// partial Device and a warning naming the missing field(s).
func ParseDeviceInfo(raw []byte) (Device, []string, error) {
	var di deviceInfoJSON
	if err := json.Unmarshal(raw, &di); err != nil {
		return Device{}, nil, fmt.Errorf("parsing device_info.json: %w", err)
	}

	device := Device{Model: di.Model, SN: di.SN}

	var warnings []string
	switch {
	case device.Model == "" && device.SN == "":
		warnings = append(warnings, "unable to construct device id: both model and SN are missing from device_info.json")
	case device.Model == "":
		warnings = append(warnings, "device_info.json missing 'model' field")
	case device.SN == "":
		warnings = append(warnings, "device_info.json missing 'SN' field")
	}

	return device, warnings, nil
}

func classifyDuration(seconds float64) DurationStatus {
	minutes := seconds / 60.0
	switch {
	case minutes < 3:
		return DurationErrorTooShort
	case minutes < 4.5:
		return DurationWarningShort
	case minutes <= 7:
		return DurationOptimal
	case minutes <= 9:
		return DurationWarningLong
	default:
		return DurationErrorTooLong
	}
}

// decodeToUTF8 returns raw unchanged when it is already valid UTF-8 or
// pure ASCII. Otherwise it decodes using charsetHint if recognized, or
// falls back to Latin-1.
func decodeToUTF8(raw []byte, charsetHint string) ([]byte, error) {
	if utf8.Valid(raw) {
		return raw, nil
	}

	hint := strings.ToLower(strings.TrimSpace(charsetHint))
	decoder := decoderFor(hint)
	if decoder == nil {
		decoder = charmap.ISO8859_1.NewDecoder()
	}

	reader := transform.NewReader(bytes.NewReader(raw), decoder)
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decoderFor(charset string) transform.Transformer {
	switch charset {
	case "iso-8859-1", "latin1", "iso_8859-1":
		return charmap.ISO8859_1.NewDecoder()
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder()
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS.NewDecoder()
	case "euc-jp":
		return japanese.EUCJP.NewDecoder()
	case "euc-kr":
		return korean.EUCKR.NewDecoder()
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK.NewDecoder()
	case "big5":
		return traditionalchinese.Big5.NewDecoder()
	default:
		return nil
	}
}
