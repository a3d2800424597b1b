package sheets

import "fmt"

// Color is a cell background color, one of the four documented status
// colors. The zero value ColorNone leaves the cell unformatted.
type Color int

const (
	ColorNone Color = iota
	ColorGreen
	ColorYellow
	ColorRed
	ColorGray
)

// Status is the coarse health verdict a terminal package outcome maps
// to; it decides the row's background color, not its text — it has no
// column of its own in the fixed schema below.
type Status string

const (
	StatusOptimal Status = "optimal"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// StatusColor implements the documented status→color mapping.
func StatusColor(s Status) Color {
	switch s {
	case StatusOptimal:
		return ColorGreen
	case StatusWarning:
		return ColorYellow
	case StatusError:
		return ColorRed
	default:
		return ColorGray
	}
}

// naValue is rendered for any missing column value.
const naValue = "N/A"

// columns is the fixed, ordered 23-column row schema. Every RowData is
// rendered into exactly these columns, in this order; adding a column
// means extending both this slice and BuildRow together.
var columns = []string{
	"File ID",
	"File Name",
	"Upload Time",
	"File Size (MiB)",
	"File Type",
	"Extract Status",
	"File Count",
	"Process Time",
	"Validation Score",
	"Start Time",
	"Duration (HH:MM:SS)",
	"Location",
	"Scene Type",
	"Size Status",
	"PCD Scale",
	"Device ID",
	"Transient Decision",
	"WDD",
	"WPO",
	"SAI",
	"Error Message",
	"Warning Message",
	"Notes",
}

// Columns returns the fixed column headers, in order.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// RowData is the data one terminal package outcome contributes to a
// sheet row. Pointer and zero-value fields that were never populated
// render as "N/A" rather than an empty cell, so a reader can always
// tell "not applicable" from "zero". Status drives the row's uniform
// background color; it is not itself a column.
type RowData struct {
	Status Status

	FileID      string
	FileName    string
	UploadTime  string
	FileSizeMiB *float64
	FileType    string

	ExtractStatus string
	FileCount     *int

	ProcessTimeSecs *float64
	ValidationScore *float64
	StartTime       string
	DurationSeconds *float64
	Location        string
	SceneType       string
	SizeStatus      string
	PCDScale        string
	DeviceID        string

	TransientDecision string
	WDD               *float64
	WPO               *float64
	SAI               *float64

	ErrorMessage   string
	WarningMessage string
	Notes          string
}

// Row is one rendered sheet row: one Cell per column, in column order.
type Row []Cell

// Cell is one rendered value with its background color.
type Cell struct {
	Value string
	Color Color
}

// BuildRow renders d into the fixed column order, applying the
// documented status→color mapping to the whole row (a Sheets row is
// colored uniformly by its outcome, not cell-by-cell).
func BuildRow(d RowData) Row {
	color := StatusColor(d.Status)
	cell := func(v string) Cell {
		if v == "" {
			v = naValue
		}
		return Cell{Value: v, Color: color}
	}
	cellf := func(v *float64) Cell {
		if v == nil {
			return Cell{Value: naValue, Color: color}
		}
		return Cell{Value: formatFloat(*v), Color: color}
	}
	celli := func(v *int) Cell {
		if v == nil {
			return Cell{Value: naValue, Color: color}
		}
		return Cell{Value: formatInt(int64(*v)), Color: color}
	}
	cellDuration := func(v *float64) Cell {
		if v == nil {
			return Cell{Value: naValue, Color: color}
		}
		return Cell{Value: formatHHMMSS(*v), Color: color}
	}

	return Row{
		cell(d.FileID),
		cell(d.FileName),
		cell(d.UploadTime),
		cellf(d.FileSizeMiB),
		cell(d.FileType),
		cell(d.ExtractStatus),
		celli(d.FileCount),
		cellf(d.ProcessTimeSecs),
		cellf(d.ValidationScore),
		cell(d.StartTime),
		cellDuration(d.DurationSeconds),
		cell(d.Location),
		cell(d.SceneType),
		cell(d.SizeStatus),
		cell(d.PCDScale),
		cell(d.DeviceID),
		cell(d.TransientDecision),
		cellf(d.WDD),
		cellf(d.WPO),
		cellf(d.SAI),
		cell(d.ErrorMessage),
		cell(d.WarningMessage),
		cell(d.Notes),
	}
}

// formatHHMMSS renders a duration given in seconds as HH:MM:SS,
// truncating any fractional remainder.
func formatHHMMSS(seconds float64) string {
	total := int64(seconds)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
