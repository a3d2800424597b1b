package localdrive

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/otherjamesbrown/metacam-ingest/pkg/sheets"
)

// Sheet appends rows to a local CSV file, standing in for the cloud
// spreadsheet named by SPREADSHEET_ID. The header is written once, on
// first use.
type Sheet struct {
	path string
}

// NewSheet returns a Sheet backed by the file at path.
func NewSheet(path string) *Sheet {
	return &Sheet{path: path}
}

// AppendRows implements sheets.Client.
func (s *Sheet) AppendRows(ctx context.Context, sheetName string, rows []sheets.Row) error {
	writeHeader := false
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("localdrive: opening sheet file %s: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(sheets.Columns()); err != nil {
			return fmt.Errorf("localdrive: writing sheet header: %w", err)
		}
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = cell.Value
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("localdrive: writing sheet row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
