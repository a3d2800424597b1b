package localdrive

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/otherjamesbrown/metacam-ingest/pkg/sheets"
)

func TestSheetAppendRowsWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.csv")
	s := NewSheet(path)

	row := sheets.BuildRow(sheets.RowData{
		UploadTime: "2026-08-06T00:00:00Z",
		FileID:     "cap-1",
		FileName:   "capture-001.zip",
		Status:     sheets.StatusOptimal,
	})

	if err := s.AppendRows(context.Background(), "Ingest", []sheets.Row{row}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
	if err := s.AppendRows(context.Background(), "Ingest", []sheets.Row{row}); err != nil {
		t.Fatalf("second AppendRows() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (1 header + 2 rows)", len(records))
	}
	if records[0][0] != sheets.Columns()[0] {
		t.Errorf("header row = %v, want columns to start with %q", records[0], sheets.Columns()[0])
	}
	if records[1][0] != "cap-1" {
		t.Errorf("row file id = %q, want cap-1", records[1][0])
	}
}
