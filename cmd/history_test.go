package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/otherjamesbrown/metacam-ingest/pkg/audit"
)

func TestNewHistoryCommand(t *testing.T) {
	c := NewHistoryCommand(nil)
	if c == nil {
		t.Fatal("NewHistoryCommand() returned nil")
	}
	if c.Use != "history" {
		t.Errorf("Use = %q, want history", c.Use)
	}

	var recent, show *bool
	for _, sub := range c.Commands() {
		switch sub.Use {
		case "recent":
			recent = new(bool)
			*recent = true
		case "show <remote-id>":
			show = new(bool)
			*show = true
		}
	}
	if recent == nil {
		t.Error("recent subcommand not registered")
	}
	if show == nil {
		t.Error("show subcommand not registered")
	}

	if c.PersistentFlags().Lookup("limit") == nil {
		t.Error("missing --limit flag")
	}
}

func TestPrintHistoryTable(t *testing.T) {
	score := 0.87
	entries := []audit.Entry{
		{
			RecordedAt:      time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC),
			RemoteID:        "cap-1",
			PackageName:     "capture-001.zip",
			State:           "processed",
			Outcome:         "success",
			ValidationScore: &score,
		},
		{
			RecordedAt:  time.Date(2026, 8, 6, 12, 5, 0, 0, time.UTC),
			RemoteID:    "cap-2",
			PackageName: "capture-002.zip",
			State:       "failed",
			Outcome:     "error",
		},
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	printHistoryTable(entries)
	w.Close()
	os.Stdout = orig

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()

	if !strings.Contains(out, "cap-1") || !strings.Contains(out, "cap-2") {
		t.Errorf("output missing expected remote ids: %s", out)
	}
	if !strings.Contains(out, "0.9") && !strings.Contains(out, "0.87") {
		t.Errorf("output missing formatted score: %s", out)
	}
	if !strings.Contains(out, "N/A") {
		t.Errorf("output missing N/A for unset score: %s", out)
	}
}
